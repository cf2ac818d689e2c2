// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lbp

import (
	"fmt"
	"math/big"

	"github.com/daoleno/uniswapv3-sdk/constants"
	"github.com/daoleno/uniswapv3-sdk/utils"
	"github.com/ethereum/go-ethereum/common"
)

// Locker is a callback context for flash accounting. The pool manager
// executes LockAcquired with the payload handed to Lock; every token delta
// the locker accrues during the callback must be settled before it returns.
type Locker interface {
	LockerAddress() common.Address
	LockAcquired(payload any) error
}

// lockFrame tracks one entry on the locker stack
type lockFrame struct {
	locker Locker
	deltas map[Currency]*big.Int
}

// PoolManager is the singleton host AMM. All pools live in one instance:
// flash accounting nets token transfers per lock frame, and hooks observe
// pool lifecycle events. The manager is driven under a single transaction
// context at a time; callbacks re-enter it on the same goroutine, so lock
// frames form a stack rather than a mutex.
type PoolManager struct {
	addr   common.Address
	ledger Ledger

	// pools stores all pool states by pool ID
	pools map[[32]byte]*Pool

	// positions stores all liquidity positions
	// Key: BLAKE3(poolID || owner || tickLower || tickUpper)
	positions map[[32]byte]*Position

	// hooks maps registered hook addresses to their implementations
	hooks map[common.Address]Hooks

	// frames is the active locker stack
	frames []*lockFrame
}

// NewPoolManager creates a new pool manager instance
func NewPoolManager(addr common.Address, ledger Ledger) *PoolManager {
	return &PoolManager{
		addr:      addr,
		ledger:    ledger,
		pools:     make(map[[32]byte]*Pool),
		positions: make(map[[32]byte]*Position),
		hooks:     make(map[common.Address]Hooks),
	}
}

// RegisterHook registers a hook implementation at an address whose leading
// bytes encode its capabilities
func (pm *PoolManager) RegisterHook(addr common.Address, h Hooks) error {
	if GetHookPermissionsFromAddress(addr) == (HookPermissions{}) {
		return ErrHookInvalidAddress
	}
	pm.hooks[addr] = h
	return nil
}

// =========================================================================
// Pool Initialization
// =========================================================================

// Initialize creates and initializes a new pool
// Returns the tick corresponding to the starting price
func (pm *PoolManager) Initialize(
	sender common.Address,
	key PoolKey,
	sqrtPriceX96 *big.Int,
	hookData []byte,
) (int24, error) {
	if !key.sorted() {
		return 0, ErrCurrencyNotSorted
	}
	if key.Fee > FeeMax {
		return 0, ErrInvalidFee
	}
	if key.TickSpacing <= 0 {
		return 0, ErrTickNotAligned
	}
	if sqrtPriceX96 == nil || sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) > 0 {
		return 0, ErrInvalidSqrtPrice
	}

	poolID := key.ID()
	if pm.pools[poolID].IsInitialized() {
		return 0, ErrPoolAlreadyInitialized
	}

	tick, err := tickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return 0, err
	}

	pool := newPool()
	pool.SqrtPriceX96 = new(big.Int).Set(sqrtPriceX96)
	pool.Tick = tick
	pm.pools[poolID] = pool

	if HasPermission(key.Hooks, HookAfterInitialize) {
		h, ok := pm.hooks[key.Hooks]
		if !ok {
			delete(pm.pools, poolID)
			return 0, ErrHookNotRegistered
		}
		sel, err := h.AfterInitialize(sender, key, sqrtPriceX96, tick, hookData)
		if err != nil {
			// Hook rejection aborts the whole init; no pool state persists.
			delete(pm.pools, poolID)
			return 0, err
		}
		if sel != SigAfterInitialize {
			delete(pm.pools, poolID)
			return 0, ErrInvalidHookResponse
		}
	}

	return tick, nil
}

// =========================================================================
// Flash Accounting - Lock/Callback Pattern
// =========================================================================

// Lock pushes a callback context, executes the locker's LockAcquired with
// payload, and verifies every delta the frame accrued nets to zero. Locks
// nest: a hook running inside a host operation may acquire its own frame.
func (pm *PoolManager) Lock(l Locker, payload any) error {
	frame := &lockFrame{
		locker: l,
		deltas: make(map[Currency]*big.Int),
	}
	pm.frames = append(pm.frames, frame)
	defer func() {
		pm.frames = pm.frames[:len(pm.frames)-1]
	}()

	if err := l.LockAcquired(payload); err != nil {
		return err
	}

	for currency, delta := range frame.deltas {
		if delta.Sign() != 0 {
			return fmt.Errorf("%w: currency=%s, delta=%s",
				ErrNonZeroDelta, currency.Address.Hex(), delta.String())
		}
	}
	return nil
}

// currentFrame returns the innermost lock frame
func (pm *PoolManager) currentFrame() (*lockFrame, bool) {
	if len(pm.frames) == 0 {
		return nil, false
	}
	return pm.frames[len(pm.frames)-1], true
}

// updateDelta adjusts the current frame's balance delta for a currency
func (pm *PoolManager) updateDelta(frame *lockFrame, currency Currency, delta *big.Int) {
	current, ok := frame.deltas[currency]
	if !ok {
		current = big.NewInt(0)
	}
	frame.deltas[currency] = new(big.Int).Add(current, delta)
}

// Settle pays a positive delta: tokens move from the locker to the pool
func (pm *PoolManager) Settle(c Currency, amount *big.Int) error {
	frame, ok := pm.currentFrame()
	if !ok {
		return ErrUnauthorized
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if err := pm.ledger.Transfer(c, frame.locker.LockerAddress(), pm.addr, amount); err != nil {
		return err
	}
	pm.updateDelta(frame, c, new(big.Int).Neg(amount))
	return nil
}

// Take collects a negative delta: tokens move from the pool to the recipient
func (pm *PoolManager) Take(c Currency, to common.Address, amount *big.Int) error {
	frame, ok := pm.currentFrame()
	if !ok {
		return ErrUnauthorized
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if err := pm.ledger.Transfer(c, pm.addr, to, amount); err != nil {
		return err
	}
	pm.updateDelta(frame, c, amount)
	return nil
}

// =========================================================================
// Core Operations
// =========================================================================

// swapState carries the running totals of an in-progress swap
type swapState struct {
	amountRemaining  *big.Int
	amountCalculated *big.Int
	sqrtPriceX96     *big.Int
	tick             int24
	liquidity        *big.Int
}

// Swap executes a swap in a pool, walking initialized ticks until the
// specified amount is consumed or the sqrt price limit is reached
func (pm *PoolManager) Swap(key PoolKey, params SwapParams, hookData []byte) (BalanceDelta, error) {
	frame, ok := pm.currentFrame()
	if !ok {
		return ZeroBalanceDelta(), ErrUnauthorized
	}

	poolID := key.ID()
	pool := pm.pools[poolID]
	if !pool.IsInitialized() {
		return ZeroBalanceDelta(), ErrPoolNotInitialized
	}
	if params.AmountSpecified == nil {
		return ZeroBalanceDelta(), ErrInvalidAmount
	}

	if HasPermission(key.Hooks, HookBeforeSwap) {
		h, ok := pm.hooks[key.Hooks]
		if !ok {
			return ZeroBalanceDelta(), ErrHookNotRegistered
		}
		sel, err := h.BeforeSwap(frame.locker.LockerAddress(), key, params, hookData)
		if err != nil {
			return ZeroBalanceDelta(), err
		}
		if sel != SigBeforeSwap {
			return ZeroBalanceDelta(), ErrInvalidHookResponse
		}
	}

	// The hook may have moved the pool; all reads happen after it returns.
	limit := params.SqrtPriceLimitX96
	if limit == nil {
		if params.ZeroForOne {
			limit = new(big.Int).Add(MinSqrtRatio, big.NewInt(1))
		} else {
			limit = new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1))
		}
	}
	if params.ZeroForOne {
		if limit.Cmp(MinSqrtRatio) <= 0 || limit.Cmp(pool.SqrtPriceX96) >= 0 {
			return ZeroBalanceDelta(), fmt.Errorf("%w: limit=%s, price=%s",
				ErrInvalidSqrtPrice, limit, pool.SqrtPriceX96)
		}
	} else {
		if limit.Cmp(MaxSqrtRatio) >= 0 || limit.Cmp(pool.SqrtPriceX96) <= 0 {
			return ZeroBalanceDelta(), fmt.Errorf("%w: limit=%s, price=%s",
				ErrInvalidSqrtPrice, limit, pool.SqrtPriceX96)
		}
	}

	exactInput := params.AmountSpecified.Sign() > 0
	state := swapState{
		amountRemaining:  new(big.Int).Set(params.AmountSpecified),
		amountCalculated: big.NewInt(0),
		sqrtPriceX96:     new(big.Int).Set(pool.SqrtPriceX96),
		tick:             pool.Tick,
		liquidity:        new(big.Int).Set(pool.Liquidity),
	}

	for steps := 0; state.amountRemaining.Sign() != 0 && state.sqrtPriceX96.Cmp(limit) != 0; steps++ {
		if steps > 1000 {
			return ZeroBalanceDelta(), fmt.Errorf("excessive loop iterations in swap")
		}

		sqrtPriceStart := new(big.Int).Set(state.sqrtPriceX96)

		tickNext, initialized := pool.ticks.nextInitialized(state.tick, params.ZeroForOne)
		if tickNext < MinTick {
			tickNext = MinTick
		} else if tickNext > MaxTick {
			tickNext = MaxTick
		}
		sqrtPriceNext, err := sqrtRatioAtTick(tickNext)
		if err != nil {
			return ZeroBalanceDelta(), err
		}

		target := sqrtPriceNext
		if params.ZeroForOne {
			if sqrtPriceNext.Cmp(limit) < 0 {
				target = limit
			}
		} else {
			if sqrtPriceNext.Cmp(limit) > 0 {
				target = limit
			}
		}

		sqrtPriceAfter, amountIn, amountOut, feeAmount, err := utils.ComputeSwapStep(
			state.sqrtPriceX96,
			target,
			state.liquidity,
			state.amountRemaining,
			constants.FeeAmount(key.Fee),
		)
		if err != nil {
			return ZeroBalanceDelta(), err
		}
		state.sqrtPriceX96 = sqrtPriceAfter

		if exactInput {
			state.amountRemaining = new(big.Int).Sub(state.amountRemaining, new(big.Int).Add(amountIn, feeAmount))
			state.amountCalculated = new(big.Int).Sub(state.amountCalculated, amountOut)
		} else {
			state.amountRemaining = new(big.Int).Add(state.amountRemaining, amountOut)
			state.amountCalculated = new(big.Int).Add(state.amountCalculated, new(big.Int).Add(amountIn, feeAmount))
		}

		if state.sqrtPriceX96.Cmp(sqrtPriceNext) == 0 {
			if initialized {
				liquidityNet := pool.ticks.cross(tickNext)
				if params.ZeroForOne {
					liquidityNet = new(big.Int).Neg(liquidityNet)
				}
				state.liquidity = new(big.Int).Add(state.liquidity, liquidityNet)
			}
			if params.ZeroForOne {
				state.tick = tickNext - 1
			} else {
				state.tick = tickNext
			}
		} else if state.sqrtPriceX96.Cmp(sqrtPriceStart) != 0 {
			state.tick, err = tickAtSqrtRatio(state.sqrtPriceX96)
			if err != nil {
				return ZeroBalanceDelta(), err
			}
		}
	}

	pool.SqrtPriceX96 = state.sqrtPriceX96
	pool.Tick = state.tick
	pool.Liquidity = state.liquidity

	var amount0, amount1 *big.Int
	if params.ZeroForOne == exactInput {
		amount0 = new(big.Int).Sub(params.AmountSpecified, state.amountRemaining)
		amount1 = state.amountCalculated
	} else {
		amount0 = state.amountCalculated
		amount1 = new(big.Int).Sub(params.AmountSpecified, state.amountRemaining)
	}

	delta := NewBalanceDelta(amount0, amount1)
	pm.updateDelta(frame, key.Currency0, amount0)
	pm.updateDelta(frame, key.Currency1, amount1)

	return delta, nil
}

// ModifyLiquidity adds or removes liquidity from a pool. Amounts are
// rounded against the caller: adds round up, removes round down.
func (pm *PoolManager) ModifyLiquidity(key PoolKey, params ModifyLiquidityParams) (BalanceDelta, error) {
	frame, ok := pm.currentFrame()
	if !ok {
		return ZeroBalanceDelta(), ErrUnauthorized
	}

	if params.TickLower >= params.TickUpper {
		return ZeroBalanceDelta(), ErrInvalidTickRange
	}
	if params.TickLower < MinTick || params.TickUpper > MaxTick {
		return ZeroBalanceDelta(), ErrTickOutOfRange
	}
	if params.TickLower%key.TickSpacing != 0 || params.TickUpper%key.TickSpacing != 0 {
		return ZeroBalanceDelta(), ErrTickNotAligned
	}
	if params.LiquidityDelta == nil || params.LiquidityDelta.Sign() == 0 {
		return ZeroBalanceDelta(), ErrInvalidAmount
	}

	poolID := key.ID()
	pool := pm.pools[poolID]
	if !pool.IsInitialized() {
		return ZeroBalanceDelta(), ErrPoolNotInitialized
	}

	owner := frame.locker.LockerAddress()
	posKey := PositionKey(poolID, owner, params.TickLower, params.TickUpper)
	pos, ok := pm.positions[posKey]
	if !ok {
		pos = &Position{
			Owner:     owner,
			TickLower: params.TickLower,
			TickUpper: params.TickUpper,
			Liquidity: big.NewInt(0),
		}
	}
	newLiquidity := new(big.Int).Add(pos.Liquidity, params.LiquidityDelta)
	if newLiquidity.Sign() < 0 {
		return ZeroBalanceDelta(), ErrInsufficientLiquidity
	}

	sqrtLower, err := sqrtRatioAtTick(params.TickLower)
	if err != nil {
		return ZeroBalanceDelta(), err
	}
	sqrtUpper, err := sqrtRatioAtTick(params.TickUpper)
	if err != nil {
		return ZeroBalanceDelta(), err
	}

	adding := params.LiquidityDelta.Sign() > 0
	magnitude := new(big.Int).Abs(params.LiquidityDelta)

	amount0 := big.NewInt(0)
	amount1 := big.NewInt(0)
	switch {
	case pool.Tick < params.TickLower:
		// Range entirely above the current price: token0 only.
		amount0 = utils.GetAmount0Delta(sqrtLower, sqrtUpper, magnitude, adding)
	case pool.Tick < params.TickUpper:
		amount0 = utils.GetAmount0Delta(pool.SqrtPriceX96, sqrtUpper, magnitude, adding)
		amount1 = utils.GetAmount1Delta(sqrtLower, pool.SqrtPriceX96, magnitude, adding)
		pool.Liquidity = new(big.Int).Add(pool.Liquidity, params.LiquidityDelta)
	default:
		// Range entirely below the current price: token1 only.
		amount1 = utils.GetAmount1Delta(sqrtLower, sqrtUpper, magnitude, adding)
	}
	if !adding {
		amount0 = new(big.Int).Neg(amount0)
		amount1 = new(big.Int).Neg(amount1)
	}

	pool.ticks.update(params.TickLower, params.LiquidityDelta, false)
	pool.ticks.update(params.TickUpper, params.LiquidityDelta, true)

	pos.Liquidity = newLiquidity
	if pos.Liquidity.Sign() == 0 {
		delete(pm.positions, posKey)
	} else {
		pm.positions[posKey] = pos
	}

	delta := NewBalanceDelta(amount0, amount1)
	pm.updateDelta(frame, key.Currency0, amount0)
	pm.updateDelta(frame, key.Currency1, amount1)

	return delta, nil
}

// =========================================================================
// View Functions
// =========================================================================

// GetPool returns the current state of a pool
func (pm *PoolManager) GetPool(key PoolKey) (*Pool, error) {
	pool := pm.pools[key.ID()]
	if !pool.IsInitialized() {
		return nil, ErrPoolNotInitialized
	}
	return pool, nil
}

// GetPosition returns a liquidity position; absent positions read as empty
func (pm *PoolManager) GetPosition(key PoolKey, owner common.Address, tickLower, tickUpper int24) *Position {
	posKey := PositionKey(key.ID(), owner, tickLower, tickUpper)
	if pos, ok := pm.positions[posKey]; ok {
		return pos
	}
	return &Position{
		Owner:     owner,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Liquidity: big.NewInt(0),
	}
}
