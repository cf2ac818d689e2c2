// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lbp

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// poolState is the mutable bootstrap state of one pool. The schedule and
// owner are frozen at init; everything else evolves monotonically inside
// sync until exit latches the state closed.
type poolState struct {
	owner       common.Address
	schedule    LiquidityInfo
	epochSize   uint64
	tickSpacing int24
	key         PoolKey

	// amountCommitted is the cumulative token volume scheduled through the
	// last synced epoch, placed as liquidity or sold via forced sells.
	amountCommitted *big.Int

	// currentMinTick is the canonical lower bound of the outstanding
	// position. Starts at MaxTick and converges to MinTick at EndTime.
	currentMinTick int24

	// inSwap brackets an engine-initiated swap so the nested beforeSwap
	// callback short-circuits instead of recursing into sync.
	inSwap bool

	// exited latches the state closed after the owner withdraws.
	exited bool

	syncedEpochs map[uint64]bool
}

// Engine drives per-epoch liquidity placement for bootstrapping pools. One
// engine instance hosts any number of pools, keyed by pool ID. It hangs off
// the pool manager as a hook (afterInitialize + beforeSwap) and re-enters it
// as a locker for its own position changes and forced sells.
type Engine struct {
	addr   common.Address
	host   *PoolManager
	ledger Ledger
	log    *zap.Logger

	// now is the engine's clock; swapped out in tests
	now func() uint64

	states map[[32]byte]*poolState
}

// NewEngine creates an engine and registers it as a hook with the host. The
// engine address must encode the afterInitialize and beforeSwap
// capabilities.
func NewEngine(addr common.Address, host *PoolManager, ledger Ledger, log *zap.Logger) (*Engine, error) {
	if !HasPermission(addr, HookAfterInitialize) || !HasPermission(addr, HookBeforeSwap) {
		return nil, ErrHookInvalidAddress
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		addr:   addr,
		host:   host,
		ledger: ledger,
		log:    log,
		now:    func() uint64 { return uint64(time.Now().Unix()) },
		states: make(map[[32]byte]*poolState),
	}
	if err := host.RegisterHook(addr, e); err != nil {
		return nil, err
	}
	return e, nil
}

// LockerAddress implements Locker
func (e *Engine) LockerAddress() common.Address {
	return e.addr
}

// bootstrapCurrency returns the currency being bootstrapped
func bootstrapCurrency(key PoolKey, isToken0 bool) Currency {
	if isToken0 {
		return key.Currency0
	}
	return key.Currency1
}

// canonicalTick maps a host tick into the canonical orientation
func canonicalTick(hostTick int24, isToken0 bool) int24 {
	if isToken0 {
		return hostTick
	}
	return -hostTick
}

// positionTicks maps a canonical lower bound onto the host tick pair of the
// position, reflecting for the token1 orientation and snapping outward to
// the pool's tick spacing.
func (s *poolState) positionTicks(minTick int24) (int24, int24) {
	lower, upper := minTick, s.schedule.MaxTick
	if !s.schedule.IsToken0 {
		lower, upper = -upper, -minTick
	}
	return floorToSpacing(lower, s.tickSpacing), ceilToSpacing(upper, s.tickSpacing)
}

// =========================================================================
// Hook callbacks
// =========================================================================

// AfterInitialize receives the one-shot schedule payload: it validates the
// schedule, pulls the full bootstrap balance from the sender, and records
// the pool state. The sender becomes the owner.
func (e *Engine) AfterInitialize(sender common.Address, key PoolKey, sqrtPriceX96 *big.Int, tick int24, data []byte) ([4]byte, error) {
	li, epochSize, err := DecodeInitPayload(data)
	if err != nil {
		return [4]byte{}, err
	}
	if epochSize == 0 {
		return [4]byte{}, fmt.Errorf("%w: epoch size 0", ErrInvalidTimeRange)
	}
	if err := li.Validate(e.now(), key.TickSpacing); err != nil {
		return [4]byte{}, err
	}

	poolID := key.ID()
	if _, ok := e.states[poolID]; ok {
		return [4]byte{}, ErrPoolAlreadyInitialized
	}

	boot := bootstrapCurrency(key, li.IsToken0)
	if err := e.ledger.Transfer(boot, sender, e.addr, li.TotalAmount); err != nil {
		return [4]byte{}, err
	}

	e.states[poolID] = &poolState{
		owner:           sender,
		schedule:        li,
		epochSize:       epochSize,
		tickSpacing:     key.TickSpacing,
		key:             key,
		amountCommitted: big.NewInt(0),
		currentMinTick:  li.MaxTick,
		syncedEpochs:    make(map[uint64]bool),
	}

	e.log.Info("bootstrap schedule initialised",
		zap.String("total", li.TotalAmount.String()),
		zap.Uint32("start", li.StartTime),
		zap.Uint32("end", li.EndTime),
		zap.Int32("minTick", li.MinTick),
		zap.Int32("maxTick", li.MaxTick),
		zap.Bool("isToken0", li.IsToken0),
		zap.Uint64("epochSize", epochSize),
	)
	return SigAfterInitialize, nil
}

// BeforeSwap runs the epoch sync ahead of every externally-initiated swap.
// Engine-initiated swaps and pre-start or post-exit pools acknowledge
// without syncing.
func (e *Engine) BeforeSwap(sender common.Address, key PoolKey, params SwapParams, data []byte) ([4]byte, error) {
	s, ok := e.states[key.ID()]
	if !ok {
		return SigBeforeSwap, nil
	}
	if s.inSwap || s.exited || e.now() < uint64(s.schedule.StartTime) {
		return SigBeforeSwap, nil
	}
	if err := e.sync(s); err != nil {
		return [4]byte{}, err
	}
	return SigBeforeSwap, nil
}

// =========================================================================
// Public surface
// =========================================================================

// Sync reconciles the pool's position with the schedule for the current
// epoch. It is permissionless and idempotent per epoch.
func (e *Engine) Sync(key PoolKey) error {
	s, ok := e.states[key.ID()]
	if !ok {
		return ErrPoolNotInitialized
	}
	if s.exited || s.inSwap {
		return nil
	}
	return e.sync(s)
}

// Exit runs a final sync, withdraws the outstanding position to the owner
// and permanently disables further syncing. Only the owner may call it, and
// only once the floored epoch has reached the schedule end.
func (e *Engine) Exit(sender common.Address, key PoolKey) error {
	s, ok := e.states[key.ID()]
	if !ok {
		return ErrPoolNotInitialized
	}
	if sender != s.owner {
		return ErrUnauthorized
	}
	if s.exited {
		return ErrExited
	}
	if FloorEpoch(e.now(), s.epochSize) < uint64(s.schedule.EndTime) {
		return ErrBeforeEndTime
	}

	if err := e.sync(s); err != nil {
		return err
	}

	lower, upper := s.positionTicks(s.currentMinTick)
	pos := e.host.GetPosition(s.key, e.addr, lower, upper)
	if pos.Liquidity.Sign() > 0 {
		err := e.host.Lock(e, &ModifyPositionCallback{
			Key: s.key,
			Params: ModifyLiquidityParams{
				TickLower:      lower,
				TickUpper:      upper,
				LiquidityDelta: new(big.Int).Neg(pos.Liquidity),
			},
			TakeToOwner: true,
		})
		if err != nil {
			return err
		}
	}

	s.exited = true
	e.log.Info("bootstrap concluded",
		zap.String("committed", s.amountCommitted.String()),
		zap.Int32("finalMinTick", s.currentMinTick),
	)
	return nil
}

// =========================================================================
// Epoch synchronisation
// =========================================================================

// sync performs the once-per-epoch reconciliation: advance the commitment
// to the schedule target, then either provision directly (price already
// below the new floor) or force-sell down to it first.
func (e *Engine) sync(s *poolState) error {
	now := e.now()
	if now < uint64(s.schedule.StartTime) {
		return nil
	}
	epoch := FloorEpoch(now, s.epochSize)
	// The floored epoch can still precede the start; skipping it keeps the
	// schedule evaluator's start guard unreachable.
	if epoch < uint64(s.schedule.StartTime) {
		return nil
	}
	if s.syncedEpochs[epoch] {
		return nil
	}

	target, err := s.schedule.TargetAmount(epoch)
	if err != nil {
		return err
	}
	delta := new(big.Int).Sub(target, s.amountCommitted)
	minTick, err := s.schedule.TargetMinTick(epoch)
	if err != nil {
		return err
	}

	pool, err := e.host.GetPool(s.key)
	if err != nil {
		return err
	}
	current := canonicalTick(pool.Tick, s.schedule.IsToken0)

	if current < minTick {
		err = e.reconcile(s, delta, minTick)
	} else {
		err = e.forcedSell(s, delta, minTick)
	}
	if err != nil {
		return err
	}

	s.amountCommitted = target
	s.syncedEpochs[epoch] = true

	e.log.Debug("epoch synced",
		zap.Uint64("epoch", epoch),
		zap.String("committed", target.String()),
		zap.Int32("minTick", s.currentMinTick),
		zap.Int32("poolTick", pool.Tick),
	)
	return nil
}

// reconcile transitions the outstanding position to the new lower bound,
// carrying over its token balance and adding delta fresh tokens. The
// carry-over is denominated in token amount, not liquidity units: the same
// tokens buy different liquidity at different ranges.
func (e *Engine) reconcile(s *poolState, delta *big.Int, newMinTick int24) error {
	if delta.Sign() == 0 && newMinTick == s.currentMinTick {
		return nil
	}

	lowerOld, upperOld := s.positionTicks(s.currentMinTick)
	pos := e.host.GetPosition(s.key, e.addr, lowerOld, upperOld)
	liquidity := new(big.Int).Set(pos.Liquidity)

	total := new(big.Int).Set(delta)
	if liquidity.Sign() > 0 {
		sqrtLowerOld, err := sqrtRatioAtTick(lowerOld)
		if err != nil {
			return err
		}
		sqrtUpperOld, err := sqrtRatioAtTick(upperOld)
		if err != nil {
			return err
		}
		carried := amountForLiquidity(sqrtLowerOld, sqrtUpperOld, liquidity, s.schedule.IsToken0)
		total.Add(total, carried)

		err = e.host.Lock(e, &ModifyPositionCallback{
			Key: s.key,
			Params: ModifyLiquidityParams{
				TickLower:      lowerOld,
				TickUpper:      upperOld,
				LiquidityDelta: new(big.Int).Neg(liquidity),
			},
		})
		if err != nil {
			return err
		}
	}

	lowerNew, upperNew := s.positionTicks(newMinTick)
	sqrtLowerNew, err := sqrtRatioAtTick(lowerNew)
	if err != nil {
		return err
	}
	sqrtUpperNew, err := sqrtRatioAtTick(upperNew)
	if err != nil {
		return err
	}
	newLiquidity := liquidityForAmount(sqrtLowerNew, sqrtUpperNew, total, s.schedule.IsToken0)
	if newLiquidity.Sign() > 0 {
		err = e.host.Lock(e, &ModifyPositionCallback{
			Key: s.key,
			Params: ModifyLiquidityParams{
				TickLower:      lowerNew,
				TickUpper:      upperNew,
				LiquidityDelta: newLiquidity,
			},
		})
		if err != nil {
			return err
		}
	}

	s.currentMinTick = newMinTick
	return nil
}

// forcedSell pushes the market price to just outside the new lower bound by
// selling the epoch's tranche into the pool, then provisions whatever the
// market did not absorb. If the market absorbs the whole tranche before the
// limit is reached, nothing is provisioned this epoch and the position keeps
// its previous range.
func (e *Engine) forcedSell(s *poolState, delta *big.Int, newMinTick int24) error {
	boot := bootstrapCurrency(s.key, s.schedule.IsToken0)
	balanceBefore := e.ledger.BalanceOf(boot, e.addr)

	limitTick := newMinTick - 1
	if !s.schedule.IsToken0 {
		limitTick = -newMinTick + 1
	}
	limit, err := sqrtRatioAtTick(limitTick)
	if err != nil {
		return err
	}

	s.inSwap = true
	err = e.host.Lock(e, &SwapCallback{
		Key: s.key,
		Params: SwapParams{
			ZeroForOne:        s.schedule.IsToken0,
			AmountSpecified:   new(big.Int).Set(delta),
			SqrtPriceLimitX96: limit,
		},
	})
	s.inSwap = false
	if err != nil {
		return err
	}

	sold := new(big.Int).Sub(balanceBefore, e.ledger.BalanceOf(boot, e.addr))
	if sold.Cmp(delta) < 0 {
		residual := new(big.Int).Sub(delta, sold)
		return e.reconcile(s, residual, newMinTick)
	}
	// The full tranche sold before the price limit: nothing is left to
	// provision this epoch, and the position keeps its previous range.
	return nil
}

// =========================================================================
// Lock callback dispatch
// =========================================================================

// LockAcquired implements Locker: it executes the operation descriptor the
// engine encoded before acquiring the lock, then settles the resulting
// deltas so the frame nets to zero.
func (e *Engine) LockAcquired(payload any) error {
	switch cb := payload.(type) {
	case *ModifyPositionCallback:
		delta, err := e.host.ModifyLiquidity(cb.Key, cb.Params)
		if err != nil {
			return err
		}
		return e.settleDelta(cb.Key, delta, cb.TakeToOwner)
	case *SwapCallback:
		delta, err := e.host.Swap(cb.Key, cb.Params, nil)
		if err != nil {
			return err
		}
		return e.settleDelta(cb.Key, delta, false)
	default:
		return fmt.Errorf("unknown lock payload %T", payload)
	}
}

// settleDelta zeroes a balance delta: positive legs are settled from the
// engine's balance, negative legs are taken back to the engine, or to the
// owner when a closing withdrawal requests it.
func (e *Engine) settleDelta(key PoolKey, delta BalanceDelta, takeToOwner bool) error {
	recipient := e.addr
	if takeToOwner {
		if s, ok := e.states[key.ID()]; ok {
			recipient = s.owner
		}
	}
	legs := []struct {
		currency Currency
		amount   *big.Int
	}{
		{key.Currency0, delta.Amount0},
		{key.Currency1, delta.Amount1},
	}
	for _, leg := range legs {
		switch {
		case leg.amount.Sign() > 0:
			if err := e.host.Settle(leg.currency, leg.amount); err != nil {
				return err
			}
		case leg.amount.Sign() < 0:
			if err := e.host.Take(leg.currency, recipient, new(big.Int).Neg(leg.amount)); err != nil {
				return err
			}
		}
	}
	return nil
}
