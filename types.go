// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lbp implements a liquidity bootstrapping pool engine on top of a
// Uniswap v4-style singleton pool manager. The engine sells a configured
// quantity of a bootstrapping token over a fixed time window at a linearly
// decaying price floor, placing single-sided concentrated-liquidity positions
// that are progressively widened and refilled once per epoch.
package lbp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/blake3"
)

// Pool fee tiers (hundredths of a basis point)
const (
	Fee001 uint24 = 100    // 0.01% - stablecoins
	Fee005 uint24 = 500    // 0.05% - stable pairs
	Fee030 uint24 = 3000   // 0.30% - standard
	Fee100 uint24 = 10000  // 1.00% - exotic pairs
	FeeMax uint24 = 100000 // 10% max fee
)

// Currency represents a token (native or ERC20)
// Address(0) represents the native token
type Currency struct {
	Address common.Address
}

// NativeCurrency represents the native token (no wrapping needed)
var NativeCurrency = Currency{Address: common.Address{}}

// IsNative returns true if this currency is the native token
func (c Currency) IsNative() bool {
	return c.Address == common.Address{}
}

// ToBytes serializes currency for hashing
func (c Currency) ToBytes() []byte {
	return c.Address.Bytes()
}

// PoolKey uniquely identifies a pool
// Sorted by currency address (currency0 < currency1)
type PoolKey struct {
	Currency0   Currency       // Lower address token
	Currency1   Currency       // Higher address token
	Fee         uint24         // Fee in hundredths of a basis point
	TickSpacing int24          // Tick spacing for concentrated liquidity
	Hooks       common.Address // Hook contract address (zero = no hooks)
}

// ID computes the unique pool identifier
func (pk PoolKey) ID() [32]byte {
	h := blake3.New()
	h.Write(pk.Currency0.ToBytes())
	h.Write(pk.Currency1.ToBytes())

	var feeBytes [4]byte
	binary.BigEndian.PutUint32(feeBytes[:], uint32(pk.Fee))
	h.Write(feeBytes[1:]) // uint24

	var tickBytes [4]byte
	binary.BigEndian.PutUint32(tickBytes[:], uint32(pk.TickSpacing))
	h.Write(tickBytes[1:]) // int24

	h.Write(pk.Hooks.Bytes())

	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// sorted returns true if the key's currencies are properly ordered
func (pk PoolKey) sorted() bool {
	return bytes.Compare(pk.Currency0.Address.Bytes(), pk.Currency1.Address.Bytes()) < 0
}

// BalanceDelta represents the net token changes during a callback
// Positive = owed to the pool, Negative = owed to the caller
type BalanceDelta struct {
	Amount0 *big.Int // Currency0 delta (positive = caller owes pool)
	Amount1 *big.Int // Currency1 delta (positive = caller owes pool)
}

// NewBalanceDelta creates a new balance delta
func NewBalanceDelta(amount0, amount1 *big.Int) BalanceDelta {
	return BalanceDelta{
		Amount0: new(big.Int).Set(amount0),
		Amount1: new(big.Int).Set(amount1),
	}
}

// ZeroBalanceDelta returns a zero balance delta
func ZeroBalanceDelta() BalanceDelta {
	return BalanceDelta{
		Amount0: big.NewInt(0),
		Amount1: big.NewInt(0),
	}
}

// IsZero returns true if both amounts are zero
func (bd BalanceDelta) IsZero() bool {
	return bd.Amount0.Sign() == 0 && bd.Amount1.Sign() == 0
}

// Negate inverts the balance delta signs
func (bd BalanceDelta) Negate() BalanceDelta {
	return BalanceDelta{
		Amount0: new(big.Int).Neg(bd.Amount0),
		Amount1: new(big.Int).Neg(bd.Amount1),
	}
}

// Pool represents the state of a liquidity pool
type Pool struct {
	SqrtPriceX96 *big.Int // sqrt(price) * 2^96 (Q64.96)
	Tick         int24    // Current tick
	Liquidity    *big.Int // Currently active liquidity (L)

	ticks *tickLedger
}

// IsInitialized returns true if the pool has been initialized
func (p *Pool) IsInitialized() bool {
	return p != nil && p.SqrtPriceX96 != nil && p.SqrtPriceX96.Sign() > 0
}

func newPool() *Pool {
	return &Pool{
		SqrtPriceX96: big.NewInt(0),
		Tick:         0,
		Liquidity:    big.NewInt(0),
		ticks:        newTickLedger(),
	}
}

// Position represents a liquidity position
type Position struct {
	Owner     common.Address
	TickLower int24
	TickUpper int24
	Liquidity *big.Int
}

// PositionKey computes the unique position identifier within a pool
func PositionKey(poolID [32]byte, owner common.Address, tickLower, tickUpper int24) [32]byte {
	h := blake3.New()
	h.Write(poolID[:])
	h.Write(owner.Bytes())

	var tickBytes [8]byte
	binary.BigEndian.PutUint32(tickBytes[:4], uint32(tickLower))
	binary.BigEndian.PutUint32(tickBytes[4:], uint32(tickUpper))
	h.Write(tickBytes[:])

	var key [32]byte
	h.Digest().Read(key[:])
	return key
}

// SwapParams contains parameters for a swap
type SwapParams struct {
	ZeroForOne        bool     // true = swap currency0 for currency1
	AmountSpecified   *big.Int // Positive = exact input, Negative = exact output
	SqrtPriceLimitX96 *big.Int // Price limit (sqrt(price) * 2^96); nil = no limit
}

// ModifyLiquidityParams contains parameters for adding/removing liquidity
type ModifyLiquidityParams struct {
	TickLower      int24
	TickUpper      int24
	LiquidityDelta *big.Int // Positive = add, Negative = remove
}

// SwapCallback is the lock payload for an engine- or router-initiated swap.
type SwapCallback struct {
	Key    PoolKey
	Params SwapParams
}

// ModifyPositionCallback is the lock payload for a position change.
// TakeToOwner routes withdrawn tokens to the schedule owner instead of the
// engine; it is only meaningful for the closing leg of an owner exit.
type ModifyPositionCallback struct {
	Key         PoolKey
	Params      ModifyLiquidityParams
	TakeToOwner bool
}

// Errors - host pool manager
var (
	ErrPoolNotInitialized     = errors.New("pool not initialized")
	ErrPoolAlreadyInitialized = errors.New("pool already initialized")
	ErrCurrencyNotSorted      = errors.New("currencies not sorted")
	ErrInvalidFee             = errors.New("invalid fee")
	ErrInvalidSqrtPrice       = errors.New("invalid sqrt price")
	ErrTickOutOfRange         = errors.New("tick out of range")
	ErrTickNotAligned         = errors.New("tick not aligned to spacing")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidHookResponse    = errors.New("invalid hook response")
	ErrHookNotRegistered      = errors.New("hook not registered")
	ErrNonZeroDelta           = errors.New("non-zero balance delta after settlement")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
)

// Errors - bootstrapping engine
var (
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrInvalidTickRange = errors.New("invalid tick range")
	ErrBeforeStartTime  = errors.New("before start time")
	ErrBeforeEndTime    = errors.New("before end time")
	ErrExited           = errors.New("bootstrap already exited")
)

// Constants for math
var (
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	MinTick int24 = -887272
	MaxTick int24 = 887272

	MinSqrtRatio    = new(big.Int).SetUint64(4295128739)
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)
)

// uint24 type alias for fees
type uint24 = uint32

// int24 type alias for ticks
type int24 = int32
