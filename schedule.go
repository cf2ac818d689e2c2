// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lbp

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// LiquidityInfo is the immutable bootstrap schedule for one pool. MinTick
// and MaxTick are expressed in the canonical (token0-selling) orientation:
// the position's lower bound starts at MaxTick and decays linearly to
// MinTick at EndTime.
type LiquidityInfo struct {
	TotalAmount *big.Int // bootstrapping tokens committed over the window (u128)
	StartTime   uint32
	EndTime     uint32
	MinTick     int24
	MaxTick     int24
	IsToken0    bool // true when the bootstrapping token is currency0
}

// Validate checks the schedule invariants at init time.
func (li LiquidityInfo) Validate(now uint64, tickSpacing int24) error {
	if li.StartTime > li.EndTime {
		return fmt.Errorf("%w: start=%d, end=%d", ErrInvalidTimeRange, li.StartTime, li.EndTime)
	}
	if uint64(li.EndTime) < now {
		return fmt.Errorf("%w: end=%d, now=%d", ErrInvalidTimeRange, li.EndTime, now)
	}
	if li.MinTick >= li.MaxTick {
		return fmt.Errorf("%w: min=%d, max=%d", ErrInvalidTickRange, li.MinTick, li.MaxTick)
	}
	if li.MinTick < MinUsableTick(tickSpacing) {
		return fmt.Errorf("%w: min=%d", ErrInvalidTickRange, li.MinTick)
	}
	if li.MaxTick > MaxUsableTick(tickSpacing) {
		return fmt.Errorf("%w: max=%d", ErrInvalidTickRange, li.MaxTick)
	}
	if li.TotalAmount == nil || li.TotalAmount.Sign() <= 0 || li.TotalAmount.BitLen() > 128 {
		return fmt.Errorf("%w: total=%s", ErrInvalidAmount, li.TotalAmount)
	}
	return nil
}

// TargetAmount returns the cumulative bootstrapping-token amount scheduled
// through t. The u32 x u128 product is widened through big.Int before the
// division, so the interpolation never overflows or loses precision.
func (li LiquidityInfo) TargetAmount(t uint64) (*big.Int, error) {
	if t < uint64(li.StartTime) {
		return nil, ErrBeforeStartTime
	}
	if t >= uint64(li.EndTime) {
		return new(big.Int).Set(li.TotalAmount), nil
	}
	elapsed := new(big.Int).SetUint64(t - uint64(li.StartTime))
	duration := new(big.Int).SetUint64(uint64(li.EndTime - li.StartTime))
	target := new(big.Int).Mul(li.TotalAmount, elapsed)
	return target.Quo(target, duration), nil
}

// TargetMinTick returns the canonical lower bound of the range at t,
// decaying from MaxTick to MinTick. Expressing it as max minus a truncated
// delta pins both endpoints exactly.
func (li LiquidityInfo) TargetMinTick(t uint64) (int24, error) {
	if t < uint64(li.StartTime) {
		return 0, ErrBeforeStartTime
	}
	if t >= uint64(li.EndTime) {
		return li.MinTick, nil
	}
	// elapsed fits 32 bits, the tick range 26; the product stays well
	// inside int64. Go's division truncates toward zero.
	elapsed := int64(t - uint64(li.StartTime))
	duration := int64(li.EndTime - li.StartTime)
	delta := elapsed * int64(li.MaxTick-li.MinTick) / duration
	return li.MaxTick - int24(delta), nil
}

// FloorEpoch floors a timestamp to its epoch boundary
func FloorEpoch(t, epochSize uint64) uint64 {
	return t / epochSize * epochSize
}

// initPayload layout:
//
//	[0:16]  TotalAmount (big-endian u128)
//	[16:20] StartTime
//	[20:24] EndTime
//	[24:28] MinTick (two's complement)
//	[28:32] MaxTick (two's complement)
//	[32]    IsToken0
//	[33:41] epoch size (seconds)
const initPayloadLen = 41

// EncodeInitPayload packs a schedule and epoch size into the afterInitialize
// hook data blob.
func EncodeInitPayload(li LiquidityInfo, epochSize uint64) []byte {
	data := make([]byte, initPayloadLen)
	li.TotalAmount.FillBytes(data[0:16])
	binary.BigEndian.PutUint32(data[16:20], li.StartTime)
	binary.BigEndian.PutUint32(data[20:24], li.EndTime)
	binary.BigEndian.PutUint32(data[24:28], uint32(li.MinTick))
	binary.BigEndian.PutUint32(data[28:32], uint32(li.MaxTick))
	if li.IsToken0 {
		data[32] = 1
	}
	binary.BigEndian.PutUint64(data[33:41], epochSize)
	return data
}

// DecodeInitPayload unpacks an afterInitialize hook data blob.
func DecodeInitPayload(data []byte) (LiquidityInfo, uint64, error) {
	if len(data) != initPayloadLen {
		return LiquidityInfo{}, 0, fmt.Errorf("%w: payload length %d", ErrInvalidAmount, len(data))
	}
	li := LiquidityInfo{
		TotalAmount: new(big.Int).SetBytes(data[0:16]),
		StartTime:   binary.BigEndian.Uint32(data[16:20]),
		EndTime:     binary.BigEndian.Uint32(data[20:24]),
		MinTick:     int24(binary.BigEndian.Uint32(data[24:28])),
		MaxTick:     int24(binary.BigEndian.Uint32(data[28:32])),
		IsToken0:    data[32] == 1,
	}
	epochSize := binary.BigEndian.Uint64(data[33:41])
	return li, epochSize, nil
}
