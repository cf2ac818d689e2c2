// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lbp

import "math/big"

// tickInfo tracks the liquidity bookkeeping of one initialized tick.
type tickInfo struct {
	// liquidityGross is the total position liquidity referencing this tick
	liquidityGross *big.Int
	// liquidityNet is the amount of liquidity added (subtracted) when the
	// tick is crossed left to right (right to left)
	liquidityNet *big.Int
}

// tickLedger maintains the set of initialized ticks for one pool. A tick is
// initialized while at least one position references it as a bound.
type tickLedger struct {
	ticks map[int24]*tickInfo
}

func newTickLedger() *tickLedger {
	return &tickLedger{ticks: make(map[int24]*tickInfo)}
}

// update applies a liquidity delta to a position bound. upper selects the
// sign convention for liquidityNet. The tick entry is dropped once no
// position references it.
func (tl *tickLedger) update(tick int24, delta *big.Int, upper bool) {
	info, ok := tl.ticks[tick]
	if !ok {
		info = &tickInfo{liquidityGross: big.NewInt(0), liquidityNet: big.NewInt(0)}
		tl.ticks[tick] = info
	}
	info.liquidityGross = new(big.Int).Add(info.liquidityGross, delta)
	if upper {
		info.liquidityNet = new(big.Int).Sub(info.liquidityNet, delta)
	} else {
		info.liquidityNet = new(big.Int).Add(info.liquidityNet, delta)
	}
	if info.liquidityGross.Sign() == 0 {
		delete(tl.ticks, tick)
	}
}

// cross returns the net liquidity change of crossing tick left to right.
// The caller negates it for right-to-left crossings.
func (tl *tickLedger) cross(tick int24) *big.Int {
	info, ok := tl.ticks[tick]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(info.liquidityNet)
}

// nextInitialized returns the nearest initialized tick at or below tick when
// lte is true, or strictly above tick otherwise. When no initialized tick
// exists in that direction MinTick or MaxTick is returned with ok = false.
func (tl *tickLedger) nextInitialized(tick int24, lte bool) (int24, bool) {
	found := false
	var best int24
	for t := range tl.ticks {
		if lte {
			if t > tick {
				continue
			}
			if !found || t > best {
				best = t
				found = true
			}
		} else {
			if t <= tick {
				continue
			}
			if !found || t < best {
				best = t
				found = true
			}
		}
	}
	if !found {
		if lte {
			return MinTick, false
		}
		return MaxTick, false
	}
	return best, true
}
