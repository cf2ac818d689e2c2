// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lbp

import (
	"math/big"

	"github.com/daoleno/uniswapv3-sdk/utils"
)

// sqrtRatioAtTick returns the Q64.96 sqrt price at a tick.
func sqrtRatioAtTick(tick int24) (*big.Int, error) {
	return utils.GetSqrtRatioAtTick(int(tick))
}

// tickAtSqrtRatio returns the greatest tick whose sqrt price is <= the given
// ratio.
func tickAtSqrtRatio(sqrtRatioX96 *big.Int) (int24, error) {
	tick, err := utils.GetTickAtSqrtRatio(sqrtRatioX96)
	if err != nil {
		return 0, err
	}
	return int24(tick), nil
}

// liquidityForAmount converts a single-sided token amount into the liquidity
// units it buys over [sqrtLower, sqrtUpper]. token0 amounts sit above the
// range, token1 amounts below it.
func liquidityForAmount(sqrtLower, sqrtUpper, amount *big.Int, isToken0 bool) *big.Int {
	if amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	if isToken0 {
		return utils.MaxLiquidityForAmounts(sqrtLower, sqrtLower, sqrtUpper, amount, big.NewInt(0), false)
	}
	return utils.MaxLiquidityForAmounts(sqrtUpper, sqrtLower, sqrtUpper, big.NewInt(0), amount, false)
}

// amountForLiquidity inverts liquidityForAmount, rounding down.
func amountForLiquidity(sqrtLower, sqrtUpper, liquidity *big.Int, isToken0 bool) *big.Int {
	if liquidity.Sign() <= 0 {
		return big.NewInt(0)
	}
	if isToken0 {
		return utils.GetAmount0Delta(sqrtLower, sqrtUpper, liquidity, false)
	}
	return utils.GetAmount1Delta(sqrtLower, sqrtUpper, liquidity, false)
}

// MinUsableTick returns the lowest tick usable at a given spacing
func MinUsableTick(tickSpacing int24) int24 {
	return (MinTick / tickSpacing) * tickSpacing
}

// MaxUsableTick returns the highest tick usable at a given spacing
func MaxUsableTick(tickSpacing int24) int24 {
	return (MaxTick / tickSpacing) * tickSpacing
}

// floorToSpacing rounds tick toward negative infinity to a spacing multiple.
func floorToSpacing(tick, tickSpacing int24) int24 {
	q := tick / tickSpacing
	if tick%tickSpacing != 0 && tick < 0 {
		q--
	}
	return q * tickSpacing
}

// ceilToSpacing rounds tick toward positive infinity to a spacing multiple.
func ceilToSpacing(tick, tickSpacing int24) int24 {
	q := tick / tickSpacing
	if tick%tickSpacing != 0 && tick > 0 {
		q++
	}
	return q * tickSpacing
}
