// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lbp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Router is a minimal locker wrapping the pool manager's lock discipline
// for externally-initiated swaps and liquidity changes. Deltas settle
// against the router's address, so the account must be funded on the
// ledger before trading.
type Router struct {
	host *PoolManager
	addr common.Address

	lastDelta BalanceDelta
}

// NewRouter creates a router settling against addr
func NewRouter(host *PoolManager, addr common.Address) *Router {
	return &Router{host: host, addr: addr}
}

// LockerAddress implements Locker
func (r *Router) LockerAddress() common.Address {
	return r.addr
}

// LockAcquired implements Locker
func (r *Router) LockAcquired(payload any) error {
	switch cb := payload.(type) {
	case *SwapCallback:
		delta, err := r.host.Swap(cb.Key, cb.Params, nil)
		if err != nil {
			return err
		}
		r.lastDelta = delta
		return r.settle(cb.Key, delta)
	case *ModifyPositionCallback:
		delta, err := r.host.ModifyLiquidity(cb.Key, cb.Params)
		if err != nil {
			return err
		}
		r.lastDelta = delta
		return r.settle(cb.Key, delta)
	default:
		return ErrInvalidAmount
	}
}

func (r *Router) settle(key PoolKey, delta BalanceDelta) error {
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
			if err := r.host.Settle(leg.currency, leg.amount); err != nil {
				return err
			}
		case leg.amount.Sign() < 0:
			if err := r.host.Take(leg.currency, r.addr, new(big.Int).Neg(leg.amount)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Swap executes a locked swap and returns its balance delta
func (r *Router) Swap(key PoolKey, params SwapParams) (BalanceDelta, error) {
	if err := r.host.Lock(r, &SwapCallback{Key: key, Params: params}); err != nil {
		return ZeroBalanceDelta(), err
	}
	return r.lastDelta, nil
}

// ModifyLiquidity executes a locked liquidity change and returns its delta
func (r *Router) ModifyLiquidity(key PoolKey, params ModifyLiquidityParams) (BalanceDelta, error) {
	if err := r.host.Lock(r, &ModifyPositionCallback{Key: key, Params: params}); err != nil {
		return ZeroBalanceDelta(), err
	}
	return r.lastDelta, nil
}
