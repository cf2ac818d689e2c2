// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lbp

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ledger mediates token custody between the pool manager, the engine and
// their callers. Transfer semantics (approvals, hooks on the token itself)
// are outside the engine's scope; the pool manager only needs balance reads
// and direct moves.
type Ledger interface {
	BalanceOf(c Currency, owner common.Address) *big.Int
	Transfer(c Currency, from, to common.Address, amount *big.Int) error
}

// MemLedger is an in-memory Ledger backed by unsigned 256-bit balances.
type MemLedger struct {
	balances map[Currency]map[common.Address]*uint256.Int
}

// NewMemLedger creates an empty ledger
func NewMemLedger() *MemLedger {
	return &MemLedger{
		balances: make(map[Currency]map[common.Address]*uint256.Int),
	}
}

func (l *MemLedger) balance(c Currency, owner common.Address) *uint256.Int {
	book, ok := l.balances[c]
	if !ok {
		book = make(map[common.Address]*uint256.Int)
		l.balances[c] = book
	}
	bal, ok := book[owner]
	if !ok {
		bal = uint256.NewInt(0)
		book[owner] = bal
	}
	return bal
}

// Mint credits owner with amount of currency c
func (l *MemLedger) Mint(c Currency, owner common.Address, amount *big.Int) error {
	v, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	bal := l.balance(c, owner)
	bal.Add(bal, v)
	return nil
}

// BalanceOf returns owner's balance of currency c
func (l *MemLedger) BalanceOf(c Currency, owner common.Address) *big.Int {
	return l.balance(c, owner).ToBig()
}

// Transfer moves amount of currency c from one account to another
func (l *MemLedger) Transfer(c Currency, from, to common.Address, amount *big.Int) error {
	v, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	fromBal := l.balance(c, from)
	if fromBal.Lt(v) {
		return fmt.Errorf("%w: currency=%s, have=%s, need=%s",
			ErrInsufficientBalance, c.Address.Hex(), fromBal, v)
	}
	fromBal.Sub(fromBal, v)
	toBal := l.balance(c, to)
	toBal.Add(toBal, v)
	return nil
}
