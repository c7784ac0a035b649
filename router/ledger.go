// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/router/contract"
)

// Storage key prefixes under the token ledger address.
var (
	prefixTokenBalance = []byte("tbal")
	prefixApproval     = []byte("tapp")
)

// Ledger resolves balances and moves value for both asset kinds. Native
// amounts live in the account trie; token amounts live in storage slots of
// the ledger precompile, keyed by (token, holder).
type Ledger struct {
	self common.Address
}

// NewLedger creates a ledger writing under the given precompile address.
func NewLedger(self common.Address) *Ledger {
	return &Ledger{self: self}
}

func balanceKey(token, holder common.Address) common.Hash {
	return hashID(prefixTokenBalance, token.Bytes(), holder.Bytes())
}

func approvalKey(token, owner, spender common.Address) common.Hash {
	return hashID(prefixApproval, token.Bytes(), owner.Bytes(), spender.Bytes())
}

// BalanceOf returns the holder's balance of the asset.
func (l *Ledger) BalanceOf(state contract.StateDB, asset Asset, holder common.Address) *big.Int {
	if asset.IsNative() {
		return state.GetBalance(holder).ToBig()
	}
	return state.GetState(l.self, balanceKey(asset.Address, holder)).Big()
}

// Mint credits a token balance out of nothing. Used when bridged or pulled
// funds enter the ledger's custody view.
func (l *Ledger) Mint(state contract.StateDB, token, to common.Address, amount *big.Int) {
	key := balanceKey(token, to)
	cur := state.GetState(l.self, key).Big()
	state.SetState(l.self, key, common.BigToHash(new(big.Int).Add(cur, amount)))
}

// Transfer moves amount of asset from one holder to another. Fails closed
// when the sender's balance would underflow.
func (l *Ledger) Transfer(state contract.StateDB, asset Asset, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	if asset.IsNative() {
		value, overflow := uint256.FromBig(amount)
		if overflow {
			return ErrInvalidAmount
		}
		if state.GetBalance(from).Cmp(value) < 0 {
			return fmt.Errorf("%w: native balance of %s below %s", ErrUnderflow, from, amount)
		}
		state.SubBalance(from, value)
		state.AddBalance(to, value)
		return nil
	}

	fromKey := balanceKey(asset.Address, from)
	have := state.GetState(l.self, fromKey).Big()
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s balance of %s below %s", ErrUnderflow, asset.Address, from, amount)
	}
	toKey := balanceKey(asset.Address, to)
	state.SetState(l.self, fromKey, common.BigToHash(new(big.Int).Sub(have, amount)))
	state.SetState(l.self, toKey, common.BigToHash(new(big.Int).Add(state.GetState(l.self, toKey).Big(), amount)))
	return nil
}

// Approve grants spender a one-shot authorization over owner's tokens.
// The engine writes the exact leg amount before each venue call and zeroes
// it afterwards.
func (l *Ledger) Approve(state contract.StateDB, token, owner, spender common.Address, amount *big.Int) {
	state.SetState(l.self, approvalKey(token, owner, spender), common.BigToHash(amount))
}

// Allowance returns the remaining authorization.
func (l *Ledger) Allowance(state contract.StateDB, token, owner, spender common.Address) *big.Int {
	return state.GetState(l.self, approvalKey(token, owner, spender)).Big()
}

// TransferFrom spends an approval. Venues settle their input through this
// path during a leg.
func (l *Ledger) TransferFrom(state contract.StateDB, token, spender, owner, to common.Address, amount *big.Int) error {
	allowed := l.Allowance(state, token, owner, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: approval %s below %s", ErrUnderflow, allowed, amount)
	}
	if err := l.Transfer(state, Asset{Address: token}, owner, to, amount); err != nil {
		return err
	}
	l.Approve(state, token, owner, spender, new(big.Int).Sub(allowed, amount))
	return nil
}
