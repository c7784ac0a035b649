// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

// ErrInsufficientAccrual is returned when a withdrawal exceeds the accrued
// balance.
var ErrInsufficientAccrual = errors.New("withdrawal exceeds accrued fees")

// Accrual key prefixes.
var (
	prefixProtocolFee   = []byte("pfee")
	prefixIntegratorFee = []byte("ifee")
	prefixReferralFee   = []byte("kfee")
)

// FeeVault keeps the running fee accruals: one protocol total per asset,
// plus per-integrator and per-referral totals. Credits only ever add;
// withdrawals drain to zero and fail closed on underflow, so for every
// (set, asset) pair credits minus withdrawals equals the stored value.
type FeeVault struct {
	db database.Database
	mu sync.Mutex
}

// NewFeeVault creates a vault over the given database.
func NewFeeVault(db database.Database) *FeeVault {
	return &FeeVault{db: db}
}

// SplitFee computes the integrator fee split: the total fee off the gross
// amount, and the protocol's share of that fee. The integrator keeps the
// remainder. All arithmetic floors.
func SplitFee(amount *big.Int, feeBps, shareBps uint32) (total, protocol *big.Int) {
	total = new(big.Int).Mul(amount, big.NewInt(int64(feeBps)))
	total.Div(total, big.NewInt(FeeDenom))
	protocol = new(big.Int).Mul(total, big.NewInt(int64(shareBps)))
	protocol.Div(protocol, big.NewInt(FeeDenom))
	return total, protocol
}

func protocolKey(asset Asset) []byte {
	return append(append([]byte{}, prefixProtocolFee...), asset.Address.Bytes()...)
}

func scopedKey(prefix []byte, id common.Address, asset Asset) []byte {
	key := append(append([]byte{}, prefix...), id.Bytes()...)
	return append(key, asset.Address.Bytes()...)
}

// CreditProtocol adds to the protocol accrual for the asset.
func (v *FeeVault) CreditProtocol(asset Asset, delta *big.Int) error {
	return v.credit(protocolKey(asset), delta)
}

// CreditIntegrator adds to an integrator's accrual for the asset.
func (v *FeeVault) CreditIntegrator(integrator common.Address, asset Asset, delta *big.Int) error {
	return v.credit(scopedKey(prefixIntegratorFee, integrator, asset), delta)
}

// CreditReferral adds to a referral partner's accrual for the asset.
func (v *FeeVault) CreditReferral(referral common.Address, asset Asset, delta *big.Int) error {
	return v.credit(scopedKey(prefixReferralFee, referral, asset), delta)
}

// ProtocolAccrued returns the protocol's accrued total for the asset.
func (v *FeeVault) ProtocolAccrued(asset Asset) (*big.Int, error) {
	return v.read(protocolKey(asset))
}

// IntegratorAccrued returns an integrator's accrued total for the asset.
func (v *FeeVault) IntegratorAccrued(integrator common.Address, asset Asset) (*big.Int, error) {
	return v.read(scopedKey(prefixIntegratorFee, integrator, asset))
}

// ReferralAccrued returns a referral partner's accrued total for the asset.
func (v *FeeVault) ReferralAccrued(referral common.Address, asset Asset) (*big.Int, error) {
	return v.read(scopedKey(prefixReferralFee, referral, asset))
}

// WithdrawProtocol removes amount from the protocol accrual.
func (v *FeeVault) WithdrawProtocol(asset Asset, amount *big.Int) error {
	return v.withdraw(protocolKey(asset), amount)
}

// WithdrawIntegrator removes amount from an integrator accrual.
func (v *FeeVault) WithdrawIntegrator(integrator common.Address, asset Asset, amount *big.Int) error {
	return v.withdraw(scopedKey(prefixIntegratorFee, integrator, asset), amount)
}

// WithdrawReferral removes amount from a referral accrual.
func (v *FeeVault) WithdrawReferral(referral common.Address, asset Asset, amount *big.Int) error {
	return v.withdraw(scopedKey(prefixReferralFee, referral, asset), amount)
}

func (v *FeeVault) credit(key []byte, delta *big.Int) error {
	if delta.Sign() < 0 {
		return ErrInvalidAmount
	}
	if delta.Sign() == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	cur, err := v.readLocked(key)
	if err != nil {
		return err
	}
	return v.db.Put(key, new(big.Int).Add(cur, delta).Bytes())
}

func (v *FeeVault) withdraw(key []byte, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	cur, err := v.readLocked(key)
	if err != nil {
		return err
	}
	if cur.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientAccrual, cur, amount)
	}
	return v.db.Put(key, new(big.Int).Sub(cur, amount).Bytes())
}

func (v *FeeVault) read(key []byte) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.readLocked(key)
}

func (v *FeeVault) readLocked(key []byte) (*big.Int, error) {
	raw, err := v.db.Get(key)
	if err == database.ErrNotFound {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}
