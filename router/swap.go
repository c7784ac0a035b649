// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/router/contract"
	"github.com/luxfi/router/registry"
)

// SwapParams describes one single-chain settlement request.
type SwapParams struct {
	User         common.Address
	Receiver     common.Address
	SrcAsset     Asset
	DstAsset     Asset
	AmountIn     *big.Int
	AmountOutMin *big.Int
	// Value is the native amount attached to the call. Must equal AmountIn
	// when SrcAsset is native, zero otherwise.
	Value      *big.Int
	Legs       []TradeLeg
	Integrator Integrator
	// Permit, when set, authorizes the pull instead of a prior approval.
	Permit *Permit
}

// Executor runs single-chain settlements. One settlement at a time: every
// entrypoint takes the executor lock and trips on reentry.
type Executor struct {
	self      common.Address
	admin     common.Address
	registry  *registry.VenueRegistry
	ledger    *Ledger
	engine    *Engine
	vault     *FeeVault
	authority TransferAuthority
	log       log.Logger
	journal   *EventJournal

	mu     sync.Mutex
	locked bool
}

// NewExecutor wires the settlement core together.
func NewExecutor(
	self common.Address,
	admin common.Address,
	reg *registry.VenueRegistry,
	ledger *Ledger,
	engine *Engine,
	vault *FeeVault,
	authority TransferAuthority,
	logger log.Logger,
) *Executor {
	return &Executor{
		self:      self,
		admin:     admin,
		registry:  reg,
		ledger:    ledger,
		engine:    engine,
		vault:     vault,
		authority: authority,
		log:       logger,
		journal:   &EventJournal{},
	}
}

// Journal exposes the settlement event journal.
func (x *Executor) Journal() *EventJournal {
	return x.journal
}

func (x *Executor) lock() error {
	x.mu.Lock()
	if x.locked {
		x.mu.Unlock()
		return ErrReentrant
	}
	x.locked = true
	x.mu.Unlock()
	return nil
}

func (x *Executor) unlock() {
	x.mu.Lock()
	x.locked = false
	x.mu.Unlock()
}

// Swap settles exact-in: the full input is pulled, the integrator fee comes
// off the gross, the remainder is routed through the legs, and the final
// output is delivered to the receiver if it clears the minimum.
func (x *Executor) Swap(state contract.StateDB, caller contract.Caller, p SwapParams) (*big.Int, error) {
	if err := x.lock(); err != nil {
		return nil, err
	}
	defer x.unlock()

	if err := x.validate(p); err != nil {
		return nil, err
	}
	if err := x.pullFunds(state, p); err != nil {
		return nil, err
	}
	net, fee := x.takeFee(p.User, p.SrcAsset, p.AmountIn, p.Integrator)

	out, err := x.engine.ExecuteLegs(state, caller, p.SrcAsset, net, p.Legs, false)
	if err != nil {
		return nil, err
	}
	if out.Cmp(p.AmountOutMin) < 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutput, out, p.AmountOutMin)
	}
	if err := x.ledger.Transfer(state, p.DstAsset, x.self, p.Receiver, out); err != nil {
		return nil, err
	}
	if err := x.creditFee(fee); err != nil {
		return nil, err
	}

	x.emitSwapped(p, out)
	return out, nil
}

// swapPulled is Swap for input the executor already custodies. The gasless
// path pulls and fee-splits before it gets here.
func (x *Executor) swapPulled(state contract.StateDB, caller contract.Caller, p SwapParams) (*big.Int, error) {
	if err := x.lock(); err != nil {
		return nil, err
	}
	defer x.unlock()

	if err := x.validate(p); err != nil {
		return nil, err
	}
	net, fee := x.takeFee(p.User, p.SrcAsset, p.AmountIn, p.Integrator)
	out, err := x.engine.ExecuteLegs(state, caller, p.SrcAsset, net, p.Legs, false)
	if err != nil {
		return nil, err
	}
	if out.Cmp(p.AmountOutMin) < 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutput, out, p.AmountOutMin)
	}
	if err := x.ledger.Transfer(state, p.DstAsset, x.self, p.Receiver, out); err != nil {
		return nil, err
	}
	if err := x.creditFee(fee); err != nil {
		return nil, err
	}
	x.emitSwapped(p, out)
	return out, nil
}

// SwapExactOut settles against a target output. The input ceiling is pulled
// up front; whatever the legs did not consume is refunded to the user after
// delivery.
func (x *Executor) SwapExactOut(state contract.StateDB, caller contract.Caller, p SwapParams, amountOut *big.Int) (*big.Int, error) {
	if err := x.lock(); err != nil {
		return nil, err
	}
	defer x.unlock()

	if err := x.validate(p); err != nil {
		return nil, err
	}

	if err := x.pullFunds(state, p); err != nil {
		return nil, err
	}
	net, fee := x.takeFee(p.User, p.SrcAsset, p.AmountIn, p.Integrator)
	balSrcBefore := x.ledger.BalanceOf(state, p.SrcAsset, x.self)

	out, err := x.engine.ExecuteLegs(state, caller, p.SrcAsset, net, p.Legs, false)
	if err != nil {
		return nil, err
	}
	if out.Cmp(amountOut) < 0 {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrInsufficientOutput, out, amountOut)
	}
	if err := x.ledger.Transfer(state, p.DstAsset, x.self, p.Receiver, out); err != nil {
		return nil, err
	}

	// refund the unconsumed part of what the engine was handed
	balSrcAfter := x.ledger.BalanceOf(state, p.SrcAsset, x.self)
	refund := new(big.Int).Add(balSrcAfter, net)
	refund.Sub(refund, balSrcBefore)
	if refund.Sign() > 0 {
		if err := x.ledger.Transfer(state, p.SrcAsset, x.self, p.User, refund); err != nil {
			return nil, err
		}
	}
	if err := x.creditFee(fee); err != nil {
		return nil, err
	}

	x.emitSwapped(p, out)
	return out, nil
}

// SwapSimple settles through a single venue that delivers straight to the
// receiver. The output check reads the receiver's own balance delta, not
// the engine's.
func (x *Executor) SwapSimple(state contract.StateDB, caller contract.Caller, p SwapParams) (*big.Int, error) {
	if err := x.lock(); err != nil {
		return nil, err
	}
	defer x.unlock()

	if err := x.validate(p); err != nil {
		return nil, err
	}
	if len(p.Legs) != 1 {
		return nil, fmt.Errorf("%w: direct delivery takes exactly one leg", ErrNoLegs)
	}
	leg := p.Legs[0]
	if !x.registry.IsAllowed(state, leg.TargetVenue, leg.Selector()) {
		return nil, fmt.Errorf("venue %s: %w", leg.TargetVenue, ErrUnverifiedVenue)
	}

	if err := x.pullFunds(state, p); err != nil {
		return nil, err
	}
	net, fee := x.takeFee(p.User, p.SrcAsset, p.AmountIn, p.Integrator)
	if leg.SellAsset != p.SrcAsset || leg.SellAmount.Cmp(net) > 0 {
		return nil, ErrInvalidToken
	}

	preOut := x.ledger.BalanceOf(state, p.DstAsset, p.Receiver)

	value := new(big.Int)
	if leg.SellAsset.IsNative() {
		value.Set(leg.SellAmount)
	} else {
		x.ledger.Approve(state, leg.SellAsset.Address, x.self, leg.TargetVenue, leg.SellAmount)
		defer x.ledger.Approve(state, leg.SellAsset.Address, x.self, leg.TargetVenue, new(big.Int))
	}
	if _, err := caller.Call(state, leg.TargetVenue, leg.CallData, value); err != nil {
		return nil, fmt.Errorf("venue %s: %w", leg.TargetVenue, err)
	}

	postOut := x.ledger.BalanceOf(state, p.DstAsset, p.Receiver)
	out := new(big.Int).Sub(postOut, preOut)
	if out.Sign() < 0 {
		return nil, ErrUnderflow
	}
	if out.Cmp(p.AmountOutMin) < 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutput, out, p.AmountOutMin)
	}
	if err := x.creditFee(fee); err != nil {
		return nil, err
	}

	x.emitSwapped(p, out)
	return out, nil
}

// RecoverAsset drains stranded value from the executor account. Admin only.
func (x *Executor) RecoverAsset(state contract.StateDB, caller common.Address, asset Asset, to common.Address, amount *big.Int) error {
	if caller != x.admin {
		return ErrNotAuthority
	}
	if to == (common.Address{}) {
		return ErrZeroReceiver
	}
	if err := x.ledger.Transfer(state, asset, x.self, to, amount); err != nil {
		return err
	}
	x.journal.Append(Event{Name: EventRecover, Receiver: to, Asset: asset, Amount: amount})
	x.log.Info("asset recovered", "asset", asset.Address, "to", to, "amount", amount)
	return nil
}

func (x *Executor) validate(p SwapParams) error {
	if p.Receiver == (common.Address{}) {
		return ErrZeroReceiver
	}
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if len(p.Legs) == 0 {
		return ErrNoLegs
	}
	if p.Integrator.FeeBps > FeeDenom || p.Integrator.ShareBps > FeeDenom {
		return ErrInvalidFee
	}
	return nil
}

// pullFunds moves the declared input into the executor account. Native
// input must arrive as call value; token input comes by ledger transfer or
// by permit through the transfer authority.
func (x *Executor) pullFunds(state contract.StateDB, p SwapParams) error {
	if p.SrcAsset.IsNative() {
		if p.Value == nil || p.Value.Cmp(p.AmountIn) != 0 {
			return ErrValueMismatch
		}
		// value is already credited to the precompile account by the EVM
		if x.ledger.BalanceOf(state, NativeAsset, x.self).Cmp(p.AmountIn) < 0 {
			return ErrUnderflow
		}
		return nil
	}
	if p.Value != nil && p.Value.Sign() != 0 {
		return ErrValueMismatch
	}
	if p.Permit != nil {
		if x.authority == nil {
			return fmt.Errorf("%w: no transfer authority configured", ErrPermitRejected)
		}
		if err := x.authority.ApplyPermit(state, *p.Permit, p.SrcAsset.Address, x.self); err != nil {
			return fmt.Errorf("%w: %v", ErrPermitRejected, err)
		}
		return nil
	}
	return x.ledger.Transfer(state, p.SrcAsset, p.User, x.self, p.AmountIn)
}

// feeSplit is a fee computed off the gross input but not yet accrued. The
// vault is outside the state revert domain, so accrual waits until the
// settlement has succeeded.
type feeSplit struct {
	asset      Asset
	integrator Integrator
	total      *big.Int
	protocol   *big.Int
}

// takeFee applies the integrator split to the gross input and returns the
// net amount handed to the engine. The fee event is emitted even when the
// fee rounds to zero; no value moves in that case.
func (x *Executor) takeFee(user common.Address, asset Asset, amount *big.Int, in Integrator) (*big.Int, feeSplit) {
	total, protocol := SplitFee(amount, in.FeeBps, in.ShareBps)

	x.journal.Append(Event{
		Name:     EventFeeTaken,
		User:     user,
		Asset:    asset,
		Amount:   total,
		FeeBps:   in.FeeBps,
		ShareBps: in.ShareBps,
	})

	split := feeSplit{asset: asset, integrator: in, total: total, protocol: protocol}
	if total.Sign() == 0 {
		return new(big.Int).Set(amount), split
	}
	return new(big.Int).Sub(amount, total), split
}

// creditFee accrues a computed fee to the vault. Called only once the
// settlement is past the point of failure.
func (x *Executor) creditFee(f feeSplit) error {
	if f.total.Sign() == 0 {
		return nil
	}
	integratorCut := new(big.Int).Sub(f.total, f.protocol)
	if err := x.vault.CreditProtocol(f.asset, f.protocol); err != nil {
		return err
	}
	if err := x.vault.CreditIntegrator(f.integrator.ID, f.asset, integratorCut); err != nil {
		return err
	}
	x.log.Debug("fee taken", "asset", f.asset.Address,
		"total", f.total, "protocol", f.protocol, "integrator", integratorCut)
	return nil
}

func (x *Executor) emitSwapped(p SwapParams, out *big.Int) {
	x.journal.Append(Event{
		Name:      EventSwapped,
		User:      p.User,
		Receiver:  p.Receiver,
		Asset:     p.SrcAsset,
		DstAsset:  p.DstAsset,
		Amount:    p.AmountIn,
		AmountOut: out,
	})
	x.log.Info("swap settled", "user", p.User, "receiver", p.Receiver,
		"src", p.SrcAsset.Address, "dst", p.DstAsset.Address,
		"in", p.AmountIn, "out", out)
}
