// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/router/contract"
	"github.com/luxfi/router/registry"
)

// Engine walks a trade-leg sequence, invoking one whitelisted venue per leg
// while enforcing the conservation and continuity checks around each opaque
// call. The engine never interprets CallData beyond its selector.
type Engine struct {
	registry *registry.VenueRegistry
	ledger   *Ledger
	self     common.Address
	log      log.Logger
}

// NewEngine builds an engine executing from the router's own account.
func NewEngine(reg *registry.VenueRegistry, ledger *Ledger, self common.Address, logger log.Logger) *Engine {
	return &Engine{
		registry: reg,
		ledger:   ledger,
		self:     self,
		log:      logger,
	}
}

// ExecuteLegs runs the sequence against the venues. srcAsset/srcAmount is
// what the engine custodies on entry; the legs may split it across venues
// but never exceed it in total. destSide marks execution inside a bridge
// callback, where no caller value accompanies the call.
//
// Returns the delta of the final leg's buy asset accumulated by the engine
// account across the whole run.
func (e *Engine) ExecuteLegs(
	state contract.StateDB,
	caller contract.Caller,
	srcAsset Asset,
	srcAmount *big.Int,
	legs []TradeLeg,
	destSide bool,
) (*big.Int, error) {
	if len(legs) == 0 {
		return nil, ErrNoLegs
	}
	if legs[0].SellAsset != srcAsset {
		return nil, fmt.Errorf("%w: first leg sells %s", ErrInvalidToken, legs[0].SellAsset.Address)
	}
	if destSide && srcAsset.IsNative() {
		// bridge callbacks deliver tokens, never attached native value
		return nil, ErrInvalidToken
	}

	finalBuy := legs[len(legs)-1].BuyAsset
	finalStart := e.ledger.BalanceOf(state, finalBuy, e.self)

	sold := new(big.Int)
	for i, leg := range legs {
		if leg.SellAmount == nil || leg.SellAmount.Sign() <= 0 {
			return nil, fmt.Errorf("leg %d: %w", i, ErrInvalidAmount)
		}

		// gate before any external interaction
		if !e.registry.IsAllowed(state, leg.TargetVenue, leg.Selector()) {
			return nil, fmt.Errorf("leg %d venue %s: %w", i, leg.TargetVenue, ErrUnverifiedVenue)
		}

		if leg.SellAsset == srcAsset {
			sold.Add(sold, leg.SellAmount)
			if sold.Cmp(srcAmount) > 0 {
				return nil, fmt.Errorf("leg %d: %w (%s > %s)", i, ErrOversoldSource, sold, srcAmount)
			}
		}

		preSell := e.ledger.BalanceOf(state, leg.SellAsset, e.self)
		preBuy := e.ledger.BalanceOf(state, leg.BuyAsset, e.self)
		if preSell.Cmp(leg.SellAmount) < 0 {
			return nil, fmt.Errorf("leg %d: %w", i, ErrInvalidToken)
		}

		if err := e.callVenue(state, caller, leg); err != nil {
			return nil, fmt.Errorf("leg %d venue %s: %w", i, leg.TargetVenue, err)
		}

		postSell := e.ledger.BalanceOf(state, leg.SellAsset, e.self)
		postBuy := e.ledger.BalanceOf(state, leg.BuyAsset, e.self)

		// the venue may take at most its declared input
		floor := new(big.Int).Sub(preSell, leg.SellAmount)
		if postSell.Cmp(floor) < 0 {
			return nil, fmt.Errorf("leg %d venue %s: %w", i, leg.TargetVenue, ErrFundsDiverted)
		}

		bought := new(big.Int).Sub(postBuy, preBuy)
		if leg.SellAsset == leg.BuyAsset {
			bought = new(big.Int).Sub(postBuy, floor)
		}

		if i+1 < len(legs) {
			// split routing: a following leg drawing on the source asset
			// is checked against the running total, not this leg's output
			next := legs[i+1]
			if next.SellAsset != srcAsset {
				if next.SellAsset != leg.BuyAsset {
					return nil, fmt.Errorf("leg %d: %w (%s feeds %s)", i, ErrTokenMismatch,
						leg.BuyAsset.Address, next.SellAsset.Address)
				}
				if next.SellAmount.Cmp(bought) > 0 {
					return nil, fmt.Errorf("leg %d: %w (bought %s, next sells %s)", i, ErrSlippage,
						bought, next.SellAmount)
				}
			}
		}

		e.log.Debug("leg executed", "index", i, "venue", leg.TargetVenue,
			"sold", leg.SellAmount, "bought", bought)
	}

	finalEnd := e.ledger.BalanceOf(state, finalBuy, e.self)
	out := new(big.Int).Sub(finalEnd, finalStart)
	if finalBuy == srcAsset {
		// a round trip back into the source asset nets out what was sold
		out = new(big.Int).Add(out, sold)
	}
	if out.Sign() < 0 {
		return nil, fmt.Errorf("final output: %w", ErrUnderflow)
	}
	return out, nil
}

// callVenue hands the leg's input to the venue and forwards the opaque
// call data. Tokens travel by one-shot approval, native by call value. The
// approval is zeroed after the call no matter how it ends.
func (e *Engine) callVenue(state contract.StateDB, caller contract.Caller, leg TradeLeg) error {
	value := new(big.Int)
	if leg.SellAsset.IsNative() {
		value.Set(leg.SellAmount)
	} else {
		e.ledger.Approve(state, leg.SellAsset.Address, e.self, leg.TargetVenue, leg.SellAmount)
		defer e.ledger.Approve(state, leg.SellAsset.Address, e.self, leg.TargetVenue, new(big.Int))
	}

	if _, err := caller.Call(state, leg.TargetVenue, leg.CallData, value); err != nil {
		return err
	}
	return nil
}
