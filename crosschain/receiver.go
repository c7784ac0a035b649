// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crosschain

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/router/contract"
	"github.com/luxfi/router/router"
)

// Outcome is the tagged result of the destination-side trade attempt.
type Outcome struct {
	Success   bool
	AmountOut *big.Int
	Reason    string
}

// Receiver finishes cross-chain orders on the destination chain. A failed
// second-phase trade is not an error: the bridged stable is refunded and
// the callback succeeds, because the bridge has already delivered and
// cannot take the funds back.
type Receiver struct {
	self    common.Address
	adapter common.Address
	relay   *PayloadRelayBridge
	ledger  *router.Ledger
	engine  *router.Engine
	vault   *router.FeeVault
	journal *router.EventJournal
	log     log.Logger

	mu     sync.Mutex
	locked bool
}

// NewReceiver wires the destination side. adapter is the only account
// allowed to deliver plain bridge callbacks; relayed payloads are gated by
// the relay bridge's registered-sender map instead.
func NewReceiver(
	self common.Address,
	adapter common.Address,
	relay *PayloadRelayBridge,
	ledger *router.Ledger,
	engine *router.Engine,
	vault *router.FeeVault,
	logger log.Logger,
) *Receiver {
	return &Receiver{
		self:    self,
		adapter: adapter,
		relay:   relay,
		ledger:  ledger,
		engine:  engine,
		vault:   vault,
		journal: &router.EventJournal{},
		log:     logger,
	}
}

// Journal exposes the destination event journal.
func (r *Receiver) Journal() *router.EventJournal {
	return r.journal
}

func (r *Receiver) lock() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return router.ErrReentrant
	}
	r.locked = true
	return nil
}

func (r *Receiver) unlock() {
	r.mu.Lock()
	r.locked = false
	r.mu.Unlock()
}

// OnAssetReceived handles a bridge delivery of stable tokens. The adapter
// has already credited amount to the receiver account when this runs.
func (r *Receiver) OnAssetReceived(
	state contract.StateDB,
	ext contract.Caller,
	caller common.Address,
	orderID common.Hash,
	stable router.Asset,
	amount *big.Int,
	payload []byte,
) error {
	if caller != r.adapter {
		return fmt.Errorf("%w: %s", ErrOnlyBridgeAdapter, caller)
	}
	return r.finish(state, ext, orderID, stable, amount, payload)
}

// OnNativeReceived handles a bridge delivery of native coin.
func (r *Receiver) OnNativeReceived(
	state contract.StateDB,
	ext contract.Caller,
	caller common.Address,
	orderID common.Hash,
	amount *big.Int,
	payload []byte,
) error {
	if caller != r.adapter {
		return fmt.Errorf("%w: %s", ErrOnlyBridgeAdapter, caller)
	}
	return r.finish(state, ext, orderID, router.NativeAsset, amount, payload)
}

// OnRelayedPayload handles a payload-relay delivery. The sender is checked
// against the registered counterpart for the source chain, and the
// attached transfer must equal the declared amount.
func (r *Receiver) OnRelayedPayload(
	state contract.StateDB,
	ext contract.Caller,
	srcChain uint32,
	sender common.Address,
	declared *big.Int,
	attached *big.Int,
	orderID common.Hash,
	stable router.Asset,
	payload []byte,
) error {
	if err := r.relay.VerifyInbound(srcChain, sender, declared, attached); err != nil {
		return err
	}
	return r.finish(state, ext, orderID, stable, attached, payload)
}

// finish runs the second-phase trade and settles either branch. Exactly
// one terminal event is emitted per delivery.
func (r *Receiver) finish(
	state contract.StateDB,
	ext contract.Caller,
	orderID common.Hash,
	stable router.Asset,
	amount *big.Int,
	rawPayload []byte,
) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.unlock()

	payload, err := DecodePayload(rawPayload)
	if err != nil {
		return err
	}

	balStablePre := r.ledger.BalanceOf(state, stable, r.self)
	if balStablePre.Cmp(amount) < 0 {
		return router.ErrUnderflow
	}

	var outcome Outcome
	if len(payload.Legs) == 0 && stable == payload.DstAsset {
		// plain delivery, nothing to trade
		outcome = Outcome{Success: true, AmountOut: new(big.Int).Set(amount)}
	} else {
		outcome = r.attemptLegs(state, ext, stable, amount, payload)
	}

	if !outcome.Success {
		if err := r.ledger.Transfer(state, stable, r.self, payload.FinalReceiver, amount); err != nil {
			return err
		}
		r.journal.Append(router.Event{
			Name:     EventDestinationFailed,
			Receiver: payload.FinalReceiver,
			Asset:    stable,
			Amount:   amount,
			OrderID:  orderID,
			Reason:   outcome.Reason,
		})
		r.log.Warn("destination trade failed, stable refunded",
			"order", orderID, "receiver", payload.FinalReceiver, "amount", amount,
			"reason", outcome.Reason)
		return nil
	}

	out := outcome.AmountOut
	skim := new(big.Int)
	if payload.PositiveSlippageBps > 0 && out.Cmp(payload.MinQuote) > 0 {
		surplus := new(big.Int).Sub(out, payload.MinQuote)
		skim.Mul(surplus, big.NewInt(int64(payload.PositiveSlippageBps)))
		skim.Div(skim, big.NewInt(router.FeeDenom))
		if skim.Sign() > 0 {
			out = new(big.Int).Sub(out, skim)
		}
	}
	if err := r.ledger.Transfer(state, payload.DstAsset, r.self, payload.FinalReceiver, out); err != nil {
		return err
	}

	// sweep whatever stable the legs did not consume
	balStablePost := r.ledger.BalanceOf(state, stable, r.self)
	residual := new(big.Int).Sub(balStablePost, new(big.Int).Sub(balStablePre, amount))
	if stable == payload.DstAsset {
		// the skim stays behind as the vault's backing
		residual.Sub(residual, skim)
	}
	if residual.Sign() > 0 {
		if err := r.ledger.Transfer(state, stable, r.self, payload.FinalReceiver, residual); err != nil {
			return err
		}
	}

	// the vault sits outside the state revert domain, so the skim accrues
	// only once the delivery and sweep transfers have gone through
	if skim.Sign() > 0 {
		if err := r.vault.CreditProtocol(payload.DstAsset, skim); err != nil {
			return err
		}
	}

	r.journal.Append(router.Event{
		Name:      EventDestinationCompleted,
		Receiver:  payload.FinalReceiver,
		Asset:     stable,
		DstAsset:  payload.DstAsset,
		Amount:    amount,
		AmountOut: out,
		OrderID:   orderID,
	})
	r.log.Info("destination trade completed", "order", orderID,
		"receiver", payload.FinalReceiver, "out", out)
	return nil
}

// attemptLegs runs the second-phase legs under a state snapshot. Any
// failure, venue revert or short output alike, rolls the snapshot back and
// reports a failed outcome instead of an error.
func (r *Receiver) attemptLegs(
	state contract.StateDB,
	ext contract.Caller,
	stable router.Asset,
	amount *big.Int,
	payload DestinationPayload,
) Outcome {
	n := len(payload.Legs)
	if n == 0 {
		return Outcome{Reason: fmt.Sprintf("no legs convert %s into %s",
			stable.Address, payload.DstAsset.Address)}
	}
	if payload.Legs[n-1].BuyAsset != payload.DstAsset {
		return Outcome{Reason: fmt.Sprintf("legs end in %s, payload wants %s",
			payload.Legs[n-1].BuyAsset.Address, payload.DstAsset.Address)}
	}
	snap := state.Snapshot()
	out, err := r.engine.ExecuteLegs(state, ext, stable, amount, payload.Legs, true)
	if err == nil && out.Cmp(payload.MinQuote) < 0 {
		err = fmt.Errorf("%w: got %s, want at least %s", router.ErrInsufficientOutput, out, payload.MinQuote)
	}
	if err != nil {
		state.RevertToSnapshot(snap)
		return Outcome{Reason: err.Error()}
	}
	return Outcome{Success: true, AmountOut: out}
}

// EncodePayload packs the destination instructions:
//
//	receiver(20) dstAsset(20) minQuote(32) posSlippageBps(4)
//	then per leg: venue(20) sell(20) buy(20) amount(32) dataLen(4) data
func EncodePayload(p DestinationPayload) []byte {
	out := make([]byte, 0, 76)
	out = append(out, p.FinalReceiver.Bytes()...)
	out = append(out, p.DstAsset.Address.Bytes()...)
	out = append(out, common.BigToHash(p.MinQuote).Bytes()...)
	out = append(out, u32be(p.PositiveSlippageBps)...)
	for _, leg := range p.Legs {
		out = append(out, leg.TargetVenue.Bytes()...)
		out = append(out, leg.SellAsset.Address.Bytes()...)
		out = append(out, leg.BuyAsset.Address.Bytes()...)
		out = append(out, common.BigToHash(leg.SellAmount).Bytes()...)
		out = append(out, u32be(uint32(len(leg.CallData)))...)
		out = append(out, leg.CallData...)
	}
	return out
}

// DecodePayload unpacks EncodePayload's format.
func DecodePayload(data []byte) (DestinationPayload, error) {
	const header = 20 + 20 + 32 + 4
	if len(data) < header {
		return DestinationPayload{}, fmt.Errorf("%w: %d bytes", ErrBadPayload, len(data))
	}
	p := DestinationPayload{
		FinalReceiver:       common.BytesToAddress(data[0:20]),
		DstAsset:            router.Asset{Address: common.BytesToAddress(data[20:40])},
		MinQuote:            new(big.Int).SetBytes(data[40:72]),
		PositiveSlippageBps: binary.BigEndian.Uint32(data[72:76]),
	}
	if p.FinalReceiver == (common.Address{}) {
		return DestinationPayload{}, fmt.Errorf("%w: zero receiver", ErrBadPayload)
	}

	rest := data[header:]
	for len(rest) > 0 {
		const legHeader = 20 + 20 + 20 + 32 + 4
		if len(rest) < legHeader {
			return DestinationPayload{}, fmt.Errorf("%w: truncated leg", ErrBadPayload)
		}
		dataLen := binary.BigEndian.Uint32(rest[92:96])
		if uint64(len(rest)) < uint64(legHeader)+uint64(dataLen) {
			return DestinationPayload{}, fmt.Errorf("%w: truncated leg data", ErrBadPayload)
		}
		p.Legs = append(p.Legs, router.TradeLeg{
			TargetVenue: common.BytesToAddress(rest[0:20]),
			SellAsset:   router.Asset{Address: common.BytesToAddress(rest[20:40])},
			BuyAsset:    router.Asset{Address: common.BytesToAddress(rest[40:60])},
			SellAmount:  new(big.Int).SetBytes(rest[60:92]),
			CallData:    append([]byte{}, rest[legHeader:legHeader+int(dataLen)]...),
		})
		rest = rest[legHeader+int(dataLen):]
	}
	return p, nil
}
