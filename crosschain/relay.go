// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crosschain

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/router/contract"
	"github.com/luxfi/router/router"
)

// PayloadRelayBridge carries an opaque payload together with an attached
// stablecoin transfer. Inbound messages are only accepted from the one
// registered counterpart contract per source chain, and the attached
// transfer must match the declared amount exactly.
type PayloadRelayBridge struct {
	self      common.Address
	committer common.Address
	admin     common.Address
	ledger    *router.Ledger
	log       log.Logger

	mu      sync.Mutex
	senders map[uint32]common.Address
}

// NewPayloadRelayBridge creates the payload relay transport.
func NewPayloadRelayBridge(self, committer, admin common.Address, ledger *router.Ledger, logger log.Logger) *PayloadRelayBridge {
	return &PayloadRelayBridge{
		self:      self,
		committer: committer,
		admin:     admin,
		ledger:    ledger,
		log:       logger,
		senders:   make(map[uint32]common.Address),
	}
}

func (b *PayloadRelayBridge) Name() string            { return "relay" }
func (b *PayloadRelayBridge) Address() common.Address { return b.self }

// RegisterSender binds the counterpart contract for a source chain. Admin
// only.
func (b *PayloadRelayBridge) RegisterSender(caller common.Address, srcChain uint32, sender common.Address) error {
	if caller != b.admin {
		return router.ErrNotAuthority
	}
	b.mu.Lock()
	b.senders[srcChain] = sender
	b.mu.Unlock()
	b.log.Info("relay sender registered", "srcChain", srcChain, "sender", sender)
	return nil
}

// Submit escrows the stable alongside the payload for relay.
func (b *PayloadRelayBridge) Submit(state contract.StateDB, caller contract.Caller, order *Order) error {
	if !order.GiveAsset.IsNative() {
		if err := b.ledger.TransferFrom(state, order.GiveAsset.Address, b.self, b.committer, b.self, order.GiveAmount); err != nil {
			return err
		}
	}
	b.log.Info("payload relayed", "id", order.ID, "amount", order.GiveAmount, "dstChain", order.DstChain)
	return nil
}

// VerifyInbound gates a destination-side relay delivery: the sender must
// be the registered counterpart for the source chain, and the attached
// stable transfer must equal the payload's declared amount.
func (b *PayloadRelayBridge) VerifyInbound(srcChain uint32, sender common.Address, declared, attached *big.Int) error {
	b.mu.Lock()
	registered, ok := b.senders[srcChain]
	b.mu.Unlock()
	if !ok || registered != sender {
		return fmt.Errorf("%w: chain %d sender %s", ErrNotRegisteredContract, srcChain, sender)
	}
	if declared == nil || attached == nil || declared.Cmp(attached) != 0 {
		return fmt.Errorf("%w: declared %s, attached %s", ErrWrongAmountReceived, declared, attached)
	}
	return nil
}
