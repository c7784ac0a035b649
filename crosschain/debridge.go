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

// MessageOrder is the on-chain order object of the message bridge. Give is
// what was escrowed here, take is what the destination must pay out.
type MessageOrder struct {
	Salt        uint64
	GiveToken   common.Address
	GiveAmount  *big.Int
	GiveChainID uint32
	TakeToken   common.Address
	TakeAmount  *big.Int
	TakeChainID uint32
	Receiver    common.Address
	Payload     []byte
}

// ID derives the order id from the salt and the give/take fields. The same
// salt and fields always produce the same id, so a resubmitted order maps
// onto the original instead of a duplicate.
func (o *MessageOrder) ID() common.Hash {
	return hashID([]byte("mord"),
		u64be(o.Salt),
		o.GiveToken.Bytes(), o.GiveAmount.Bytes(), u32be(o.GiveChainID),
		o.TakeToken.Bytes(), o.TakeAmount.Bytes(), u32be(o.TakeChainID),
		o.Receiver.Bytes())
}

// MessageBridge escrows the give amount and emits a cross-chain message
// per order. Orders are salted for idempotent ids.
type MessageBridge struct {
	self      common.Address
	committer common.Address
	ledger    *router.Ledger
	log       log.Logger

	mu     sync.Mutex
	salt   uint64
	orders map[common.Hash]*MessageOrder
}

// NewMessageBridge creates the message bridge transport. committer is the
// only account whose approvals it spends.
func NewMessageBridge(self, committer common.Address, ledger *router.Ledger, logger log.Logger) *MessageBridge {
	return &MessageBridge{
		self:      self,
		committer: committer,
		ledger:    ledger,
		log:       logger,
		orders:    make(map[common.Hash]*MessageOrder),
	}
}

func (b *MessageBridge) Name() string            { return "message" }
func (b *MessageBridge) Address() common.Address { return b.self }

// Submit escrows the stable and records the salted order.
func (b *MessageBridge) Submit(state contract.StateDB, caller contract.Caller, order *Order) error {
	b.mu.Lock()
	b.salt++
	salt := b.salt
	b.mu.Unlock()

	if !order.GiveAsset.IsNative() {
		if err := b.ledger.TransferFrom(state, order.GiveAsset.Address, b.self, b.committer, b.self, order.GiveAmount); err != nil {
			return err
		}
	}

	m := &MessageOrder{
		Salt:        salt,
		GiveToken:   order.GiveAsset.Address,
		GiveAmount:  new(big.Int).Set(order.GiveAmount),
		GiveChainID: order.SrcChain,
		TakeToken:   order.GiveAsset.Address,
		TakeAmount:  new(big.Int).Set(order.TakeAmount),
		TakeChainID: order.DstChain,
		Receiver:    order.User,
		Payload:     order.Payload,
	}

	b.mu.Lock()
	id := m.ID()
	if _, dup := b.orders[id]; dup {
		b.mu.Unlock()
		return fmt.Errorf("order %s already submitted", id)
	}
	b.orders[id] = m
	b.mu.Unlock()

	b.log.Info("message order escrowed", "id", id, "salt", salt,
		"give", m.GiveAmount, "take", m.TakeAmount, "dstChain", m.TakeChainID)
	return nil
}

// Order returns a submitted message order by id.
func (b *MessageBridge) Order(id common.Hash) (*MessageOrder, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	return o, ok
}
