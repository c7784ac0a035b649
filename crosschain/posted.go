// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crosschain

import (
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/router/contract"
	"github.com/luxfi/router/router"
)

// PostedSwapBridge posts orders into an external posting contract. The
// posting contract calls back during the post to learn who authorized the
// funds; the answer lives in a transient slot that only exists for the
// duration of the outbound call.
type PostedSwapBridge struct {
	self           common.Address
	committer      common.Address
	postedContract common.Address
	ledger         *router.Ledger
	log            log.Logger

	mu sync.Mutex
	// currentAuthorizer is only non-zero while Submit's outbound call is
	// in flight.
	currentAuthorizer common.Address
}

// NewPostedSwapBridge creates the posted-swap transport.
func NewPostedSwapBridge(self, committer, postedContract common.Address, ledger *router.Ledger, logger log.Logger) *PostedSwapBridge {
	return &PostedSwapBridge{
		self:           self,
		committer:      committer,
		postedContract: postedContract,
		ledger:         ledger,
		log:            logger,
	}
}

func (b *PostedSwapBridge) Name() string            { return "posted" }
func (b *PostedSwapBridge) Address() common.Address { return b.self }

// CurrentAuthorizer returns the account whose funds back the in-flight
// posting, or the zero address outside a Submit call.
func (b *PostedSwapBridge) CurrentAuthorizer() common.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentAuthorizer
}

// Submit escrows the stable and posts the order. The authorizer slot is
// set just before the external call and cleared on every exit path.
func (b *PostedSwapBridge) Submit(state contract.StateDB, caller contract.Caller, order *Order) error {
	value := new(big.Int)
	if order.GiveAsset.IsNative() {
		value.Set(order.GiveAmount)
	} else {
		if err := b.ledger.TransferFrom(state, order.GiveAsset.Address, b.self, b.committer, b.self, order.GiveAmount); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.currentAuthorizer = order.User
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.currentAuthorizer = common.Address{}
		b.mu.Unlock()
	}()

	input := encodePosting(order)
	if _, err := caller.Call(state, b.postedContract, input, value); err != nil {
		return err
	}

	b.log.Info("swap posted", "id", order.ID, "take", order.TakeAmount, "dstChain", order.DstChain)
	return nil
}

// encodePosting packs the fields the posting contract needs.
func encodePosting(order *Order) []byte {
	out := make([]byte, 0, 4+32+20+32+4+len(order.Payload))
	out = append(out, 0x50, 0x6f, 0x73, 0x74) // "Post"
	out = append(out, order.ID.Bytes()...)
	out = append(out, order.GiveAsset.Address.Bytes()...)
	out = append(out, common.BigToHash(order.TakeAmount).Bytes()...)
	out = append(out, u32be(order.DstChain)...)
	out = append(out, order.Payload...)
	return out
}
