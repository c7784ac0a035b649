// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crosschain implements the two-phase cross-chain settlement flow:
// a source-side pipeline that swaps into a bridgeable stable asset and
// hands it to one of four bridge transports, and a destination-side
// receiver that finishes the trade or refunds the bridged stable.
package crosschain

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/router/router"
)

// Precompile addresses for cross-chain settlement components
const (
	CrossChainAddress = "0x0000000000000000000000000000000000009200" // LP-9200 Cross-chain committer
	ReceiverAddress   = "0x0000000000000000000000000000000000009201" // LP-9201 Destination receiver
	MessageBridgeAddr = "0x0000000000000000000000000000000000009210" // LP-9210 Message bridge transport
	PostedSwapAddr    = "0x0000000000000000000000000000000000009211" // LP-9211 Posted-swap transport
	PayloadRelayAddr  = "0x0000000000000000000000000000000000009212" // LP-9212 Payload relay transport
	LiquidityPoolAddr = "0x0000000000000000000000000000000000009213" // LP-9213 Liquidity pool transport
)

// Supported chain IDs
const (
	ChainLux      uint32 = 96369  // Lux mainnet C-Chain
	ChainEthereum uint32 = 1      // Ethereum mainnet
	ChainArbitrum uint32 = 42161  // Arbitrum One
	ChainOptimism uint32 = 10     // Optimism
	ChainBase     uint32 = 8453   // Base
	ChainPolygon  uint32 = 137    // Polygon PoS
	ChainBSC      uint32 = 56     // BNB Smart Chain
)

// OrderStatus tracks a cross-chain order on the source side.
type OrderStatus uint8

const (
	StatusCommitted OrderStatus = iota
	StatusCompleted
	StatusRefunded
)

// Order is one committed cross-chain settlement.
type Order struct {
	ID          common.Hash
	User        common.Address
	SrcChain    uint32
	DstChain    uint32
	GiveAsset   router.Asset // stable asset handed to the transport
	GiveAmount  *big.Int
	TakeAmount  *big.Int // expected stable on the destination after fees
	Payload     []byte   // opaque destination instructions
	BridgeFee   *big.Int
	Status      OrderStatus
	CommittedAt uint64
}

// TakeAmountParams are the inputs of the source-to-destination amount
// conversion, applied in a fixed order.
type TakeAmountParams struct {
	ProtocolFeeBps   uint32
	TakerFeeBps      uint32
	SrcDecimals      uint8
	DstDecimals      uint8
	OperatingExpense *big.Int
}

// DestinationPayload is the decoded second-phase instruction set.
type DestinationPayload struct {
	FinalReceiver common.Address
	DstAsset      router.Asset
	MinQuote      *big.Int
	Legs          []router.TradeLeg
	// PositiveSlippageBps is skimmed from output above MinQuote.
	PositiveSlippageBps uint32
}

// Errors - source side
var (
	ErrInvalidTokenOut     = errors.New("output asset is not a registered stable")
	ErrInsufficientValue   = errors.New("attached value below trade amount plus bridge fee")
	ErrUnsupportedChain    = errors.New("destination chain not supported")
	ErrTakeAmountUnderflow = errors.New("take amount reduced below zero")
)

// Errors - destination side
var (
	ErrOnlyBridgeAdapter     = errors.New("caller is not the bridge adapter")
	ErrNotRegisteredContract = errors.New("sender not registered for source chain")
	ErrWrongAmountReceived   = errors.New("attached transfer does not match declared amount")
	ErrBadPayload            = errors.New("malformed destination payload")
)

// hashID derives a 32-byte identifier.
func hashID(prefix []byte, parts ...[]byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	for _, p := range parts {
		h.Write(p)
	}
	var out common.Hash
	h.Digest().Read(out[:])
	return out
}
