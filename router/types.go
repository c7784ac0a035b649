// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router implements the multi-venue swap settlement precompiles.
// Trades arrive as sequences of opaque venue calls; the router custodies the
// input, walks the sequence under conservation checks, takes fees in integer
// arithmetic, and delivers the output or aborts the whole settlement.
package router

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/router/contract"
)

// Precompile addresses for router components
// LP-aligned format: 0x0000000000000000000000000000000000LPNUM
const (
	RouterAddress        = "0x0000000000000000000000000000000000009100" // LP-9100 Router (settlement core)
	VenueRegistryAddress = "0x0000000000000000000000000000000000009101" // LP-9101 Venue registry
	FeeVaultAddress      = "0x0000000000000000000000000000000000009102" // LP-9102 Fee accrual vault
	TokenLedgerAddress   = "0x0000000000000000000000000000000000009103" // LP-9103 Token balance ledger
	GaslessAddress       = "0x0000000000000000000000000000000000009104" // LP-9104 Gasless relay
)

// Gas costs per settlement operation
const (
	GasSwap       uint64 = 60_000 // Exact-in settlement
	GasSwapSimple uint64 = 30_000 // Single-venue direct delivery
	GasGasless    uint64 = 80_000 // Signature-relayed settlement
	GasQuery      uint64 = 2_100  // Read-only lookups
	GasAdmin      uint64 = 20_000 // Admin ops
	GasPerLeg     uint64 = 15_000 // Each routed venue call
)

// FeeDenom is the basis-point denominator for all fee arithmetic.
const FeeDenom = 10_000

// Asset identifies a settled asset. The zero address is the native coin;
// anything else is a token tracked in the ledger.
type Asset struct {
	Address common.Address
}

// NativeAsset is the chain's native coin.
var NativeAsset = Asset{}

func (a Asset) IsNative() bool {
	return a.Address == (common.Address{})
}

// TradeLeg is one opaque venue call in a settlement sequence. CallData is
// forwarded to the venue byte-for-byte; only its leading 4-byte selector is
// inspected, for the registry gate.
type TradeLeg struct {
	TargetVenue common.Address
	SellAsset   Asset
	BuyAsset    Asset
	SellAmount  *big.Int
	CallData    []byte
}

// Selector returns the leading 4 bytes of the leg's call data.
func (l TradeLeg) Selector() [4]byte {
	var sel [4]byte
	copy(sel[:], l.CallData)
	return sel
}

// Integrator carries the inline fee terms of the caller's integration:
// FeeBps is taken off the gross input, ShareBps is the protocol's cut of
// that fee, the remainder accrues to ID.
type Integrator struct {
	ID       common.Address
	FeeBps   uint32
	ShareBps uint32
}

// Permit is a signed single-use spending authorization, verified by an
// external transfer authority rather than the router itself.
type Permit struct {
	Owner     common.Address
	Amount    *big.Int
	Nonce     uint64
	Deadline  uint64
	Signature []byte
}

// TransferAuthority validates permits and performs the authorized pull.
// Nonce consumption is the authority's job; the router treats a permit as
// spent once ApplyPermit returns nil.
type TransferAuthority interface {
	ApplyPermit(state contract.StateDB, permit Permit, token common.Address, to common.Address) error
}

// Errors - validation
var (
	ErrNoLegs        = errors.New("empty trade leg sequence")
	ErrInvalidToken  = errors.New("leg sells a token the settlement does not hold")
	ErrZeroReceiver  = errors.New("receiver is the zero address")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidFee    = errors.New("fee terms out of range")
	ErrValueMismatch = errors.New("attached value does not match declared input")
)

// Errors - authorization
var (
	ErrUnverifiedVenue = errors.New("venue or selector not whitelisted")
	ErrNotAuthority    = errors.New("caller is not the executor authority")
	ErrPermitRejected  = errors.New("permit rejected by transfer authority")
)

// Errors - conservation
var (
	ErrOversoldSource = errors.New("legs oversell the source asset")
	ErrFundsDiverted  = errors.New("venue consumed more than its declared input")
	ErrUnderflow      = errors.New("balance underflow")
)

// Errors - slippage and sequencing
var (
	ErrSlippage           = errors.New("leg output below next leg input")
	ErrTokenMismatch      = errors.New("leg buy asset does not feed next leg")
	ErrInsufficientOutput = errors.New("output below minimum")
)

// Errors - replay and reentrancy
var (
	ErrReentrant            = errors.New("reentrancy detected")
	ErrOrderExpired         = errors.New("order deadline passed")
	ErrInvalidSignature     = errors.New("signature does not recover order user")
	ErrOrderAlreadyExecuted = errors.New("order already executed")
)

// hashID derives a 32-byte identifier from a prefix and parts.
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
