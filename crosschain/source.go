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
	"github.com/luxfi/router/registry"
	"github.com/luxfi/router/router"
)

// Event names recorded by the cross-chain flow.
const (
	EventCrossChainCommitted  = "CrossChainCommitted"
	EventDestinationCompleted = "DestinationCompleted"
	EventDestinationFailed    = "DestinationFailed"
)

// Transport is one bridge protocol the source side can hand a committed
// order to. Submit receives custody of the order's give amount through a
// one-shot approval (or attached native value) and must either accept the
// order or fail it atomically.
type Transport interface {
	Name() string
	Address() common.Address
	Submit(state contract.StateDB, caller contract.Caller, order *Order) error
}

// ComputeTakeAmount converts a source-side stable amount into the amount
// promised on the destination. The steps apply in a fixed order: protocol
// fee in bps, decimal rescale, taker fee in bps, then the flat operating
// expense. Exactly one rescale direction applies. Fails closed on
// underflow.
func ComputeTakeAmount(give *big.Int, p TakeAmountParams) (*big.Int, error) {
	if p.ProtocolFeeBps > router.FeeDenom || p.TakerFeeBps > router.FeeDenom {
		return nil, router.ErrInvalidFee
	}
	amt := new(big.Int).Set(give)

	fee := new(big.Int).Mul(amt, big.NewInt(int64(p.ProtocolFeeBps)))
	fee.Div(fee, big.NewInt(router.FeeDenom))
	amt.Sub(amt, fee)

	switch {
	case p.DstDecimals > p.SrcDecimals:
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.DstDecimals-p.SrcDecimals)), nil)
		amt.Mul(amt, scale)
	case p.SrcDecimals > p.DstDecimals:
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.SrcDecimals-p.DstDecimals)), nil)
		amt.Div(amt, scale)
	}

	fee = new(big.Int).Mul(amt, big.NewInt(int64(p.TakerFeeBps)))
	fee.Div(fee, big.NewInt(router.FeeDenom))
	amt.Sub(amt, fee)

	if p.OperatingExpense != nil {
		amt.Sub(amt, p.OperatingExpense)
	}
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("%w: give %s", ErrTakeAmountUnderflow, give)
	}
	return amt, nil
}

// CommitParams describes one source-side cross-chain settlement request.
type CommitParams struct {
	User     common.Address
	DstChain uint32
	SrcAsset router.Asset
	AmountIn *big.Int
	// Value is the native amount attached to the call. Covers the trade
	// input when SrcAsset is native, and always covers BridgeFee.
	Value        *big.Int
	BridgeFee    *big.Int
	Legs         []router.TradeLeg
	StableAsset  router.Asset
	MinStableOut *big.Int
	Take         TakeAmountParams
	Payload      []byte
	Integrator   router.Integrator
	Transport    string
}

// Committer runs the shared source-side pipeline and dispatches to the
// configured bridge transports.
type Committer struct {
	self       common.Address
	admin      common.Address
	registry   *registry.VenueRegistry
	ledger     *router.Ledger
	engine     *router.Engine
	vault      *router.FeeVault
	journal    *router.EventJournal
	log        log.Logger
	transports map[string]Transport

	mu      sync.Mutex
	locked  bool
	stables map[common.Address]bool
	chains  map[uint32]bool
	orders  map[common.Hash]*Order
}

// NewCommitter wires the source side together.
func NewCommitter(
	self common.Address,
	admin common.Address,
	reg *registry.VenueRegistry,
	ledger *router.Ledger,
	engine *router.Engine,
	vault *router.FeeVault,
	logger log.Logger,
) *Committer {
	return &Committer{
		self:       self,
		admin:      admin,
		registry:   reg,
		ledger:     ledger,
		engine:     engine,
		vault:      vault,
		journal:    &router.EventJournal{},
		log:        logger,
		transports: make(map[string]Transport),
		stables:    make(map[common.Address]bool),
		chains:     make(map[uint32]bool),
		orders:     make(map[common.Hash]*Order),
	}
}

// Journal exposes the cross-chain event journal.
func (c *Committer) Journal() *router.EventJournal {
	return c.journal
}

// RegisterTransport installs a bridge transport under its name.
func (c *Committer) RegisterTransport(t Transport) {
	c.transports[t.Name()] = t
}

// RegisterStable whitelists a bridgeable stable asset. Admin only.
func (c *Committer) RegisterStable(caller common.Address, asset router.Asset) error {
	if caller != c.admin {
		return router.ErrNotAuthority
	}
	c.stables[asset.Address] = true
	return nil
}

// RegisterChain whitelists a destination chain. Admin only.
func (c *Committer) RegisterChain(caller common.Address, chainID uint32) error {
	if caller != c.admin {
		return router.ErrNotAuthority
	}
	c.chains[chainID] = true
	return nil
}

// Order returns a committed order by id.
func (c *Committer) Order(id common.Hash) (*Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	return o, ok
}

func (c *Committer) lock() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return router.ErrReentrant
	}
	c.locked = true
	return nil
}

func (c *Committer) unlock() {
	c.mu.Lock()
	c.locked = false
	c.mu.Unlock()
}

// CommitOrder runs the source-side pipeline: swap the input into a
// registered stable, convert to the destination take amount, and hand the
// stable to the chosen transport with the opaque payload.
func (c *Committer) CommitOrder(state contract.StateDB, caller contract.Caller, p CommitParams) (*Order, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.unlock()

	if !c.stables[p.StableAsset.Address] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTokenOut, p.StableAsset.Address)
	}
	if !c.chains[p.DstChain] {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, p.DstChain)
	}
	transport, ok := c.transports[p.Transport]
	if !ok {
		return nil, fmt.Errorf("unknown transport %q", p.Transport)
	}
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return nil, router.ErrInvalidAmount
	}
	if p.BridgeFee == nil {
		p.BridgeFee = new(big.Int)
	}

	if err := c.pullFunds(state, p); err != nil {
		return nil, err
	}
	net, feeTotal, feeProtocol := c.takeFee(p)

	give, err := c.engine.ExecuteLegs(state, caller, p.SrcAsset, net, p.Legs, false)
	if err != nil {
		return nil, err
	}
	if give.Cmp(p.MinStableOut) < 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", router.ErrInsufficientOutput, give, p.MinStableOut)
	}

	take, err := ComputeTakeAmount(give, p.Take)
	if err != nil {
		return nil, err
	}

	order := &Order{
		ID: hashID([]byte("cord"), p.User.Bytes(), p.StableAsset.Address.Bytes(),
			give.Bytes(), p.Payload, u32be(p.DstChain), u64be(state.GetBlockNumber())),
		User:        p.User,
		SrcChain:    ChainLux,
		DstChain:    p.DstChain,
		GiveAsset:   p.StableAsset,
		GiveAmount:  give,
		TakeAmount:  take,
		Payload:     p.Payload,
		BridgeFee:   p.BridgeFee,
		Status:      StatusCommitted,
		CommittedAt: state.GetTimestamp(),
	}

	if err := c.submit(state, caller, transport, order); err != nil {
		return nil, err
	}
	if err := c.creditFee(p, feeTotal, feeProtocol); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.orders[order.ID] = order
	c.mu.Unlock()

	c.journal.Append(router.Event{
		Name:      EventCrossChainCommitted,
		User:      p.User,
		Asset:     p.SrcAsset,
		DstAsset:  p.StableAsset,
		Amount:    p.AmountIn,
		AmountOut: take,
		OrderID:   order.ID,
	})
	c.log.Info("cross-chain order committed", "id", order.ID, "transport", transport.Name(),
		"dstChain", p.DstChain, "give", give, "take", take)
	return order, nil
}

// submit hands the stable to the transport under a one-shot approval that
// is revoked whatever the outcome.
func (c *Committer) submit(state contract.StateDB, caller contract.Caller, t Transport, order *Order) error {
	if order.GiveAsset.IsNative() {
		if err := c.ledger.Transfer(state, router.NativeAsset, c.self, t.Address(), order.GiveAmount); err != nil {
			return err
		}
	} else {
		c.ledger.Approve(state, order.GiveAsset.Address, c.self, t.Address(), order.GiveAmount)
		defer c.ledger.Approve(state, order.GiveAsset.Address, c.self, t.Address(), new(big.Int))
	}
	if err := t.Submit(state, caller, order); err != nil {
		return fmt.Errorf("transport %s: %w", t.Name(), err)
	}
	return nil
}

func (c *Committer) pullFunds(state contract.StateDB, p CommitParams) error {
	value := p.Value
	if value == nil {
		value = new(big.Int)
	}
	bridgeFee := p.BridgeFee
	if bridgeFee == nil {
		bridgeFee = new(big.Int)
	}
	if p.SrcAsset.IsNative() {
		need := new(big.Int).Add(p.AmountIn, bridgeFee)
		if value.Cmp(need) < 0 {
			return fmt.Errorf("%w: value %s, need %s", ErrInsufficientValue, value, need)
		}
		if c.ledger.BalanceOf(state, router.NativeAsset, c.self).Cmp(need) < 0 {
			return router.ErrUnderflow
		}
		return nil
	}
	if value.Cmp(bridgeFee) < 0 {
		return fmt.Errorf("%w: value %s, bridge fee %s", ErrInsufficientValue, value, bridgeFee)
	}
	return c.ledger.Transfer(state, p.SrcAsset, p.User, c.self, p.AmountIn)
}

// takeFee applies the integrator split off the gross input. The event is
// emitted even at zero fee. The vault is outside the state revert domain,
// so nothing accrues here; creditFee runs once the order is submitted.
func (c *Committer) takeFee(p CommitParams) (*big.Int, *big.Int, *big.Int) {
	total, protocol := router.SplitFee(p.AmountIn, p.Integrator.FeeBps, p.Integrator.ShareBps)

	c.journal.Append(router.Event{
		Name:     router.EventFeeTaken,
		User:     p.User,
		Asset:    p.SrcAsset,
		Amount:   total,
		FeeBps:   p.Integrator.FeeBps,
		ShareBps: p.Integrator.ShareBps,
	})
	if total.Sign() == 0 {
		return new(big.Int).Set(p.AmountIn), total, protocol
	}
	return new(big.Int).Sub(p.AmountIn, total), total, protocol
}

func (c *Committer) creditFee(p CommitParams, total, protocol *big.Int) error {
	if total.Sign() == 0 {
		return nil
	}
	integratorCut := new(big.Int).Sub(total, protocol)
	if err := c.vault.CreditProtocol(p.SrcAsset, protocol); err != nil {
		return err
	}
	return c.vault.CreditIntegrator(p.Integrator.ID, p.SrcAsset, integratorCut)
}

func u32be(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func u64be(v uint64) []byte {
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
