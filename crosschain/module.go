// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crosschain

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/router/contract"
	"github.com/luxfi/router/modules"
	"github.com/luxfi/router/precompileconfig"
	"github.com/luxfi/router/registry"
	"github.com/luxfi/router/router"
)

var _ contract.Configurator = (*committerConfigurator)(nil)
var _ contract.Configurator = (*receiverConfigurator)(nil)
var _ contract.StatefulPrecompiledContract = (*CommitterContract)(nil)
var _ contract.StatefulPrecompiledContract = (*ReceiverContract)(nil)

// Config keys used in json config files for the two cross-chain precompiles.
const (
	CommitterConfigKey = "crossChainCommitterConfig"
	ReceiverConfigKey  = "crossChainReceiverConfig"
)

// Method selectors - committer
const (
	SelectorCommitOrder    uint32 = 0x01000000 // commitOrder(params,legs)
	SelectorRegisterStable uint32 = 0x02000000 // registerStable(address)
	SelectorRegisterChain  uint32 = 0x03000000 // registerChain(uint32)
	SelectorGetOrder       uint32 = 0x04000000 // getOrder(bytes32)
	SelectorRegisterSender uint32 = 0x05000000 // registerRelaySender(uint32,address)
)

// Method selectors - receiver
const (
	SelectorOnAssetReceived  uint32 = 0x01000000 // onAssetReceived(order,stable,amount,payload)
	SelectorOnNativeReceived uint32 = 0x02000000 // onNativeReceived(order,amount,payload)
	SelectorOnRelayedPayload uint32 = 0x03000000 // onRelayedPayload(chain,sender,amounts,order,stable,payload)
)

// Gas costs
const (
	GasCommit  uint64 = 100_000
	GasDeliver uint64 = 80_000
	GasAdmin   uint64 = 20_000
	GasQuery   uint64 = 2_100
)

// CommitterPrecompile and ReceiverPrecompile are the singleton instances.
var (
	CommitterPrecompile = newCommitterContract()
	ReceiverPrecompile  = newReceiverContract()
)

// CommitterModule serves the source-side pipeline at LP-9200.
var CommitterModule = modules.Module{
	ConfigKey:    CommitterConfigKey,
	Address:      common.HexToAddress(CrossChainAddress),
	Contract:     CommitterPrecompile,
	Configurator: &committerConfigurator{},
}

// ReceiverModule serves the destination-side callbacks at LP-9201.
var ReceiverModule = modules.Module{
	ConfigKey:    ReceiverConfigKey,
	Address:      common.HexToAddress(ReceiverAddress),
	Contract:     ReceiverPrecompile,
	Configurator: &receiverConfigurator{},
}

func init() {
	if err := modules.RegisterModule(CommitterModule); err != nil {
		panic(err)
	}
	if err := modules.RegisterModule(ReceiverModule); err != nil {
		panic(err)
	}
}

// CommitterConfig implements the precompileconfig.Config interface.
// PostedSwapContract and LiquidityPoolContract point at the external bridge
// contracts; the matching transports are only wired when they are set.
type CommitterConfig struct {
	Upgrade               precompileconfig.Upgrade `json:"upgrade,omitempty"`
	Admin                 common.Address           `json:"admin,omitempty"`
	PostedSwapContract    common.Address           `json:"postedSwapContract,omitempty"`
	LiquidityPoolContract common.Address           `json:"liquidityPoolContract,omitempty"`
}

func (c *CommitterConfig) Key() string        { return CommitterConfigKey }
func (c *CommitterConfig) Timestamp() *uint64 { return c.Upgrade.Timestamp() }
func (c *CommitterConfig) IsDisabled() bool   { return c.Upgrade.Disable }

func (c *CommitterConfig) Equal(cfg precompileconfig.Config) bool {
	other, ok := cfg.(*CommitterConfig)
	if !ok {
		return false
	}
	return c.Upgrade.Equal(&other.Upgrade) &&
		c.Admin == other.Admin &&
		c.PostedSwapContract == other.PostedSwapContract &&
		c.LiquidityPoolContract == other.LiquidityPoolContract
}

func (c *CommitterConfig) Verify(chainConfig precompileconfig.ChainConfig) error {
	if c.Admin == (common.Address{}) {
		return fmt.Errorf("cross-chain committer admin must not be the zero address")
	}
	return nil
}

type committerConfigurator struct{}

func (*committerConfigurator) MakeConfig() precompileconfig.Config {
	return new(CommitterConfig)
}

func (*committerConfigurator) Configure(
	chainConfig precompileconfig.ChainConfig,
	cfg precompileconfig.Config,
	state contract.StateDB,
	blockContext contract.ConfigurationBlockContext,
) error {
	config, ok := cfg.(*CommitterConfig)
	if !ok {
		return fmt.Errorf("expected config type %T, got %T: %v", &CommitterConfig{}, cfg, cfg)
	}
	c := CommitterPrecompile
	c.committer.admin = config.Admin
	c.relay.admin = config.Admin
	self := common.HexToAddress(CrossChainAddress)
	if config.PostedSwapContract != (common.Address{}) {
		c.committer.RegisterTransport(NewPostedSwapBridge(
			common.HexToAddress(PostedSwapAddr), self, config.PostedSwapContract, c.ledger, c.log))
	}
	if config.LiquidityPoolContract != (common.Address{}) {
		c.committer.RegisterTransport(NewLiquidityPoolBridge(
			common.HexToAddress(LiquidityPoolAddr), self, config.LiquidityPoolContract, c.ledger, c.log))
	}
	return nil
}

// ReceiverConfig implements the precompileconfig.Config interface.
// BridgeAdapter is the only account allowed to deliver plain bridge
// callbacks.
type ReceiverConfig struct {
	Upgrade       precompileconfig.Upgrade `json:"upgrade,omitempty"`
	Admin         common.Address           `json:"admin,omitempty"`
	BridgeAdapter common.Address           `json:"bridgeAdapter,omitempty"`
}

func (c *ReceiverConfig) Key() string        { return ReceiverConfigKey }
func (c *ReceiverConfig) Timestamp() *uint64 { return c.Upgrade.Timestamp() }
func (c *ReceiverConfig) IsDisabled() bool   { return c.Upgrade.Disable }

func (c *ReceiverConfig) Equal(cfg precompileconfig.Config) bool {
	other, ok := cfg.(*ReceiverConfig)
	if !ok {
		return false
	}
	return c.Upgrade.Equal(&other.Upgrade) &&
		c.Admin == other.Admin &&
		c.BridgeAdapter == other.BridgeAdapter
}

func (c *ReceiverConfig) Verify(chainConfig precompileconfig.ChainConfig) error {
	if c.Admin == (common.Address{}) {
		return fmt.Errorf("cross-chain receiver admin must not be the zero address")
	}
	if c.BridgeAdapter == (common.Address{}) {
		return fmt.Errorf("bridge adapter must not be the zero address")
	}
	return nil
}

type receiverConfigurator struct{}

func (*receiverConfigurator) MakeConfig() precompileconfig.Config {
	return new(ReceiverConfig)
}

func (*receiverConfigurator) Configure(
	chainConfig precompileconfig.ChainConfig,
	cfg precompileconfig.Config,
	state contract.StateDB,
	blockContext contract.ConfigurationBlockContext,
) error {
	config, ok := cfg.(*ReceiverConfig)
	if !ok {
		return fmt.Errorf("expected config type %T, got %T: %v", &ReceiverConfig{}, cfg, cfg)
	}
	r := ReceiverPrecompile
	r.receiver.adapter = config.BridgeAdapter
	r.relay.admin = config.Admin
	return nil
}

// CommitterContract is the thin dispatch front over the source-side
// committer.
type CommitterContract struct {
	committer *Committer
	relay     *PayloadRelayBridge
	ledger    *router.Ledger
	log       log.Logger
}

func newCommitterContract() *CommitterContract {
	logger := log.NewTestLogger(log.InfoLevel)
	self := common.HexToAddress(CrossChainAddress)
	ledger := router.NewLedger(common.HexToAddress(router.TokenLedgerAddress))
	reg := registry.RegistryPrecompile.Registry()
	engine := router.NewEngine(reg, ledger, self, logger)
	vault := router.NewFeeVault(memdb.New())
	committer := NewCommitter(self, common.Address{}, reg, ledger, engine, vault, logger)
	relay := NewPayloadRelayBridge(common.HexToAddress(PayloadRelayAddr), self, common.Address{}, ledger, logger)
	committer.RegisterTransport(NewMessageBridge(common.HexToAddress(MessageBridgeAddr), self, ledger, logger))
	committer.RegisterTransport(relay)
	return &CommitterContract{committer: committer, relay: relay, ledger: ledger, log: logger}
}

// Committer returns the source-side pipeline behind the dispatch shell.
func (c *CommitterContract) Committer() *Committer {
	return c.committer
}

func (c *CommitterContract) RequiredGas(input []byte) uint64 {
	if len(input) < 4 {
		return GasQuery
	}
	switch binary.BigEndian.Uint32(input[:4]) {
	case SelectorCommitOrder:
		return GasCommit
	case SelectorRegisterStable, SelectorRegisterChain, SelectorRegisterSender:
		return GasAdmin
	default:
		return GasQuery
	}
}

// Run executes the precompile
func (c *CommitterContract) Run(
	accessibleState contract.AccessibleState,
	caller common.Address,
	addr common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) (ret []byte, remainingGas uint64, err error) {
	if len(input) < 4 {
		return nil, suppliedGas, fmt.Errorf("input too short")
	}

	selector := binary.BigEndian.Uint32(input[:4])
	data := input[4:]

	gas := c.RequiredGas(input)
	if suppliedGas < gas {
		return nil, 0, fmt.Errorf("out of gas")
	}
	remainingGas = suppliedGas - gas

	if selector == SelectorGetOrder {
		if len(data) < 32 {
			return nil, remainingGas, fmt.Errorf("input too short")
		}
		order, ok := c.committer.Order(common.BytesToHash(data[:32]))
		if !ok {
			return nil, remainingGas, fmt.Errorf("unknown order %x", data[:32])
		}
		return packOrder(order), remainingGas, nil
	}

	if readOnly {
		return nil, remainingGas, fmt.Errorf("cannot write in read-only mode")
	}

	state := accessibleState.GetStateDB()
	ext := accessibleState.GetCaller()

	switch selector {
	case SelectorCommitOrder:
		p, err := decodeCommitInput(caller, data)
		if err != nil {
			return nil, remainingGas, err
		}
		order, err := c.committer.CommitOrder(state, ext, p)
		if err != nil {
			return nil, remainingGas, err
		}
		return order.ID.Bytes(), remainingGas, nil

	case SelectorRegisterStable:
		if len(data) < 20 {
			return nil, remainingGas, fmt.Errorf("input too short")
		}
		asset := router.Asset{Address: common.BytesToAddress(data[:20])}
		return nil, remainingGas, c.committer.RegisterStable(caller, asset)

	case SelectorRegisterChain:
		if len(data) < 4 {
			return nil, remainingGas, fmt.Errorf("input too short")
		}
		return nil, remainingGas, c.committer.RegisterChain(caller, binary.BigEndian.Uint32(data[:4]))

	case SelectorRegisterSender:
		if len(data) < 24 {
			return nil, remainingGas, fmt.Errorf("input too short")
		}
		srcChain := binary.BigEndian.Uint32(data[:4])
		sender := common.BytesToAddress(data[4:24])
		return nil, remainingGas, c.relay.RegisterSender(caller, srcChain, sender)

	default:
		return nil, remainingGas, fmt.Errorf("unknown method selector: %x", selector)
	}
}

// ReceiverContract is the thin dispatch front over the destination-side
// receiver. The bridge adapter gate lives in the receiver itself.
type ReceiverContract struct {
	receiver *Receiver
	relay    *PayloadRelayBridge
}

func newReceiverContract() *ReceiverContract {
	logger := log.NewTestLogger(log.InfoLevel)
	self := common.HexToAddress(ReceiverAddress)
	ledger := router.NewLedger(common.HexToAddress(router.TokenLedgerAddress))
	reg := registry.RegistryPrecompile.Registry()
	engine := router.NewEngine(reg, ledger, self, logger)
	vault := router.NewFeeVault(memdb.New())
	relay := NewPayloadRelayBridge(common.HexToAddress(PayloadRelayAddr), self, common.Address{}, ledger, logger)
	recv := NewReceiver(self, common.Address{}, relay, ledger, engine, vault, logger)
	return &ReceiverContract{receiver: recv, relay: relay}
}

// Receiver returns the destination-side receiver behind the dispatch shell.
func (c *ReceiverContract) Receiver() *Receiver {
	return c.receiver
}

func (c *ReceiverContract) RequiredGas(input []byte) uint64 {
	if len(input) < 4 {
		return GasQuery
	}
	switch binary.BigEndian.Uint32(input[:4]) {
	case SelectorOnAssetReceived, SelectorOnNativeReceived, SelectorOnRelayedPayload:
		return GasDeliver
	default:
		return GasQuery
	}
}

// Run executes the precompile
func (c *ReceiverContract) Run(
	accessibleState contract.AccessibleState,
	caller common.Address,
	addr common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) (ret []byte, remainingGas uint64, err error) {
	if len(input) < 4 {
		return nil, suppliedGas, fmt.Errorf("input too short")
	}

	selector := binary.BigEndian.Uint32(input[:4])
	data := input[4:]

	gas := c.RequiredGas(input)
	if suppliedGas < gas {
		return nil, 0, fmt.Errorf("out of gas")
	}
	remainingGas = suppliedGas - gas

	if readOnly {
		return nil, remainingGas, fmt.Errorf("cannot write in read-only mode")
	}

	state := accessibleState.GetStateDB()
	ext := accessibleState.GetCaller()

	switch selector {
	case SelectorOnAssetReceived:
		const header = 32 + 20 + 32 + 4
		if len(data) < header {
			return nil, remainingGas, fmt.Errorf("input too short")
		}
		orderID := common.BytesToHash(data[0:32])
		asset := router.Asset{Address: common.BytesToAddress(data[32:52])}
		amount := new(big.Int).SetBytes(data[52:84])
		payload, err := sizedTail(data[84:88], data[header:])
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.receiver.OnAssetReceived(state, ext, caller, orderID, asset, amount, payload)

	case SelectorOnNativeReceived:
		const header = 32 + 32 + 4
		if len(data) < header {
			return nil, remainingGas, fmt.Errorf("input too short")
		}
		orderID := common.BytesToHash(data[0:32])
		amount := new(big.Int).SetBytes(data[32:64])
		payload, err := sizedTail(data[64:68], data[header:])
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.receiver.OnNativeReceived(state, ext, caller, orderID, amount, payload)

	case SelectorOnRelayedPayload:
		const header = 4 + 20 + 32 + 32 + 32 + 20 + 4
		if len(data) < header {
			return nil, remainingGas, fmt.Errorf("input too short")
		}
		srcChain := binary.BigEndian.Uint32(data[0:4])
		sender := common.BytesToAddress(data[4:24])
		declared := new(big.Int).SetBytes(data[24:56])
		attached := new(big.Int).SetBytes(data[56:88])
		orderID := common.BytesToHash(data[88:120])
		asset := router.Asset{Address: common.BytesToAddress(data[120:140])}
		payload, err := sizedTail(data[140:144], data[header:])
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.receiver.OnRelayedPayload(state, ext, srcChain, sender, declared, attached, orderID, asset, payload)

	default:
		return nil, remainingGas, fmt.Errorf("unknown method selector: %x", selector)
	}
}

// decodeCommitInput unpacks the flat commit encoding:
//
//	dstChain(4) src(20) stable(20) amountIn(32) minStableOut(32) value(32)
//	bridgeFee(32) protocolFeeBps(4) takerFeeBps(4) srcDec(1) dstDec(1)
//	operatingExpense(32) integrator(20) feeBps(4) shareBps(4)
//	transport(8, zero padded) payloadLen(4) payload
//	then per leg: venue(20) sell(20) buy(20) amount(32) dataLen(4) data
func decodeCommitInput(caller common.Address, data []byte) (CommitParams, error) {
	const header = 4 + 20 + 20 + 32 + 32 + 32 + 32 + 4 + 4 + 1 + 1 + 32 + 20 + 4 + 4 + 8 + 4
	if len(data) < header {
		return CommitParams{}, fmt.Errorf("input too short")
	}

	p := CommitParams{
		User:         caller,
		DstChain:     binary.BigEndian.Uint32(data[0:4]),
		SrcAsset:     router.Asset{Address: common.BytesToAddress(data[4:24])},
		StableAsset:  router.Asset{Address: common.BytesToAddress(data[24:44])},
		AmountIn:     new(big.Int).SetBytes(data[44:76]),
		MinStableOut: new(big.Int).SetBytes(data[76:108]),
		Value:        new(big.Int).SetBytes(data[108:140]),
		BridgeFee:    new(big.Int).SetBytes(data[140:172]),
		Take: TakeAmountParams{
			ProtocolFeeBps:   binary.BigEndian.Uint32(data[172:176]),
			TakerFeeBps:      binary.BigEndian.Uint32(data[176:180]),
			SrcDecimals:      data[180],
			DstDecimals:      data[181],
			OperatingExpense: new(big.Int).SetBytes(data[182:214]),
		},
		Integrator: router.Integrator{
			ID:       common.BytesToAddress(data[214:234]),
			FeeBps:   binary.BigEndian.Uint32(data[234:238]),
			ShareBps: binary.BigEndian.Uint32(data[238:242]),
		},
		Transport: strings.TrimRight(string(data[242:250]), "\x00"),
	}

	payloadLen := binary.BigEndian.Uint32(data[250:254])
	rest := data[header:]
	if uint64(len(rest)) < uint64(payloadLen) {
		return CommitParams{}, fmt.Errorf("truncated payload")
	}
	p.Payload = append([]byte{}, rest[:payloadLen]...)

	legs, err := decodeLegList(rest[payloadLen:])
	if err != nil {
		return CommitParams{}, err
	}
	p.Legs = legs
	return p, nil
}

// decodeLegList unpacks a packed leg sequence.
func decodeLegList(rest []byte) ([]router.TradeLeg, error) {
	var legs []router.TradeLeg
	for len(rest) > 0 {
		const legHeader = 20 + 20 + 20 + 32 + 4
		if len(rest) < legHeader {
			return nil, fmt.Errorf("truncated leg")
		}
		dataLen := binary.BigEndian.Uint32(rest[92:96])
		if uint64(len(rest)) < uint64(legHeader)+uint64(dataLen) {
			return nil, fmt.Errorf("truncated leg data")
		}
		legs = append(legs, router.TradeLeg{
			TargetVenue: common.BytesToAddress(rest[0:20]),
			SellAsset:   router.Asset{Address: common.BytesToAddress(rest[20:40])},
			BuyAsset:    router.Asset{Address: common.BytesToAddress(rest[40:60])},
			SellAmount:  new(big.Int).SetBytes(rest[60:92]),
			CallData:    append([]byte{}, rest[legHeader:legHeader+int(dataLen)]...),
		})
		rest = rest[legHeader+int(dataLen):]
	}
	return legs, nil
}

// sizedTail checks a 4-byte length prefix against the tail and returns the
// declared slice.
func sizedTail(lenBytes, tail []byte) ([]byte, error) {
	n := binary.BigEndian.Uint32(lenBytes)
	if uint64(len(tail)) < uint64(n) {
		return nil, fmt.Errorf("truncated payload")
	}
	return append([]byte{}, tail[:n]...), nil
}

// packOrder flattens an order for GetOrder:
//
//	giveAsset(20) giveAmount(32) takeAmount(32) dstChain(4) status(1)
func packOrder(o *Order) []byte {
	out := make([]byte, 0, 89)
	out = append(out, o.GiveAsset.Address.Bytes()...)
	out = append(out, common.BigToHash(o.GiveAmount).Bytes()...)
	out = append(out, common.BigToHash(o.TakeAmount).Bytes()...)
	out = append(out, u32be(o.DstChain)...)
	out = append(out, byte(o.Status))
	return out
}
