// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/router/contract"
	"github.com/luxfi/router/modules"
	"github.com/luxfi/router/precompileconfig"
	"github.com/luxfi/router/registry"
)

var _ contract.Configurator = (*configurator)(nil)
var _ contract.StatefulPrecompiledContract = (*RouterContract)(nil)

// Method selectors
const (
	SelectorSwap         uint32 = 0x01000000 // swap(params,legs)
	SelectorSwapExactOut uint32 = 0x02000000 // swapExactOut(params,amountOut,legs)
	SelectorSwapSimple   uint32 = 0x03000000 // swapSimple(params,leg)
	SelectorRecoverAsset uint32 = 0x04000000 // recoverAsset(asset,to,amount)
	SelectorSetExecutor  uint32 = 0x05000000 // setExecutor(address,bool)
	SelectorGaslessSwap  uint32 = 0x06000000 // gaslessSwap(order,sig,integrator,legs)
)

// RouterPrecompile is the singleton instance.
var RouterPrecompile = newRouterContract()

// Module is the precompile module.
var Module = modules.Module{
	ConfigKey:    ConfigKey,
	Address:      common.HexToAddress(RouterAddress),
	Contract:     RouterPrecompile,
	Configurator: &configurator{},
}

type configurator struct{}

func init() {
	if err := modules.RegisterModule(Module); err != nil {
		panic(err)
	}
}

func (*configurator) MakeConfig() precompileconfig.Config {
	return new(Config)
}

func (*configurator) Configure(
	chainConfig precompileconfig.ChainConfig,
	cfg precompileconfig.Config,
	state contract.StateDB,
	blockContext contract.ConfigurationBlockContext,
) error {
	config, ok := cfg.(*Config)
	if !ok {
		return fmt.Errorf("expected config type %T, got %T: %v", &Config{}, cfg, cfg)
	}
	RouterPrecompile.admin = config.Admin
	RouterPrecompile.executor.admin = config.Admin
	RouterPrecompile.executors[config.Admin] = true
	return nil
}

// RouterContract is the thin dispatch front over the settlement executor.
// Relayed settlement entrypoints are gated to registered executor accounts;
// everything else is available to any caller.
type RouterContract struct {
	admin     common.Address
	executor  *Executor
	gasless   *GaslessExecutor
	executors map[common.Address]bool
	// blacklist holds selectors disabled by governance
	blacklist map[uint32]bool
}

func newRouterContract() *RouterContract {
	logger := log.NewTestLogger(log.InfoLevel)
	self := common.HexToAddress(RouterAddress)
	ledger := NewLedger(common.HexToAddress(TokenLedgerAddress))
	reg := registry.RegistryPrecompile.Registry()
	engine := NewEngine(reg, ledger, self, logger)
	vault := NewFeeVault(memdb.New())
	executor := NewExecutor(self, common.Address{}, reg, ledger, engine, vault, nil, logger)
	return &RouterContract{
		executor:  executor,
		gasless:   NewGaslessExecutor(executor, NewOrderStore(memdb.New())),
		executors: make(map[common.Address]bool),
		blacklist: make(map[uint32]bool),
	}
}

// Executor returns the settlement executor behind the dispatch shell.
func (c *RouterContract) Executor() *Executor {
	return c.executor
}

func (c *RouterContract) RequiredGas(input []byte) uint64 {
	if len(input) < 4 {
		return GasQuery
	}
	switch binary.BigEndian.Uint32(input[:4]) {
	case SelectorSwap, SelectorSwapExactOut:
		return GasSwap
	case SelectorSwapSimple:
		return GasSwapSimple
	case SelectorGaslessSwap:
		return GasGasless
	case SelectorRecoverAsset, SelectorSetExecutor:
		return GasAdmin
	default:
		return GasQuery
	}
}

// Run executes the precompile
func (c *RouterContract) Run(
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

	if c.blacklist[selector] {
		return nil, suppliedGas, fmt.Errorf("selector %08x disabled", selector)
	}

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
	case SelectorSwap:
		p, err := decodeSwapInput(caller, data)
		if err != nil {
			return nil, remainingGas, err
		}
		out, err := c.executor.Swap(state, ext, p)
		if err != nil {
			return nil, remainingGas, err
		}
		return common.BigToHash(out).Bytes(), remainingGas, nil

	case SelectorSwapExactOut:
		if len(data) < 32 {
			return nil, remainingGas, fmt.Errorf("input too short")
		}
		amountOut := new(big.Int).SetBytes(data[:32])
		p, err := decodeSwapInput(caller, data[32:])
		if err != nil {
			return nil, remainingGas, err
		}
		out, err := c.executor.SwapExactOut(state, ext, p, amountOut)
		if err != nil {
			return nil, remainingGas, err
		}
		return common.BigToHash(out).Bytes(), remainingGas, nil

	case SelectorSwapSimple:
		p, err := decodeSwapInput(caller, data)
		if err != nil {
			return nil, remainingGas, err
		}
		out, err := c.executor.SwapSimple(state, ext, p)
		if err != nil {
			return nil, remainingGas, err
		}
		return common.BigToHash(out).Bytes(), remainingGas, nil

	case SelectorRecoverAsset:
		if len(data) < 72 {
			return nil, remainingGas, fmt.Errorf("input too short")
		}
		asset := Asset{Address: common.BytesToAddress(data[:20])}
		to := common.BytesToAddress(data[20:40])
		amount := new(big.Int).SetBytes(data[40:72])
		return nil, remainingGas, c.executor.RecoverAsset(state, caller, asset, to, amount)

	case SelectorGaslessSwap:
		if !c.executors[caller] {
			return nil, remainingGas, ErrNotAuthority
		}
		order, sig, integrator, legs, err := decodeGaslessInput(data)
		if err != nil {
			return nil, remainingGas, err
		}
		out, err := c.gasless.ExecuteGaslessOrder(state, ext, caller, order, sig, legs, integrator)
		if err != nil {
			return nil, remainingGas, err
		}
		return common.BigToHash(out).Bytes(), remainingGas, nil

	case SelectorSetExecutor:
		if caller != c.admin {
			return nil, remainingGas, ErrNotAuthority
		}
		if len(data) < 21 {
			return nil, remainingGas, fmt.Errorf("input too short")
		}
		c.executors[common.BytesToAddress(data[:20])] = data[20] == 1
		return nil, remainingGas, nil

	default:
		return nil, remainingGas, fmt.Errorf("unknown method selector: %x", selector)
	}
}

// decodeSwapInput unpacks the flat settlement encoding:
//
//	receiver(20) src(20) dst(20) amountIn(32) amountOutMin(32) value(32)
//	integrator(20) feeBps(4) shareBps(4)
//	then per leg: venue(20) sell(20) buy(20) amount(32) dataLen(4) data
func decodeSwapInput(caller common.Address, data []byte) (SwapParams, error) {
	const header = 20 + 20 + 20 + 32 + 32 + 32 + 20 + 4 + 4
	if len(data) < header {
		return SwapParams{}, fmt.Errorf("input too short")
	}

	p := SwapParams{
		User:         caller,
		Receiver:     common.BytesToAddress(data[0:20]),
		SrcAsset:     Asset{Address: common.BytesToAddress(data[20:40])},
		DstAsset:     Asset{Address: common.BytesToAddress(data[40:60])},
		AmountIn:     new(big.Int).SetBytes(data[60:92]),
		AmountOutMin: new(big.Int).SetBytes(data[92:124]),
		Value:        new(big.Int).SetBytes(data[124:156]),
		Integrator: Integrator{
			ID:       common.BytesToAddress(data[156:176]),
			FeeBps:   binary.BigEndian.Uint32(data[176:180]),
			ShareBps: binary.BigEndian.Uint32(data[180:184]),
		},
	}

	legs, err := decodeLegs(data[header:])
	if err != nil {
		return SwapParams{}, err
	}
	p.Legs = legs
	return p, nil
}

// decodeGaslessInput unpacks a relayed order:
//
//	user(20) receiver(20) srcToken(20) dstToken(20)
//	amountIn(32) fee(32) amountOutMin(32) deadline(8) tradeHash(32)
//	sig(65) integrator(20) feeBps(4) shareBps(4)
//	then legs as in decodeSwapInput
func decodeGaslessInput(data []byte) (GaslessOrder, []byte, Integrator, []TradeLeg, error) {
	const header = 20 + 20 + 20 + 20 + 32 + 32 + 32 + 8 + 32 + 65 + 20 + 4 + 4
	if len(data) < header {
		return GaslessOrder{}, nil, Integrator{}, nil, fmt.Errorf("input too short")
	}

	order := GaslessOrder{
		User:         common.BytesToAddress(data[0:20]),
		Receiver:     common.BytesToAddress(data[20:40]),
		SrcToken:     common.BytesToAddress(data[40:60]),
		DstToken:     common.BytesToAddress(data[60:80]),
		AmountIn:     new(big.Int).SetBytes(data[80:112]),
		Fee:          new(big.Int).SetBytes(data[112:144]),
		AmountOutMin: new(big.Int).SetBytes(data[144:176]),
		Deadline:     binary.BigEndian.Uint64(data[176:184]),
		TradeHash:    common.BytesToHash(data[184:216]),
	}
	sig := append([]byte{}, data[216:281]...)
	integrator := Integrator{
		ID:       common.BytesToAddress(data[281:301]),
		FeeBps:   binary.BigEndian.Uint32(data[301:305]),
		ShareBps: binary.BigEndian.Uint32(data[305:309]),
	}

	p, err := decodeLegs(data[header:])
	if err != nil {
		return GaslessOrder{}, nil, Integrator{}, nil, err
	}
	return order, sig, integrator, p, nil
}

// decodeLegs unpacks a packed leg sequence.
func decodeLegs(rest []byte) ([]TradeLeg, error) {
	var legs []TradeLeg
	for len(rest) > 0 {
		const legHeader = 20 + 20 + 20 + 32 + 4
		if len(rest) < legHeader {
			return nil, fmt.Errorf("truncated leg")
		}
		dataLen := binary.BigEndian.Uint32(rest[92:96])
		if uint64(len(rest)) < uint64(legHeader)+uint64(dataLen) {
			return nil, fmt.Errorf("truncated leg data")
		}
		legs = append(legs, TradeLeg{
			TargetVenue: common.BytesToAddress(rest[0:20]),
			SellAsset:   Asset{Address: common.BytesToAddress(rest[20:40])},
			BuyAsset:    Asset{Address: common.BytesToAddress(rest[40:60])},
			SellAmount:  new(big.Int).SetBytes(rest[60:92]),
			CallData:    append([]byte{}, rest[legHeader:legHeader+int(dataLen)]...),
		})
		rest = rest[legHeader+int(dataLen):]
	}
	return legs, nil
}
