// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/router/contract"
	"github.com/luxfi/router/modules"
	"github.com/luxfi/router/precompileconfig"
)

var _ contract.Configurator = (*configurator)(nil)
var _ contract.StatefulPrecompiledContract = (*RegistryContract)(nil)

// ConfigKey is the key used in json config files to specify this precompile config.
const ConfigKey = "venueRegistryConfig"

// ContractAddress is where the venue registry is served.
var ContractAddress = common.HexToAddress("0x0000000000000000000000000000000000009101")

// Method selectors
const (
	SelectorAddVenue       uint32 = 0x01000000 // addVenue(address)
	SelectorRemoveVenue    uint32 = 0x02000000 // removeVenue(address)
	SelectorAllowSelector  uint32 = 0x03000000 // allowSelector(address,bytes4)
	SelectorRevokeSelector uint32 = 0x04000000 // revokeSelector(address,bytes4)
	SelectorIsAllowed      uint32 = 0x05000000 // isAllowed(address,bytes4)
	SelectorIsVerified     uint32 = 0x06000000 // isVerified(address)
	SelectorSetAdmin       uint32 = 0x07000000 // setAdmin(address)
)

// Gas costs
const (
	GasWrite = 20_000
	GasRead  = 2_100
)

// RegistryPrecompile is the singleton instance.
var RegistryPrecompile = &RegistryContract{
	registry: NewVenueRegistry(ContractAddress, log.NewTestLogger(log.InfoLevel)),
}

// Module is the precompile module.
var Module = modules.Module{
	ConfigKey:    ConfigKey,
	Address:      ContractAddress,
	Contract:     RegistryPrecompile,
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
	RegistryPrecompile.registry.Configure(state, config.Admin)
	return nil
}

// Config implements the precompileconfig.Config interface
type Config struct {
	Upgrade precompileconfig.Upgrade `json:"upgrade,omitempty"`
	Admin   common.Address           `json:"admin,omitempty"`
}

func (c *Config) Key() string {
	return ConfigKey
}

func (c *Config) Timestamp() *uint64 {
	return c.Upgrade.Timestamp()
}

func (c *Config) IsDisabled() bool {
	return c.Upgrade.Disable
}

func (c *Config) Equal(cfg precompileconfig.Config) bool {
	other, ok := cfg.(*Config)
	if !ok {
		return false
	}
	return c.Upgrade.Equal(&other.Upgrade) && c.Admin == other.Admin
}

func (c *Config) Verify(chainConfig precompileconfig.ChainConfig) error {
	if c.Admin == (common.Address{}) {
		return fmt.Errorf("venue registry admin must not be the zero address")
	}
	return nil
}

// RegistryContract exposes the venue registry as a stateful precompile.
type RegistryContract struct {
	registry *VenueRegistry
}

// Registry returns the underlying venue registry, used by the router
// engine to gate venue calls without going through the dispatcher.
func (c *RegistryContract) Registry() *VenueRegistry {
	return c.registry
}

func (c *RegistryContract) RequiredGas(input []byte) uint64 {
	if len(input) < 4 {
		return GasRead
	}
	switch binary.BigEndian.Uint32(input[:4]) {
	case SelectorIsAllowed, SelectorIsVerified:
		return GasRead
	default:
		return GasWrite
	}
}

// Run executes the precompile
func (c *RegistryContract) Run(
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
	state := accessibleState.GetStateDB()

	gas := c.RequiredGas(input)
	if suppliedGas < gas {
		return nil, 0, fmt.Errorf("out of gas")
	}
	remainingGas = suppliedGas - gas

	switch selector {
	case SelectorIsAllowed:
		venue, sel, err := unpackVenueSelector(data)
		if err != nil {
			return nil, remainingGas, err
		}
		return packBool(c.registry.IsAllowed(state, venue, sel)), remainingGas, nil

	case SelectorIsVerified:
		venue, err := unpackVenue(data)
		if err != nil {
			return nil, remainingGas, err
		}
		return packBool(c.registry.IsVerified(state, venue)), remainingGas, nil
	}

	if readOnly {
		return nil, remainingGas, fmt.Errorf("cannot write in read-only mode")
	}

	switch selector {
	case SelectorAddVenue:
		venue, err := unpackVenue(data)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.registry.AddVenue(state, caller, venue)

	case SelectorRemoveVenue:
		venue, err := unpackVenue(data)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.registry.RemoveVenue(state, caller, venue)

	case SelectorAllowSelector:
		venue, sel, err := unpackVenueSelector(data)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.registry.AllowSelector(state, caller, venue, sel)

	case SelectorRevokeSelector:
		venue, sel, err := unpackVenueSelector(data)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.registry.RevokeSelector(state, caller, venue, sel)

	case SelectorSetAdmin:
		next, err := unpackVenue(data)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.registry.SetAdmin(state, caller, next)

	default:
		return nil, remainingGas, fmt.Errorf("unknown method selector: %x", selector)
	}
}

func unpackVenue(data []byte) (common.Address, error) {
	if len(data) < 20 {
		return common.Address{}, fmt.Errorf("input too short")
	}
	return common.BytesToAddress(data[:20]), nil
}

func unpackVenueSelector(data []byte) (common.Address, [4]byte, error) {
	if len(data) < 24 {
		return common.Address{}, [4]byte{}, fmt.Errorf("input too short")
	}
	var sel [4]byte
	copy(sel[:], data[20:24])
	return common.BytesToAddress(data[:20]), sel, nil
}

func packBool(b bool) []byte {
	out := make([]byte, 32)
	if b {
		out[31] = 1
	}
	return out
}
