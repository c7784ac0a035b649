// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/shopspring/decimal"

	"github.com/luxfi/router/precompileconfig"
)

// ConfigKey is the key used in json config files to specify this precompile config.
const ConfigKey = "routerConfig"

// Config implements the precompileconfig.Config interface. Fee rates are
// given as percent strings ("0.3" means 0.3%, 30 bps).
type Config struct {
	Upgrade         precompileconfig.Upgrade `json:"upgrade,omitempty"`
	Admin           common.Address           `json:"admin,omitempty"`
	ProtocolFeeRate string                   `json:"protocolFeeRate,omitempty"`
	TakerFeeRate    string                   `json:"takerFeeRate,omitempty"`
}

// ParseFeeRate converts a percent string to basis points. The rate must be
// a multiple of 0.01% and sit inside [0%, 100%].
func ParseFeeRate(rate string) (uint32, error) {
	if rate == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return 0, fmt.Errorf("fee rate %q: %w", rate, err)
	}
	bps := d.Mul(decimal.NewFromInt(100))
	if !bps.IsInteger() {
		return 0, fmt.Errorf("fee rate %q: not a multiple of 0.01%%", rate)
	}
	v := bps.IntPart()
	if v < 0 || v > FeeDenom {
		return 0, fmt.Errorf("fee rate %q: out of range", rate)
	}
	return uint32(v), nil
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
	return c.Upgrade.Equal(&other.Upgrade) &&
		c.Admin == other.Admin &&
		c.ProtocolFeeRate == other.ProtocolFeeRate &&
		c.TakerFeeRate == other.TakerFeeRate
}

func (c *Config) Verify(chainConfig precompileconfig.ChainConfig) error {
	if c.Admin == (common.Address{}) {
		return fmt.Errorf("router admin must not be the zero address")
	}
	if _, err := ParseFeeRate(c.ProtocolFeeRate); err != nil {
		return err
	}
	if _, err := ParseFeeRate(c.TakerFeeRate); err != nil {
		return err
	}
	return nil
}
