// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package precompileconfig defines the configuration interfaces shared by all
// router precompiles.
package precompileconfig

import "math/big"

// ChainConfig exposes the chain parameters a precompile config may validate
// itself against.
type ChainConfig interface {
	ChainID() *big.Int
}

// Config is implemented by each precompile's JSON-configurable settings.
type Config interface {
	// Key returns the unique key for this precompile in chain config files.
	Key() string
	// Timestamp returns the activation timestamp, nil if never activated.
	Timestamp() *uint64
	// IsDisabled returns true if the precompile is deactivated.
	IsDisabled() bool
	// Equal reports deep equality with another config.
	Equal(Config) bool
	// Verify checks the config is internally consistent.
	Verify(ChainConfig) error
}

// Upgrade carries the activation schedule common to every Config.
type Upgrade struct {
	BlockTimestamp *uint64 `json:"blockTimestamp,omitempty"`
	Disable        bool    `json:"disable,omitempty"`
}

// Timestamp returns the activation timestamp.
func (u *Upgrade) Timestamp() *uint64 {
	return u.BlockTimestamp
}

// Equal reports whether two upgrades share the same schedule.
func (u *Upgrade) Equal(other *Upgrade) bool {
	if other == nil {
		return false
	}
	if u.Disable != other.Disable {
		return false
	}
	if (u.BlockTimestamp == nil) != (other.BlockTimestamp == nil) {
		return false
	}
	if u.BlockTimestamp != nil && *u.BlockTimestamp != *other.BlockTimestamp {
		return false
	}
	return true
}
