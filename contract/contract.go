// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contract defines the interfaces stateful settlement precompiles are
// built against: EVM state access, external calls to untrusted venues and
// bridge transports, and the precompile entrypoint itself.
package contract

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/router/precompileconfig"
)

// StateDB is the interface for accessing and modifying EVM state.
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)

	GetBalance(addr common.Address) *uint256.Int
	AddBalance(addr common.Address, amount *uint256.Int)
	SubBalance(addr common.Address, amount *uint256.Int)

	Exist(addr common.Address) bool
	CreateAccount(addr common.Address)

	GetBlockNumber() uint64
	GetTimestamp() uint64

	// Snapshot and RevertToSnapshot bracket recoverable sub-executions.
	Snapshot() int
	RevertToSnapshot(id int)
}

// Caller performs an external call from a precompile's own account. Targets
// are untrusted: the returned data and error are the callee's, and state may
// have been arbitrarily modified within the callee's authority.
type Caller interface {
	Call(state StateDB, to common.Address, input []byte, value *big.Int) ([]byte, error)
}

// AccessibleState is the state handed to a precompile on each invocation.
type AccessibleState interface {
	GetStateDB() StateDB
	GetCaller() Caller
}

// ConfigurationBlockContext is the block context available during configuration.
type ConfigurationBlockContext interface {
	Number() *big.Int
	Timestamp() uint64
}

// StatefulPrecompiledContract is the interface every settlement precompile
// implements.
type StatefulPrecompiledContract interface {
	Run(
		accessibleState AccessibleState,
		caller common.Address,
		addr common.Address,
		input []byte,
		suppliedGas uint64,
		readOnly bool,
	) (ret []byte, remainingGas uint64, err error)

	RequiredGas(input []byte) uint64
}

// Configurator sets the initial state of a precompile when its config is
// activated by a network upgrade.
type Configurator interface {
	MakeConfig() precompileconfig.Config
	Configure(
		chainConfig precompileconfig.ChainConfig,
		precompileConfig precompileconfig.Config,
		state StateDB,
		blockContext ConfigurationBlockContext,
	) error
}
