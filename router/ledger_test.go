// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func TestLedgerTokenTransfer(t *testing.T) {
	require := require.New(t)
	state := newMockStateDB()
	l := NewLedger(common.HexToAddress(TokenLedgerAddress))

	l.Mint(state, tokenA.Address, testUser, big.NewInt(1_000))
	require.Equal(big.NewInt(1_000), l.BalanceOf(state, tokenA, testUser))

	require.NoError(l.Transfer(state, tokenA, testUser, testReceiver, big.NewInt(400)))
	require.Equal(big.NewInt(600), l.BalanceOf(state, tokenA, testUser))
	require.Equal(big.NewInt(400), l.BalanceOf(state, tokenA, testReceiver))

	err := l.Transfer(state, tokenA, testUser, testReceiver, big.NewInt(601))
	require.ErrorIs(err, ErrUnderflow)

	// zero transfers are no-ops
	require.NoError(l.Transfer(state, tokenA, testUser, testReceiver, big.NewInt(0)))
	require.ErrorIs(l.Transfer(state, tokenA, testUser, testReceiver, big.NewInt(-1)), ErrInvalidAmount)
}

func TestLedgerNativeTransfer(t *testing.T) {
	require := require.New(t)
	state := newMockStateDB()
	l := NewLedger(common.HexToAddress(TokenLedgerAddress))

	state.AddBalance(testUser, uint256.NewInt(500))
	require.NoError(l.Transfer(state, NativeAsset, testUser, testReceiver, big.NewInt(200)))
	require.Equal(big.NewInt(300), l.BalanceOf(state, NativeAsset, testUser))
	require.Equal(big.NewInt(200), l.BalanceOf(state, NativeAsset, testReceiver))

	err := l.Transfer(state, NativeAsset, testUser, testReceiver, big.NewInt(301))
	require.ErrorIs(err, ErrUnderflow)
}

func TestLedgerApprovals(t *testing.T) {
	require := require.New(t)
	state := newMockStateDB()
	l := NewLedger(common.HexToAddress(TokenLedgerAddress))

	l.Mint(state, tokenA.Address, testUser, big.NewInt(1_000))
	l.Approve(state, tokenA.Address, testUser, venue1, big.NewInt(600))
	require.Equal(big.NewInt(600), l.Allowance(state, tokenA.Address, testUser, venue1))

	require.NoError(l.TransferFrom(state, tokenA.Address, venue1, testUser, venue1, big.NewInt(600)))
	require.Equal(big.NewInt(600), l.BalanceOf(state, tokenA, venue1))
	require.Zero(l.Allowance(state, tokenA.Address, testUser, venue1).Sign())

	// spent approval cannot be reused
	err := l.TransferFrom(state, tokenA.Address, venue1, testUser, venue1, big.NewInt(1))
	if !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}
}
