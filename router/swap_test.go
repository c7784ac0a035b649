// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/router/contract"
)

func newTestExecutor(t *testing.T, env *testEnv) *Executor {
	t.Helper()
	vault := NewFeeVault(memdb.New())
	return NewExecutor(testRouter, testAdmin, env.registry, env.ledger,
		env.engine, vault, nil, log.NewTestLogger(log.InfoLevel))
}

func swapParams(amountIn int64, legs ...TradeLeg) SwapParams {
	return SwapParams{
		User:         testUser,
		Receiver:     testReceiver,
		SrcAsset:     tokenA,
		DstAsset:     tokenB,
		AmountIn:     big.NewInt(amountIn),
		AmountOutMin: big.NewInt(0),
		Legs:         legs,
	}
}

func TestSwapExactIn(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	env.ledger.Mint(env.state, tokenA.Address, testUser, big.NewInt(10_000))

	// 30 bps fee, protocol keeps 20%
	net := big.NewInt(9_970)
	sel := env.addSwapVenue(t, venue1, tokenA, tokenB, net, big.NewInt(9_900))

	p := swapParams(10_000, leg(venue1, tokenA, tokenB, net, sel))
	p.AmountOutMin = big.NewInt(9_900)
	p.Integrator = Integrator{ID: testAdmin, FeeBps: 30, ShareBps: 2_000}

	out, err := x.Swap(env.state, env.caller, p)
	require.NoError(err)
	require.Equal(big.NewInt(9_900), out)
	require.Equal(big.NewInt(9_900), env.ledger.BalanceOf(env.state, tokenB, testReceiver))
	require.Zero(env.ledger.BalanceOf(env.state, tokenA, testUser).Sign())

	// fee split: 30 total, 6 to protocol, 24 to integrator
	protocol, err := x.vault.ProtocolAccrued(tokenA)
	require.NoError(err)
	require.Equal(big.NewInt(6), protocol)
	integrator, err := x.vault.IntegratorAccrued(testAdmin, tokenA)
	require.NoError(err)
	require.Equal(big.NewInt(24), integrator)

	events := x.Journal().Events()
	require.Len(events, 2)
	require.Equal(EventFeeTaken, events[0].Name)
	require.Equal(big.NewInt(30), events[0].Amount)
	require.Equal(EventSwapped, events[1].Name)
}

func TestSwapFeeTakenEventAtZeroFee(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	env.ledger.Mint(env.state, tokenA.Address, testUser, big.NewInt(1_000))
	sel := env.addSwapVenue(t, venue1, tokenA, tokenB, big.NewInt(1_000), big.NewInt(990))

	_, err := x.Swap(env.state, env.caller, swapParams(1_000, leg(venue1, tokenA, tokenB, big.NewInt(1_000), sel)))
	require.NoError(err)

	fees := x.Journal().ByName(EventFeeTaken)
	require.Len(fees, 1)
	require.Zero(fees[0].Amount.Sign())

	protocol, err := x.vault.ProtocolAccrued(tokenA)
	require.NoError(err)
	require.Zero(protocol.Sign())
}

func TestSwapInsufficientOutput(t *testing.T) {
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	env.ledger.Mint(env.state, tokenA.Address, testUser, big.NewInt(1_000))
	sel := env.addSwapVenue(t, venue1, tokenA, tokenB, big.NewInt(1_000), big.NewInt(900))

	p := swapParams(1_000, leg(venue1, tokenA, tokenB, big.NewInt(1_000), sel))
	p.AmountOutMin = big.NewInt(901)

	_, err := x.Swap(env.state, env.caller, p)
	if !errors.Is(err, ErrInsufficientOutput) {
		t.Fatalf("expected ErrInsufficientOutput, got %v", err)
	}
}

func TestSwapAbortAccruesNoFees(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	env.ledger.Mint(env.state, tokenA.Address, testUser, big.NewInt(1_000))
	net := big.NewInt(997)
	sel := env.addSwapVenue(t, venue1, tokenA, tokenB, net, big.NewInt(900))

	p := swapParams(1_000, leg(venue1, tokenA, tokenB, net, sel))
	p.AmountOutMin = big.NewInt(901)
	p.Integrator = Integrator{ID: testAdmin, FeeBps: 30, ShareBps: 2_000}

	_, err := x.Swap(env.state, env.caller, p)
	require.ErrorIs(err, ErrInsufficientOutput)

	// the ledger rolls back with the state, the vault does not, so an
	// aborted swap must leave nothing behind in it
	protocol, err := x.vault.ProtocolAccrued(tokenA)
	require.NoError(err)
	require.Zero(protocol.Sign())
	integrator, err := x.vault.IntegratorAccrued(testAdmin, tokenA)
	require.NoError(err)
	require.Zero(integrator.Sign())
}

func TestSwapValidation(t *testing.T) {
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	tests := []struct {
		name    string
		mutate  func(*SwapParams)
		wantErr error
	}{
		{"zero receiver", func(p *SwapParams) { p.Receiver = common.Address{} }, ErrZeroReceiver},
		{"zero amount", func(p *SwapParams) { p.AmountIn = big.NewInt(0) }, ErrInvalidAmount},
		{"no legs", func(p *SwapParams) { p.Legs = nil }, ErrNoLegs},
		{"fee out of range", func(p *SwapParams) { p.Integrator.FeeBps = 10_001 }, ErrInvalidFee},
		{"value with token input", func(p *SwapParams) { p.Value = big.NewInt(5) }, ErrValueMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := swapParams(1_000, TradeLeg{TargetVenue: venue1, SellAsset: tokenA,
				BuyAsset: tokenB, SellAmount: big.NewInt(1_000), CallData: []byte{1, 2, 3, 4}})
			tt.mutate(&p)
			_, err := x.Swap(env.state, env.caller, p)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSwapNativeValueMismatch(t *testing.T) {
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	p := swapParams(1_000, TradeLeg{TargetVenue: venue1, SellAsset: NativeAsset,
		BuyAsset: tokenB, SellAmount: big.NewInt(1_000), CallData: []byte{1, 2, 3, 4}})
	p.SrcAsset = NativeAsset
	p.Value = big.NewInt(999)

	_, err := x.Swap(env.state, env.caller, p)
	if !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("expected ErrValueMismatch, got %v", err)
	}
}

func TestSwapPermitWithoutAuthority(t *testing.T) {
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	p := swapParams(1_000, TradeLeg{TargetVenue: venue1, SellAsset: tokenA,
		BuyAsset: tokenB, SellAmount: big.NewInt(1_000), CallData: []byte{1, 2, 3, 4}})
	p.Permit = &Permit{Owner: testUser, Amount: big.NewInt(1_000)}

	_, err := x.Swap(env.state, env.caller, p)
	if !errors.Is(err, ErrPermitRejected) {
		t.Fatalf("expected ErrPermitRejected, got %v", err)
	}
}

func TestSwapExactOutRefund(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	env.ledger.Mint(env.state, tokenA.Address, testUser, big.NewInt(10_000))

	// only 6000 of the 10000 ceiling is routed
	sel := env.addSwapVenue(t, venue1, tokenA, tokenB, big.NewInt(6_000), big.NewInt(5_800))

	p := swapParams(10_000, leg(venue1, tokenA, tokenB, big.NewInt(6_000), sel))
	out, err := x.SwapExactOut(env.state, env.caller, p, big.NewInt(5_500))
	require.NoError(err)
	require.Equal(big.NewInt(5_800), out)
	require.Equal(big.NewInt(5_800), env.ledger.BalanceOf(env.state, tokenB, testReceiver))

	// unspent 4000 back to the user
	require.Equal(big.NewInt(4_000), env.ledger.BalanceOf(env.state, tokenA, testUser))
}

func TestSwapSimpleDirectDelivery(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	env.ledger.Mint(env.state, tokenA.Address, testUser, big.NewInt(1_000))

	// venue pays the receiver directly
	sel := [4]byte{0x0a, 0x0b, 0x0c, 0x0d}
	env.allow(t, venue1, sel)
	env.caller.venues[venue1] = func(state contract.StateDB, value *big.Int) error {
		if err := env.ledger.TransferFrom(state, tokenA.Address, venue1, testRouter, venue1, big.NewInt(1_000)); err != nil {
			return err
		}
		env.ledger.Mint(state, tokenB.Address, testReceiver, big.NewInt(980))
		return nil
	}

	p := swapParams(1_000, leg(venue1, tokenA, tokenB, big.NewInt(1_000), sel))
	p.AmountOutMin = big.NewInt(980)

	out, err := x.SwapSimple(env.state, env.caller, p)
	require.NoError(err)
	require.Equal(big.NewInt(980), out)
	require.Equal(big.NewInt(980), env.ledger.BalanceOf(env.state, tokenB, testReceiver))
}

func TestSwapSimpleRejectsMultiLeg(t *testing.T) {
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	l := TradeLeg{TargetVenue: venue1, SellAsset: tokenA, BuyAsset: tokenB,
		SellAmount: big.NewInt(1), CallData: []byte{1, 2, 3, 4}}
	_, err := x.SwapSimple(env.state, env.caller, swapParams(1, l, l))
	if !errors.Is(err, ErrNoLegs) {
		t.Fatalf("expected leg count error, got %v", err)
	}
}

func TestRecoverAsset(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	env.ledger.Mint(env.state, tokenA.Address, testRouter, big.NewInt(500))

	require.ErrorIs(x.RecoverAsset(env.state, testUser, tokenA, testReceiver, big.NewInt(500)), ErrNotAuthority)
	require.NoError(x.RecoverAsset(env.state, testAdmin, tokenA, testReceiver, big.NewInt(500)))
	require.Equal(big.NewInt(500), env.ledger.BalanceOf(env.state, tokenA, testReceiver))
}

func TestExecutorReentrancy(t *testing.T) {
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	env.ledger.Mint(env.state, tokenA.Address, testUser, big.NewInt(1_000))

	// a venue that re-enters the executor mid-settlement
	sel := [4]byte{0x01, 0x02, 0x03, 0x04}
	env.allow(t, venue1, sel)
	var reentryErr error
	env.caller.venues[venue1] = func(state contract.StateDB, value *big.Int) error {
		_, reentryErr = x.Swap(state, env.caller, swapParams(1, TradeLeg{
			TargetVenue: venue1, SellAsset: tokenA, BuyAsset: tokenB,
			SellAmount: big.NewInt(1), CallData: sel[:],
		}))
		return reentryErr
	}

	_, err := x.Swap(env.state, env.caller, swapParams(1_000,
		leg(venue1, tokenA, tokenB, big.NewInt(1_000), sel)))
	if err == nil {
		t.Fatal("expected settlement to fail")
	}
	if !errors.Is(reentryErr, ErrReentrant) {
		t.Fatalf("expected ErrReentrant from nested call, got %v", reentryErr)
	}
}

func TestSwapNativeInput(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	x := newTestExecutor(t, env)

	// value credited to the precompile account ahead of Run
	env.state.AddBalance(testRouter, uint256.NewInt(1_000))

	sel := env.addSwapVenue(t, venue1, NativeAsset, tokenB, big.NewInt(1_000), big.NewInt(950))
	p := swapParams(1_000, leg(venue1, NativeAsset, tokenB, big.NewInt(1_000), sel))
	p.SrcAsset = NativeAsset
	p.Value = big.NewInt(1_000)

	out, err := x.Swap(env.state, env.caller, p)
	require.NoError(err)
	require.Equal(big.NewInt(950), out)
	require.Equal(big.NewInt(950), env.ledger.BalanceOf(env.state, tokenB, testReceiver))
}
