// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/router/contract"
)

func encodeSwapInput(p SwapParams) []byte {
	out := make([]byte, 0, 184)
	out = append(out, p.Receiver.Bytes()...)
	out = append(out, p.SrcAsset.Address.Bytes()...)
	out = append(out, p.DstAsset.Address.Bytes()...)
	out = append(out, common.BigToHash(p.AmountIn).Bytes()...)
	out = append(out, common.BigToHash(p.AmountOutMin).Bytes()...)
	value := p.Value
	if value == nil {
		value = new(big.Int)
	}
	out = append(out, common.BigToHash(value).Bytes()...)
	out = append(out, p.Integrator.ID.Bytes()...)
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], p.Integrator.FeeBps)
	out = append(out, be[:]...)
	binary.BigEndian.PutUint32(be[:], p.Integrator.ShareBps)
	out = append(out, be[:]...)
	for _, l := range p.Legs {
		out = append(out, l.TargetVenue.Bytes()...)
		out = append(out, l.SellAsset.Address.Bytes()...)
		out = append(out, l.BuyAsset.Address.Bytes()...)
		out = append(out, common.BigToHash(l.SellAmount).Bytes()...)
		binary.BigEndian.PutUint32(be[:], uint32(len(l.CallData)))
		out = append(out, be[:]...)
		out = append(out, l.CallData...)
	}
	return out
}

func TestDecodeSwapInputRoundTrip(t *testing.T) {
	require := require.New(t)

	want := SwapParams{
		User:         testUser,
		Receiver:     testReceiver,
		SrcAsset:     tokenA,
		DstAsset:     tokenC,
		AmountIn:     big.NewInt(123_456),
		AmountOutMin: big.NewInt(100_000),
		Value:        new(big.Int),
		Integrator:   Integrator{ID: testAdmin, FeeBps: 30, ShareBps: 2_000},
		Legs: []TradeLeg{
			{TargetVenue: venue1, SellAsset: tokenA, BuyAsset: tokenB,
				SellAmount: big.NewInt(123_456), CallData: []byte{1, 2, 3, 4, 9, 9}},
			{TargetVenue: venue2, SellAsset: tokenB, BuyAsset: tokenC,
				SellAmount: big.NewInt(100_000), CallData: []byte{5, 6, 7, 8}},
		},
	}

	got, err := decodeSwapInput(testUser, encodeSwapInput(want))
	require.NoError(err)
	require.Zero(got.Value.Sign())
	want.Value, got.Value = nil, nil
	require.Equal(want, got)
}

func TestDecodeSwapInputTruncated(t *testing.T) {
	_, err := decodeSwapInput(testUser, make([]byte, 100))
	require.Error(t, err)

	// valid header, truncated leg
	p := SwapParams{Receiver: testReceiver, SrcAsset: tokenA, DstAsset: tokenB,
		AmountIn: big.NewInt(1), AmountOutMin: big.NewInt(1)}
	data := append(encodeSwapInput(p), make([]byte, 10)...)
	_, err = decodeSwapInput(testUser, data)
	require.Error(t, err)
}

type runState struct {
	state *mockStateDB
	ext   contract.Caller
}

func (r *runState) GetStateDB() contract.StateDB { return r.state }
func (r *runState) GetCaller() contract.Caller   { return r.ext }

func TestRouterContractRun(t *testing.T) {
	require := require.New(t)
	state := newMockStateDB()
	as := &runState{state: state, ext: newFakeCaller()}
	c := newRouterContract()

	// short input
	_, _, err := c.Run(as, testUser, common.HexToAddress(RouterAddress), []byte{1}, GasSwap, false)
	require.Error(err)

	// unknown selector
	bad := []byte{0xff, 0xff, 0xff, 0xff}
	_, _, err = c.Run(as, testUser, common.HexToAddress(RouterAddress), bad, GasSwap, false)
	require.Error(err)

	// read-only rejection
	input := make([]byte, 4)
	binary.BigEndian.PutUint32(input, SelectorSwap)
	_, _, err = c.Run(as, testUser, common.HexToAddress(RouterAddress), input, GasSwap, true)
	require.Error(err)

	// out of gas
	_, remaining, err := c.Run(as, testUser, common.HexToAddress(RouterAddress), input, 1, false)
	require.Error(err)
	require.Zero(remaining)

	// blacklisted selector
	c.blacklist[SelectorSwap] = true
	_, _, err = c.Run(as, testUser, common.HexToAddress(RouterAddress), input, GasSwap, false)
	require.ErrorContains(err, "disabled")
}

func TestRouterContractExecutorGate(t *testing.T) {
	require := require.New(t)
	state := newMockStateDB()
	as := &runState{state: state, ext: newFakeCaller()}
	c := newRouterContract()

	input := make([]byte, 4)
	binary.BigEndian.PutUint32(input, SelectorGaslessSwap)
	_, _, err := c.Run(as, testUser, common.HexToAddress(RouterAddress), input, GasGasless, false)
	require.ErrorIs(err, ErrNotAuthority)

	// admin gates executor registration
	reg := make([]byte, 4, 25)
	binary.BigEndian.PutUint32(reg, SelectorSetExecutor)
	reg = append(reg, testUser.Bytes()...)
	reg = append(reg, 1)
	_, _, err = c.Run(as, testUser, common.HexToAddress(RouterAddress), reg, GasAdmin, false)
	require.ErrorIs(err, ErrNotAuthority)

	c.admin = testAdmin
	_, _, err = c.Run(as, testAdmin, common.HexToAddress(RouterAddress), reg, GasAdmin, false)
	require.NoError(err)
	require.True(c.executors[testUser])
}
