// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crosschain

import (
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/router/contract"
	"github.com/luxfi/router/router"
)

// PoolSlippageBps is the fixed tolerance the pool transport applies to the
// forwarded amount: the destination leg may pay out 0.5% less than what
// entered the pool.
const PoolSlippageBps = 50

// LiquidityPoolBridge swaps through same-asset liquidity pools on both
// sides instead of escrowing. The pool contract decides the realized rate;
// the transport only pins the floor.
type LiquidityPoolBridge struct {
	self         common.Address
	committer    common.Address
	poolContract common.Address
	ledger       *router.Ledger
	log          log.Logger

	mu       sync.Mutex
	inFlight map[common.Hash]*big.Int // order id -> minDst forwarded
}

// NewLiquidityPoolBridge creates the liquidity-pool transport.
func NewLiquidityPoolBridge(self, committer, poolContract common.Address, ledger *router.Ledger, logger log.Logger) *LiquidityPoolBridge {
	return &LiquidityPoolBridge{
		self:         self,
		committer:    committer,
		poolContract: poolContract,
		ledger:       ledger,
		log:          logger,
		inFlight:     make(map[common.Hash]*big.Int),
	}
}

func (b *LiquidityPoolBridge) Name() string            { return "pool" }
func (b *LiquidityPoolBridge) Address() common.Address { return b.self }

// MinDst returns the floor applied to an amount entering the pool.
func MinDst(amount *big.Int) *big.Int {
	min := new(big.Int).Mul(amount, big.NewInt(router.FeeDenom-PoolSlippageBps))
	return min.Div(min, big.NewInt(router.FeeDenom))
}

// Submit forwards the stable into the pool contract with the fixed
// slippage floor attached.
func (b *LiquidityPoolBridge) Submit(state contract.StateDB, caller contract.Caller, order *Order) error {
	value := new(big.Int)
	if order.GiveAsset.IsNative() {
		value.Set(order.GiveAmount)
	} else {
		if err := b.ledger.TransferFrom(state, order.GiveAsset.Address, b.self, b.committer, b.self, order.GiveAmount); err != nil {
			return err
		}
		b.ledger.Approve(state, order.GiveAsset.Address, b.self, b.poolContract, order.GiveAmount)
		defer b.ledger.Approve(state, order.GiveAsset.Address, b.self, b.poolContract, new(big.Int))
	}

	minDst := MinDst(order.GiveAmount)
	input := make([]byte, 0, 4+32+32+4+len(order.Payload))
	input = append(input, 0x50, 0x6f, 0x6f, 0x6c) // "Pool"
	input = append(input, order.ID.Bytes()...)
	input = append(input, common.BigToHash(minDst).Bytes()...)
	input = append(input, u32be(order.DstChain)...)
	input = append(input, order.Payload...)

	if _, err := caller.Call(state, b.poolContract, input, value); err != nil {
		return err
	}

	b.mu.Lock()
	b.inFlight[order.ID] = minDst
	b.mu.Unlock()

	b.log.Info("pool transfer submitted", "id", order.ID,
		"amount", order.GiveAmount, "minDst", minDst, "dstChain", order.DstChain)
	return nil
}

// InFlight returns the forwarded floor for an order id.
func (b *LiquidityPoolBridge) InFlight(id common.Hash) (*big.Int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	min, ok := b.inFlight[id]
	return min, ok
}
