// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"fmt"
	"math/big"

	"github.com/luxfi/crypto"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/router/contract"
)

// GaslessOrder is a settlement signed off-chain by the user and submitted
// by a relayer who fronts the gas. Fee is the relayer's compensation, paid
// out of the input in the source token.
type GaslessOrder struct {
	User         common.Address
	Receiver     common.Address
	SrcToken     common.Address
	DstToken     common.Address
	AmountIn     *big.Int
	Fee          *big.Int
	AmountOutMin *big.Int
	Deadline     uint64
	TradeHash    common.Hash
}

var (
	gaslessDomain   = common.BytesToHash(crypto.Keccak256([]byte("LuxRouterGaslessOrder(v1)")))
	gaslessTypeHash = common.BytesToHash(crypto.Keccak256([]byte(
		"Order(address user,address receiver,address srcToken,address dstToken," +
			"uint256 amountIn,uint256 fee,uint256 amountOutMin,uint64 deadline,bytes32 tradeHash)")))
)

// Digest returns the signed typed-data hash of the order.
func (o GaslessOrder) Digest() common.Hash {
	structHash := crypto.Keccak256(
		gaslessTypeHash.Bytes(),
		common.LeftPadBytes(o.User.Bytes(), 32),
		common.LeftPadBytes(o.Receiver.Bytes(), 32),
		common.LeftPadBytes(o.SrcToken.Bytes(), 32),
		common.LeftPadBytes(o.DstToken.Bytes(), 32),
		common.BigToHash(o.AmountIn).Bytes(),
		common.BigToHash(o.Fee).Bytes(),
		common.BigToHash(o.AmountOutMin).Bytes(),
		common.BigToHash(new(big.Int).SetUint64(o.Deadline)).Bytes(),
		o.TradeHash.Bytes(),
	)
	return common.BytesToHash(crypto.Keccak256([]byte("\x19\x01"), gaslessDomain.Bytes(), structHash))
}

// RecoverSigner recovers the order signer from a 65-byte [R || S || V]
// signature, accepting both 0/1 and 27/28 recovery ids.
func (o GaslessOrder) RecoverSigner(sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: signature length %d", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(o.Digest().Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return common.BytesToAddress(crypto.PubkeyToAddress(*pub).Bytes()), nil
}

// OrderStore persists executed-order markers for replay protection.
type OrderStore struct {
	db database.Database
}

// NewOrderStore creates a store over the given database.
func NewOrderStore(db database.Database) *OrderStore {
	return &OrderStore{db: db}
}

var prefixGaslessExecuted = []byte("gex")

func executedKey(user common.Address, tradeHash common.Hash) []byte {
	return hashID(prefixGaslessExecuted, user.Bytes(), tradeHash.Bytes()).Bytes()
}

// Executed reports whether the (user, tradeHash) pair has settled before.
func (s *OrderStore) Executed(user common.Address, tradeHash common.Hash) (bool, error) {
	return s.db.Has(executedKey(user, tradeHash))
}

// MarkExecuted burns the (user, tradeHash) pair.
func (s *OrderStore) MarkExecuted(user common.Address, tradeHash common.Hash) error {
	return s.db.Put(executedKey(user, tradeHash), []byte{1})
}

// GaslessExecutor settles signed orders submitted by relayers.
type GaslessExecutor struct {
	executor *Executor
	store    *OrderStore
}

// NewGaslessExecutor wraps the settlement executor with signature checking
// and replay protection.
func NewGaslessExecutor(executor *Executor, store *OrderStore) *GaslessExecutor {
	return &GaslessExecutor{executor: executor, store: store}
}

// ExecuteGaslessOrder verifies and settles one signed order. The relayer
// fee is paid from the pulled input before routing; the replay marker is
// written only after the settlement has succeeded, so a failed settlement
// leaves the order spendable.
func (g *GaslessExecutor) ExecuteGaslessOrder(
	state contract.StateDB,
	caller contract.Caller,
	relayer common.Address,
	order GaslessOrder,
	sig []byte,
	legs []TradeLeg,
	integrator Integrator,
) (*big.Int, error) {
	if state.GetTimestamp() > order.Deadline {
		return nil, ErrOrderExpired
	}

	signer, err := order.RecoverSigner(sig)
	if err != nil {
		return nil, err
	}
	if signer != order.User {
		return nil, fmt.Errorf("%w: recovered %s", ErrInvalidSignature, signer)
	}

	done, err := g.store.Executed(order.User, order.TradeHash)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, ErrOrderAlreadyExecuted
	}

	if order.Fee.Cmp(order.AmountIn) >= 0 {
		return nil, ErrInvalidAmount
	}

	// pull the gross input, peel off the relayer fee, route the rest
	x := g.executor
	if err := x.ledger.Transfer(state, Asset{Address: order.SrcToken}, order.User, x.self, order.AmountIn); err != nil {
		return nil, err
	}
	if err := x.ledger.Transfer(state, Asset{Address: order.SrcToken}, x.self, relayer, order.Fee); err != nil {
		return nil, err
	}

	tradeAmount := new(big.Int).Sub(order.AmountIn, order.Fee)
	out, err := x.swapPulled(state, caller, SwapParams{
		User:         order.User,
		Receiver:     order.Receiver,
		SrcAsset:     Asset{Address: order.SrcToken},
		DstAsset:     Asset{Address: order.DstToken},
		AmountIn:     tradeAmount,
		AmountOutMin: order.AmountOutMin,
		Legs:         legs,
		Integrator:   integrator,
	})
	if err != nil {
		return nil, err
	}

	if err := g.store.MarkExecuted(order.User, order.TradeHash); err != nil {
		return nil, err
	}
	x.log.Info("gasless order settled", "user", order.User, "relayer", relayer,
		"tradeHash", order.TradeHash, "out", out)
	return out, nil
}
