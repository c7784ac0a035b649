// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/router/contract"
	"github.com/luxfi/router/registry"
)

// mockStateDB is an in-memory StateDB with snapshot support.
type mockStateDB struct {
	storage   map[common.Address]map[common.Hash]common.Hash
	balances  map[common.Address]*uint256.Int
	timestamp uint64
	snapshots []mockSnapshot
}

type mockSnapshot struct {
	storage  map[common.Address]map[common.Hash]common.Hash
	balances map[common.Address]*uint256.Int
}

func newMockStateDB() *mockStateDB {
	return &mockStateDB{
		storage:   make(map[common.Address]map[common.Hash]common.Hash),
		balances:  make(map[common.Address]*uint256.Int),
		timestamp: 1700000000,
	}
}

func (m *mockStateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	return m.storage[addr][key]
}

func (m *mockStateDB) SetState(addr common.Address, key common.Hash, value common.Hash) {
	if m.storage[addr] == nil {
		m.storage[addr] = make(map[common.Hash]common.Hash)
	}
	m.storage[addr][key] = value
}

func (m *mockStateDB) GetBalance(addr common.Address) *uint256.Int {
	if b, ok := m.balances[addr]; ok {
		return new(uint256.Int).Set(b)
	}
	return uint256.NewInt(0)
}

func (m *mockStateDB) AddBalance(addr common.Address, amount *uint256.Int) {
	m.balances[addr] = new(uint256.Int).Add(m.GetBalance(addr), amount)
}

func (m *mockStateDB) SubBalance(addr common.Address, amount *uint256.Int) {
	m.balances[addr] = new(uint256.Int).Sub(m.GetBalance(addr), amount)
}

func (m *mockStateDB) Exist(addr common.Address) bool {
	_, ok := m.storage[addr]
	return ok
}

func (m *mockStateDB) CreateAccount(addr common.Address) {
	if m.storage[addr] == nil {
		m.storage[addr] = make(map[common.Hash]common.Hash)
	}
}

func (m *mockStateDB) GetBlockNumber() uint64 { return 1 }
func (m *mockStateDB) GetTimestamp() uint64   { return m.timestamp }

func (m *mockStateDB) Snapshot() int {
	snap := mockSnapshot{
		storage:  make(map[common.Address]map[common.Hash]common.Hash, len(m.storage)),
		balances: make(map[common.Address]*uint256.Int, len(m.balances)),
	}
	for addr, slots := range m.storage {
		cp := make(map[common.Hash]common.Hash, len(slots))
		for k, v := range slots {
			cp[k] = v
		}
		snap.storage[addr] = cp
	}
	for addr, b := range m.balances {
		snap.balances[addr] = new(uint256.Int).Set(b)
	}
	m.snapshots = append(m.snapshots, snap)
	return len(m.snapshots) - 1
}

func (m *mockStateDB) RevertToSnapshot(id int) {
	snap := m.snapshots[id]
	m.storage = snap.storage
	m.balances = snap.balances
	m.snapshots = m.snapshots[:id]
}

// fakeCaller routes external calls to per-venue behaviors.
type fakeCaller struct {
	venues map[common.Address]func(state contract.StateDB, value *big.Int) error
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{venues: make(map[common.Address]func(contract.StateDB, *big.Int) error)}
}

func (f *fakeCaller) Call(state contract.StateDB, to common.Address, input []byte, value *big.Int) ([]byte, error) {
	behavior, ok := f.venues[to]
	if !ok {
		return nil, errors.New("unknown venue")
	}
	return nil, behavior(state, value)
}

var (
	testAdmin    = common.HexToAddress("0xAd0000000000000000000000000000000000Ad01")
	testUser     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testReceiver = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testRouter   = common.HexToAddress(RouterAddress)

	tokenA = Asset{Address: common.HexToAddress("0xA000000000000000000000000000000000000001")}
	tokenB = Asset{Address: common.HexToAddress("0xB000000000000000000000000000000000000002")}
	tokenC = Asset{Address: common.HexToAddress("0xC000000000000000000000000000000000000003")}

	venue1 = common.HexToAddress("0xF100000000000000000000000000000000000001")
	venue2 = common.HexToAddress("0xF200000000000000000000000000000000000002")
)

// testEnv bundles the wired settlement components over a fresh state.
type testEnv struct {
	state    *mockStateDB
	caller   *fakeCaller
	registry *registry.VenueRegistry
	ledger   *Ledger
	engine   *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	logger := log.NewTestLogger(log.InfoLevel)
	state := newMockStateDB()
	reg := registry.NewVenueRegistry(common.HexToAddress(VenueRegistryAddress), logger)
	reg.Configure(state, testAdmin)
	ledger := NewLedger(common.HexToAddress(TokenLedgerAddress))
	engine := NewEngine(reg, ledger, testRouter, logger)
	return &testEnv{
		state:    state,
		caller:   newFakeCaller(),
		registry: reg,
		ledger:   ledger,
		engine:   engine,
	}
}

func (e *testEnv) allow(t *testing.T, venue common.Address, selector [4]byte) {
	t.Helper()
	require.NoError(t, e.registry.AddVenue(e.state, testAdmin, venue))
	require.NoError(t, e.registry.AllowSelector(e.state, testAdmin, venue, selector))
}

// addSwapVenue registers a venue that consumes consume of sell from the
// router account and mints produce of buy back to it.
func (e *testEnv) addSwapVenue(t *testing.T, venue common.Address, sell, buy Asset, consume, produce *big.Int) [4]byte {
	t.Helper()
	sel := [4]byte{0x01, 0x02, 0x03, 0x04}
	e.allow(t, venue, sel)
	e.caller.venues[venue] = func(state contract.StateDB, value *big.Int) error {
		if sell.IsNative() {
			if err := e.ledger.Transfer(state, NativeAsset, testRouter, venue, consume); err != nil {
				return err
			}
		} else {
			if err := e.ledger.TransferFrom(state, sell.Address, venue, testRouter, venue, consume); err != nil {
				return err
			}
		}
		if buy.IsNative() {
			return e.ledger.Transfer(state, NativeAsset, venue, testRouter, produce)
		}
		e.ledger.Mint(state, buy.Address, testRouter, produce)
		return nil
	}
	return sel
}

func leg(venue common.Address, sell, buy Asset, amount *big.Int, sel [4]byte) TradeLeg {
	return TradeLeg{
		TargetVenue: venue,
		SellAsset:   sell,
		BuyAsset:    buy,
		SellAmount:  amount,
		CallData:    sel[:],
	}
}

func TestExecuteLegsTwoHop(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	amt := big.NewInt(10_000)
	mid := big.NewInt(9_000)
	out := big.NewInt(8_500)
	env.ledger.Mint(env.state, tokenA.Address, testRouter, amt)

	sel1 := env.addSwapVenue(t, venue1, tokenA, tokenB, amt, mid)
	sel2 := env.addSwapVenue(t, venue2, tokenB, tokenC, mid, out)

	got, err := env.engine.ExecuteLegs(env.state, env.caller, tokenA, amt, []TradeLeg{
		leg(venue1, tokenA, tokenB, amt, sel1),
		leg(venue2, tokenB, tokenC, mid, sel2),
	}, false)
	require.NoError(err)
	require.Equal(out, got)
	require.Equal(out, env.ledger.BalanceOf(env.state, tokenC, testRouter))

	// approvals revoked after each leg
	require.Zero(env.ledger.Allowance(env.state, tokenA.Address, testRouter, venue1).Sign())
	require.Zero(env.ledger.Allowance(env.state, tokenB.Address, testRouter, venue2).Sign())
}

func TestExecuteLegsUnverifiedVenue(t *testing.T) {
	env := newTestEnv(t)

	amt := big.NewInt(1_000)
	env.ledger.Mint(env.state, tokenA.Address, testRouter, amt)

	sel := [4]byte{0xde, 0xad, 0xbe, 0xef}
	_, err := env.engine.ExecuteLegs(env.state, env.caller, tokenA, amt, []TradeLeg{
		leg(venue1, tokenA, tokenB, amt, sel),
	}, false)
	if !errors.Is(err, ErrUnverifiedVenue) {
		t.Fatalf("expected ErrUnverifiedVenue, got %v", err)
	}
}

func TestExecuteLegsOversoldSource(t *testing.T) {
	env := newTestEnv(t)

	amt := big.NewInt(1_000)
	env.ledger.Mint(env.state, tokenA.Address, testRouter, big.NewInt(5_000))

	sel1 := env.addSwapVenue(t, venue1, tokenA, tokenB, big.NewInt(600), big.NewInt(500))
	sel2 := env.addSwapVenue(t, venue2, tokenA, tokenB, big.NewInt(600), big.NewInt(500))

	// split legs totalling 1200 against a 1000 budget
	_, err := env.engine.ExecuteLegs(env.state, env.caller, tokenA, amt, []TradeLeg{
		leg(venue1, tokenA, tokenB, big.NewInt(600), sel1),
		leg(venue2, tokenA, tokenB, big.NewInt(600), sel2),
	}, false)
	if !errors.Is(err, ErrOversoldSource) {
		t.Fatalf("expected ErrOversoldSource, got %v", err)
	}
}

func TestExecuteLegsSplitRouting(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	amt := big.NewInt(1_000)
	env.ledger.Mint(env.state, tokenA.Address, testRouter, amt)

	sel1 := env.addSwapVenue(t, venue1, tokenA, tokenB, big.NewInt(600), big.NewInt(590))
	sel2 := env.addSwapVenue(t, venue2, tokenA, tokenB, big.NewInt(400), big.NewInt(380))

	out, err := env.engine.ExecuteLegs(env.state, env.caller, tokenA, amt, []TradeLeg{
		leg(venue1, tokenA, tokenB, big.NewInt(600), sel1),
		leg(venue2, tokenA, tokenB, big.NewInt(400), sel2),
	}, false)
	require.NoError(err)
	require.Equal(big.NewInt(970), out)
}

func TestExecuteLegsFundsDiverted(t *testing.T) {
	env := newTestEnv(t)

	amt := big.NewInt(1_000)
	// venue takes more than its declared input
	env.ledger.Mint(env.state, tokenA.Address, testRouter, big.NewInt(2_000))

	sel := [4]byte{0x01, 0x02, 0x03, 0x04}
	env.allow(t, venue1, sel)
	env.caller.venues[venue1] = func(state contract.StateDB, value *big.Int) error {
		// direct ledger raid beyond the approved amount
		return env.ledger.Transfer(state, tokenA, testRouter, venue1, big.NewInt(1_500))
	}

	_, err := env.engine.ExecuteLegs(env.state, env.caller, tokenA, amt, []TradeLeg{
		leg(venue1, tokenA, tokenB, amt, sel),
	}, false)
	if !errors.Is(err, ErrFundsDiverted) {
		t.Fatalf("expected ErrFundsDiverted, got %v", err)
	}
}

func TestExecuteLegsChainContinuity(t *testing.T) {
	env := newTestEnv(t)

	amt := big.NewInt(1_000)
	env.ledger.Mint(env.state, tokenA.Address, testRouter, amt)

	tests := []struct {
		name    string
		nextLeg TradeLeg
		wantErr error
	}{
		{
			name: "slippage",
			nextLeg: TradeLeg{
				TargetVenue: venue2, SellAsset: tokenB, BuyAsset: tokenC,
				SellAmount: big.NewInt(950), CallData: []byte{0x01, 0x02, 0x03, 0x04},
			},
			wantErr: ErrSlippage,
		},
		{
			name: "token mismatch",
			nextLeg: TradeLeg{
				TargetVenue: venue2, SellAsset: tokenC, BuyAsset: tokenB,
				SellAmount: big.NewInt(100), CallData: []byte{0x01, 0x02, 0x03, 0x04},
			},
			wantErr: ErrTokenMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.ledger.Mint(env.state, tokenA.Address, testRouter, amt)

			// first leg buys 900 tokenB
			sel1 := env.addSwapVenue(t, venue1, tokenA, tokenB, amt, big.NewInt(900))
			env.addSwapVenue(t, venue2, tokenB, tokenC, big.NewInt(900), big.NewInt(850))

			_, err := env.engine.ExecuteLegs(env.state, env.caller, tokenA, amt, []TradeLeg{
				leg(venue1, tokenA, tokenB, amt, sel1),
				tt.nextLeg,
			}, false)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExecuteLegsValidation(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.ExecuteLegs(env.state, env.caller, tokenA, big.NewInt(1), nil, false); !errors.Is(err, ErrNoLegs) {
		t.Fatalf("expected ErrNoLegs, got %v", err)
	}

	sel := env.addSwapVenue(t, venue1, tokenB, tokenC, big.NewInt(1), big.NewInt(1))
	_, err := env.engine.ExecuteLegs(env.state, env.caller, tokenA, big.NewInt(1), []TradeLeg{
		leg(venue1, tokenB, tokenC, big.NewInt(1), sel),
	}, false)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExecuteLegsDestSideRejectsNative(t *testing.T) {
	env := newTestEnv(t)
	env.state.AddBalance(testRouter, uint256.NewInt(1_000))

	sel := env.addSwapVenue(t, venue1, NativeAsset, tokenB, big.NewInt(1_000), big.NewInt(900))
	_, err := env.engine.ExecuteLegs(env.state, env.caller, NativeAsset, big.NewInt(1_000), []TradeLeg{
		leg(venue1, NativeAsset, tokenB, big.NewInt(1_000), sel),
	}, true)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExecuteLegsNativeInput(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	amt := big.NewInt(1_000)
	env.state.AddBalance(testRouter, uint256.NewInt(1_000))

	sel := env.addSwapVenue(t, venue1, NativeAsset, tokenB, amt, big.NewInt(950))
	out, err := env.engine.ExecuteLegs(env.state, env.caller, NativeAsset, amt, []TradeLeg{
		leg(venue1, NativeAsset, tokenB, amt, sel),
	}, false)
	require.NoError(err)
	require.Equal(big.NewInt(950), out)
	require.Zero(env.state.GetBalance(testRouter).Sign())
}
