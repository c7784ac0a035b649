// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"errors"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/zeebo/blake3"

	"github.com/luxfi/router/contract"
)

// Storage key prefixes. Every registry record lives in the state trie of
// the registry contract address, keyed by a blake3 hash of prefix plus
// identifier.
var (
	prefixVerified = []byte("vrfy")
	prefixSelector = []byte("vsel")
	prefixAdmin    = []byte("admn")
)

var (
	ErrNotAdmin        = errors.New("caller is not the registry admin")
	ErrZeroVenue       = errors.New("venue address is zero")
	ErrUnverifiedVenue = errors.New("venue is not verified")
)

var flagSet = common.BytesToHash([]byte{1})

// makeStorageKey creates a storage key from prefix and identifier
func makeStorageKey(prefix []byte, id []byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	h.Write(id)
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

func selectorKey(venue common.Address, selector [4]byte) common.Hash {
	id := make([]byte, 0, 24)
	id = append(id, venue.Bytes()...)
	id = append(id, selector[:]...)
	return makeStorageKey(prefixSelector, id)
}

// VenueRegistry is the whitelist of external execution venues and the
// call selectors each venue may be invoked with. Writes go straight to
// the state trie. Reads go through a small cache that is dropped on
// every mutation.
type VenueRegistry struct {
	self common.Address
	log  log.Logger

	mu    sync.RWMutex
	cache map[common.Hash]common.Hash
}

// NewVenueRegistry creates a registry bound to the contract address that
// owns its storage.
func NewVenueRegistry(self common.Address, logger log.Logger) *VenueRegistry {
	return &VenueRegistry{
		self:  self,
		log:   logger,
		cache: make(map[common.Hash]common.Hash),
	}
}

// Configure seeds the admin slot. Called once from the module
// configurator at activation time.
func (r *VenueRegistry) Configure(state contract.StateDB, admin common.Address) {
	state.SetState(r.self, makeStorageKey(prefixAdmin, nil), common.BytesToHash(admin.Bytes()))
	r.dropCache()
}

// Admin returns the current registry admin.
func (r *VenueRegistry) Admin(state contract.StateDB) common.Address {
	return common.BytesToAddress(r.read(state, makeStorageKey(prefixAdmin, nil)).Bytes())
}

// SetAdmin hands registry control to a new admin.
func (r *VenueRegistry) SetAdmin(state contract.StateDB, caller, next common.Address) error {
	if err := r.requireAdmin(state, caller); err != nil {
		return err
	}
	state.SetState(r.self, makeStorageKey(prefixAdmin, nil), common.BytesToHash(next.Bytes()))
	r.dropCache()
	r.log.Info("registry admin changed", "from", caller, "to", next)
	return nil
}

// AddVenue marks a venue address as verified. Selectors still have to be
// allowed one by one before the venue is callable.
func (r *VenueRegistry) AddVenue(state contract.StateDB, caller, venue common.Address) error {
	if err := r.requireAdmin(state, caller); err != nil {
		return err
	}
	if venue == (common.Address{}) {
		return ErrZeroVenue
	}
	state.SetState(r.self, makeStorageKey(prefixVerified, venue.Bytes()), flagSet)
	r.dropCache()
	r.log.Info("venue verified", "venue", venue)
	return nil
}

// RemoveVenue clears the verified flag. Allowed selectors are left in
// place but become unreachable because IsAllowed checks the venue flag
// first.
func (r *VenueRegistry) RemoveVenue(state contract.StateDB, caller, venue common.Address) error {
	if err := r.requireAdmin(state, caller); err != nil {
		return err
	}
	state.SetState(r.self, makeStorageKey(prefixVerified, venue.Bytes()), common.Hash{})
	r.dropCache()
	r.log.Info("venue removed", "venue", venue)
	return nil
}

// AllowSelector permits one 4-byte call selector on a verified venue.
func (r *VenueRegistry) AllowSelector(state contract.StateDB, caller, venue common.Address, selector [4]byte) error {
	if err := r.requireAdmin(state, caller); err != nil {
		return err
	}
	if !r.IsVerified(state, venue) {
		return ErrUnverifiedVenue
	}
	state.SetState(r.self, selectorKey(venue, selector), flagSet)
	r.dropCache()
	r.log.Info("venue selector allowed", "venue", venue, "selector", common.Bytes2Hex(selector[:]))
	return nil
}

// RevokeSelector removes a previously allowed selector.
func (r *VenueRegistry) RevokeSelector(state contract.StateDB, caller, venue common.Address, selector [4]byte) error {
	if err := r.requireAdmin(state, caller); err != nil {
		return err
	}
	state.SetState(r.self, selectorKey(venue, selector), common.Hash{})
	r.dropCache()
	r.log.Info("venue selector revoked", "venue", venue, "selector", common.Bytes2Hex(selector[:]))
	return nil
}

// IsVerified reports whether the venue address itself is whitelisted.
func (r *VenueRegistry) IsVerified(state contract.StateDB, venue common.Address) bool {
	return r.read(state, makeStorageKey(prefixVerified, venue.Bytes())) == flagSet
}

// IsAllowed reports whether a call with the given selector may be sent
// to the venue. Both the venue flag and the per-selector flag must be
// set.
func (r *VenueRegistry) IsAllowed(state contract.StateDB, venue common.Address, selector [4]byte) bool {
	if !r.IsVerified(state, venue) {
		return false
	}
	return r.read(state, selectorKey(venue, selector)) == flagSet
}

func (r *VenueRegistry) requireAdmin(state contract.StateDB, caller common.Address) error {
	if r.Admin(state) != caller {
		return ErrNotAdmin
	}
	return nil
}

func (r *VenueRegistry) read(state contract.StateDB, key common.Hash) common.Hash {
	r.mu.RLock()
	v, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return v
	}
	v = state.GetState(r.self, key)
	r.mu.Lock()
	r.cache[key] = v
	r.mu.Unlock()
	return v
}

func (r *VenueRegistry) dropCache() {
	r.mu.Lock()
	r.cache = make(map[common.Hash]common.Hash)
	r.mu.Unlock()
}
