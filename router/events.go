// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

// Event names recorded in the journal.
const (
	EventFeeTaken = "FeeTaken"
	EventSwapped  = "Swapped"
	EventRecover  = "AssetRecovered"
)

// Event is one journal entry. Fields not meaningful for a given event are
// left zero.
type Event struct {
	Name      string
	User      common.Address
	Receiver  common.Address
	Asset     Asset
	DstAsset  Asset
	Amount    *big.Int
	AmountOut *big.Int
	FeeBps    uint32
	ShareBps  uint32
	OrderID   common.Hash
	Reason    string
}

// EventJournal is an append-only in-memory record of settlement events,
// queryable by tests and by the dispatch shell.
type EventJournal struct {
	mu     sync.Mutex
	events []Event
}

func (j *EventJournal) Append(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

// Events returns a copy of the journal.
func (j *EventJournal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

// ByName returns the journal entries with the given event name.
func (j *EventJournal) ByName(name string) []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Event
	for _, e := range j.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
