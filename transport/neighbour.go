// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"net"
	"sync"
	"time"

	"github.com/relaynet/cnode/set"
	"github.com/relaynet/cnode/types"
)

// NeighbourState is a peer's position in the handshake/liveness
// lifecycle: unknown -> registration
// requested -> registered -> confirmed -> (on inactivity) silent ->
// dropped.
type NeighbourState int

const (
	StateUnknown NeighbourState = iota
	StateRegistrationRequested
	StateRegistered
	StateConfirmed
	StateSilent
	StateDropped
)

func (s NeighbourState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateRegistrationRequested:
		return "registration-requested"
	case StateRegistered:
		return "registered"
	case StateConfirmed:
		return "confirmed"
	case StateSilent:
		return "silent"
	case StateDropped:
		return "dropped"
	default:
		return "invalid"
	}
}

// Neighbour is one remote peer's handshake state, liveness bookkeeping
// and strike count.
type Neighbour struct {
	Addr      net.Addr
	PublicKey types.PublicKey
	NodeID    types.NodeID

	State       NeighbourState
	Strikes     int
	Blacklisted bool

	LastSeen time.Time
	LastPing time.Time

	// Advertised holds header-hashes this neighbour has PackInform'd
	// that we have not yet fully received, so we know who to ask for
	// missing fragments.
	Advertised set.Set[types.Hash]
}

func newNeighbour(addr net.Addr, pk types.PublicKey, nodeID types.NodeID) *Neighbour {
	return &Neighbour{
		Addr:       addr,
		PublicKey:  pk,
		NodeID:     nodeID,
		State:      StateRegistrationRequested,
		LastSeen:   time.Now(),
		Advertised: set.Of[types.Hash](),
	}
}

// Table is the set of known neighbours, guarded by a short-hold lock
// acquired by both the processor and consensus threads.
type Table struct {
	mu       sync.RWMutex
	byKey    map[types.PublicKey]*Neighbour
	byNodeID map[types.NodeID]*Neighbour
	byAddr   map[string]*Neighbour
}

func newTable() *Table {
	return &Table{
		byKey:    make(map[types.PublicKey]*Neighbour),
		byNodeID: make(map[types.NodeID]*Neighbour),
		byAddr:   make(map[string]*Neighbour),
	}
}

func (t *Table) get(pk types.PublicKey) (*Neighbour, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.byKey[pk]
	return n, ok
}

func (t *Table) getByAddr(addr net.Addr) (*Neighbour, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.byAddr[addr.String()]
	return n, ok
}

func (t *Table) upsert(addr net.Addr, pk types.PublicKey, nodeID types.NodeID) *Neighbour {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.byKey[pk]; ok {
		n.Addr = addr
		n.NodeID = nodeID
		n.LastSeen = time.Now()
		t.byAddr[addr.String()] = n
		return n
	}
	n := newNeighbour(addr, pk, nodeID)
	t.byKey[pk] = n
	t.byNodeID[nodeID] = n
	t.byAddr[addr.String()] = n
	return n
}


// live returns the public keys of every non-dropped neighbour.
func (t *Table) live() []types.PublicKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.PublicKey, 0, len(t.byKey))
	for pk, n := range t.byKey {
		if n.State != StateDropped {
			out = append(out, pk)
		}
	}
	return out
}

func (t *Table) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byKey)
}

// setState forces a neighbour's lifecycle state, used by the
// handshake handlers to move unknown -> registered (confirmed is
// reached via confirm, below).
func (t *Table) setState(pk types.PublicKey, state NeighbourState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.byKey[pk]; ok {
		n.State = state
	}
}

func (t *Table) confirm(pk types.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.byKey[pk]; ok {
		n.State = StateConfirmed
		n.LastSeen = time.Now()
	}
}

func (t *Table) touch(pk types.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.byKey[pk]; ok {
		n.LastSeen = time.Now()
		if n.State == StateSilent {
			n.State = StateConfirmed
		}
	}
}

// strike records a protocol violation; returns true if this pushed
// the neighbour over cfg.MaxStrikes and it was just blacklisted.
func (t *Table) strike(pk types.PublicKey, maxStrikes int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byKey[pk]
	if !ok {
		return false
	}
	n.Strikes++
	if n.Strikes >= maxStrikes && !n.Blacklisted {
		n.Blacklisted = true
		n.State = StateDropped
		return true
	}
	return false
}

func (t *Table) isBlacklisted(pk types.PublicKey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.byKey[pk]
	return ok && n.Blacklisted
}

// sweepLiveness walks the table applying silence/drop transitions and
// returns neighbours due for a ping. Run from the ticker thread.
func (t *Table) sweepLiveness(now time.Time, silentThreshold, pingInterval time.Duration) (toPing []*Neighbour) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.byKey {
		if n.State != StateConfirmed && n.State != StateSilent {
			continue
		}
		since := now.Sub(n.LastSeen)
		switch {
		case n.State == StateConfirmed && since >= silentThreshold:
			n.State = StateSilent
		case n.State == StateSilent && since >= 2*silentThreshold:
			n.State = StateDropped
		default:
			if now.Sub(n.LastPing) >= pingInterval {
				n.LastPing = now
				toPing = append(toPing, n)
			}
		}
	}
	return toPing
}

// confirmed returns every confirmed (live) neighbour, used for
// broadcast sends and ConnectivityProvider.
func (t *Table) confirmed() []*Neighbour {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Neighbour, 0, len(t.byKey))
	for _, n := range t.byKey {
		if n.State == StateConfirmed {
			out = append(out, n)
		}
	}
	return out
}

// noteAdvertised records that pk claims to hold the packet named by
// hash, making it a candidate requestee for missing fragments.
func (t *Table) noteAdvertised(pk types.PublicKey, hash types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.byKey[pk]; ok {
		n.Advertised.Add(hash)
	}
}

// forgetAdvertised removes hash from every neighbour's advertised set,
// called once a fragmented message is fully reassembled or abandoned.
func (t *Table) forgetAdvertised(hash types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.byKey {
		n.Advertised.Remove(hash)
	}
}

// forgetAdvertisedFrom removes a single neighbour's advertisement of
// hash, used when that neighbour renounces it (PackRenounce).
func (t *Table) forgetAdvertisedFrom(pk types.PublicKey, hash types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.byKey[pk]; ok {
		n.Advertised.Remove(hash)
	}
}

// advertisers returns neighbours known to hold hash, for PackRequest
// targeting.
func (t *Table) advertisers(hash types.Hash) []*Neighbour {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Neighbour
	for _, n := range t.byKey {
		if n.Advertised.Contains(hash) {
			out = append(out, n)
		}
	}
	return out
}
