// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"sync"
	"time"

	"github.com/relaynet/cnode/wirecodec"

	"github.com/relaynet/cnode/types"
)

// assembly tracks the fragments received so far for one fragmented
// message, keyed by its header-hash.
type assembly struct {
	header   wirecodec.FrameHeader
	total    uint16
	have     uint64 // bitmask of fragments received, relative to Start=0
	pieces   [][]byte
	received int
	started  time.Time
	from     types.PublicKey
}

func newAssembly(h wirecodec.FrameHeader, from types.PublicKey) *assembly {
	return &assembly{
		header:  h,
		total:   h.FragTotal,
		pieces:  make([][]byte, h.FragTotal),
		started: time.Now(),
		from:    from,
	}
}

// deposit stores one fragment, returning the reassembled payload once
// every fragment up to total has arrived.
func (a *assembly) deposit(index uint16, payload []byte) (complete []byte, done bool) {
	if index >= a.total {
		return nil, false
	}
	if a.have&(1<<uint(index)) == 0 {
		a.have |= 1 << uint(index)
		a.pieces[index] = payload
		a.received++
	}
	if a.received < int(a.total) {
		return nil, false
	}
	size := 0
	for _, p := range a.pieces {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range a.pieces {
		out = append(out, p...)
	}
	return out, true
}

// missingBitmask returns the bitmask (relative to start 0) of
// fragments still outstanding, for a PackRequest.
func (a *assembly) missingBitmask() (start uint16, mask uint64) {
	for i := uint16(0); i < a.total && i < 64; i++ {
		if a.have&(1<<uint(i)) == 0 {
			mask |= 1 << uint(i)
		}
	}
	return 0, mask
}

// reassembler holds in-progress assemblies across all in-flight
// fragmented messages, keyed by header-hash.
type reassembler struct {
	mu         sync.Mutex
	inProgress map[types.Hash]*assembly
	abandonAge time.Duration
}

func newReassembler(abandonAge time.Duration) *reassembler {
	return &reassembler{
		inProgress: make(map[types.Hash]*assembly),
		abandonAge: abandonAge,
	}
}

// deposit routes a fragment to its assembly, creating one on first
// sight, and returns the full payload once complete.
func (r *reassembler) deposit(h wirecodec.FrameHeader, payload []byte, from types.PublicKey) (complete []byte, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.inProgress[h.HeaderHash]
	if !ok {
		a = newAssembly(h, from)
		r.inProgress[h.HeaderHash] = a
	}
	out, done := a.deposit(h.FragIndex, payload)
	if done {
		delete(r.inProgress, h.HeaderHash)
	}
	return out, done
}

// missing reports the missing-fragment bitmask for an in-progress
// assembly, for emitting a PackRequest.
func (r *reassembler) missing(hash types.Hash) (start uint16, mask uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, found := r.inProgress[hash]
	if !found {
		return 0, 0, false
	}
	start, mask = a.missingBitmask()
	return start, mask, true
}

// pendingHashes returns a snapshot of header-hashes with an assembly
// still in progress.
func (r *reassembler) pendingHashes() []types.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Hash, 0, len(r.inProgress))
	for hash := range r.inProgress {
		out = append(out, hash)
	}
	return out
}

// sweepAbandoned drops assemblies older than abandonAge,
// returning their header-hashes so callers can forget advertisements.
func (r *reassembler) sweepAbandoned(now time.Time) []types.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	var abandoned []types.Hash
	for hash, a := range r.inProgress {
		if now.Sub(a.started) >= r.abandonAge {
			abandoned = append(abandoned, hash)
			delete(r.inProgress, hash)
		}
	}
	return abandoned
}
