// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"sync"
	"time"

	"github.com/relaynet/cnode/types"
)

// outbox remembers the fragments of messages this node has recently
// sent, so a PackRequest naming missing fragments can be answered with
// a resend instead of requiring the whole message be re-fragmented
//.
type outbox struct {
	mu      sync.Mutex
	entries map[types.Hash]outboxEntry
	ttl     time.Duration
}

type outboxEntry struct {
	fragments [][]byte
	storedAt  time.Time
}

func newOutbox(ttl time.Duration) *outbox {
	return &outbox{entries: make(map[types.Hash]outboxEntry), ttl: ttl}
}

func (o *outbox) put(hash types.Hash, fragments [][]byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[hash] = outboxEntry{fragments: fragments, storedAt: time.Now()}
}

// fragmentsFor returns the fragments named by the PackRequest's
// (start, mask) pair, bounded by fanout.
func (o *outbox) fragmentsFor(hash types.Hash, start uint16, mask uint64, fanout int) []uint16 {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[hash]
	if !ok {
		return nil
	}
	var indexes []uint16
	for i := uint16(0); i < 64 && len(indexes) < fanout; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		idx := start + i
		if int(idx) >= len(e.fragments) {
			continue
		}
		indexes = append(indexes, idx)
	}
	return indexes
}

func (o *outbox) fragment(hash types.Hash, index uint16) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[hash]
	if !ok || int(index) >= len(e.fragments) {
		return nil, false
	}
	return e.fragments[index], true
}

// sweep drops entries older than the outbox's ttl.
func (o *outbox) sweep(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for hash, e := range o.entries {
		if now.Sub(e.storedAt) >= o.ttl {
			delete(o.entries, hash)
		}
	}
}
