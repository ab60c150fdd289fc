// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package roundcoord

import (
	"time"

	"github.com/relaynet/cnode/types"
)

// postConsensusState tracks the wait for the next round table after a
// finalize: once a block finalizes, the coordinator expects a new
// round table before PostConsensusTimeout elapses; if it doesn't
// arrive, it asks neighbours for one.
type postConsensusState struct {
	awaiting    bool
	finalizedAt time.Time
	requested   bool
}

// notePostConsensus is called after a successful FinalizeBlock to
// start the PostConsensusTimeout clock.
func (c *Coordinator) notePostConsensus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postConsensus = postConsensusState{awaiting: true, finalizedAt: time.Now()}
}

// NoteRoundTable tells the coordinator a new round table has arrived,
// satisfying any pending PostConsensusTimeout wait.
func (c *Coordinator) NoteRoundTable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postConsensus = postConsensusState{}
}

// CheckPostConsensusTimeout is driven by the node's ticker thread
//: once PostConsensusTimeout has elapsed since the last finalize
// without a new round table arriving, it broadcasts a
// RoundTableRequest exactly once per wait.
func (c *Coordinator) CheckPostConsensusTimeout(now time.Time) {
	c.mu.Lock()
	state := c.postConsensus
	lastRound := c.lastWritten
	due := state.awaiting && !state.requested && now.Sub(state.finalizedAt) > c.cfg.PostConsensusTimeout
	if due {
		c.postConsensus.requested = true
	}
	c.mu.Unlock()

	if due && c.announce != nil {
		// A RoundTableRequest carries the round a node is stuck
		// waiting past, which in steady state tracks its last
		// written sequence closely enough to be a useful hint to the
		// replying neighbour; the reply always carries the
		// authoritative round regardless.
		c.announce.BroadcastRoundTableRequest(types.Round(lastRound))
	}
}
