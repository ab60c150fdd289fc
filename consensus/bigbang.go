// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"fmt"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
)

// handleBigBangLocked applies a big-bang: an authoritative reset that
// is honored only if it is properly signed and its round is both at
// least the current round and strictly past the last written
// sequence. A BigBang that fails either check is rejected outright;
// there is no partial application.
func (m *Machine) handleBigBangLocked(bb types.BigBang) error {
	if !cryptoutil.Verify(m.authority, bb.SignedBytes(), bb.Signature) {
		return fmt.Errorf("consensus: big-bang signature does not verify against the configured authority")
	}

	lastWritten := m.final.LastWrittenSequence()
	if bb.Round < m.round || bb.Round <= types.Round(lastWritten) {
		return fmt.Errorf("consensus: big-bang round %d rejected (current round %d, last written %d)", bb.Round, m.round, lastWritten)
	}

	m.state = StateHandleBB
	m.final.DropDeferredBlock()
	// A big-bang's round is strictly past the last written sequence,
	// so only invocations spawned by blocks at or below the tip
	// survive; anything newer belonged to a deferred block that was
	// just dropped.
	m.execCX.CancelRunning(func(ref types.SmartContractRef) bool {
		return ref.Sequence <= lastWritten
	})

	m.beginRoundLocked(bb.Table)
	return nil
}
