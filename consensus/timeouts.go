// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"time"

	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/wirecodec"
)

// CheckTimeouts is driven by the node's ticker thread: it fires a
// stage-request once StageRequestTimeout has elapsed without enough
// of the current stage collected, and EvExpired once StateTimeout has
// elapsed in the current state without a transition.
func (m *Machine) CheckTimeouts(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stateEnteredAt.IsZero() {
		return nil
	}

	if !m.stageRequestSent && now.Sub(m.roundBeganAt) > m.cfg.StageRequestTimeout {
		m.sendStageRequestLocked()
		m.stageRequestSent = true
	}

	if now.Sub(m.stateEnteredAt) > m.cfg.StateTimeout {
		return m.dispatchLocked(Event{Kind: EvExpired})
	}
	return nil
}

// sendStageRequestLocked identifies the stage this node is still
// waiting on and asks its missing confidants to resend.
func (m *Machine) sendStageRequestLocked() {
	switch m.state {
	case StateTrusted, StateWriter:
		if missing := m.missingStage1Locked(); len(missing) > 0 {
			m.broad.SendStageRequest(uint16(wirecodec.MsgStage1), m.round, missing)
			return
		}
		if missing := m.missingStage2Locked(); len(missing) > 0 {
			m.broad.SendStageRequest(uint16(wirecodec.MsgStage2), m.round, missing)
			return
		}
		if missing := m.missingStage3Locked(); len(missing) > 0 {
			m.broad.SendStageRequest(uint16(wirecodec.MsgStage3), m.round, missing)
		}
	}
}

func (m *Machine) missingStage1Locked() []types.PublicKey {
	var missing []types.PublicKey
	for idx, pk := range m.table.Confidants {
		if _, ok := m.stage1[uint16(idx)]; !ok {
			missing = append(missing, pk)
		}
	}
	return missing
}

func (m *Machine) missingStage2Locked() []types.PublicKey {
	var missing []types.PublicKey
	for idx, pk := range m.table.Confidants {
		if _, ok := m.stage2[uint16(idx)]; !ok {
			missing = append(missing, pk)
		}
	}
	return missing
}

func (m *Machine) missingStage3Locked() []types.PublicKey {
	var missing []types.PublicKey
	for idx, pk := range m.table.Confidants {
		if _, ok := m.stage3[uint16(idx)]; !ok {
			missing = append(missing, pk)
		}
	}
	return missing
}
