// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"fmt"

	"github.com/relaynet/cnode/types"
)

// TransactionsReady is the EvTransactions payload: the manifest is
// assembled and the node should build and broadcast its Stage-1,
// nominating NextCandidates for the following round's committee.
type TransactionsReady struct {
	NextCandidates []types.PublicKey
}

func handleNormal(m *Machine, ev Event) (State, error) {
	switch ev.Kind {
	case EvSetTrusted, EvSetWriter:
		return StateCollect, nil
	default:
		return StateNormal, nil
	}
}

func handleCollect(m *Machine, ev Event) (State, error) {
	switch ev.Kind {
	case EvTransactions, EvHashes:
		return m.buildAndBroadcastStage1Locked(ev)
	case EvSetNormal:
		return StateNormal, nil
	default:
		return StateCollect, nil
	}
}

func handleTrusted(m *Machine, ev Event) (State, error) {
	switch ev.Kind {
	case EvStage1Enough:
		return m.sendStage2Locked()
	case EvStage2Enough:
		return m.sendStage3Locked()
	case EvStage3Enough:
		return m.afterStage3Locked()
	case EvExpired:
		return StateNoTrusted, nil
	case EvSetNormal:
		return StateNormal, nil
	default:
		return StateTrusted, nil
	}
}

func handleWriter(m *Machine, ev Event) (State, error) {
	switch ev.Kind {
	case EvStage1Enough:
		return m.sendStage2Locked()
	case EvStage2Enough:
		return m.sendStage3Locked()
	case EvStage3Enough:
		return m.afterStage3Locked()
	case EvExpired:
		m.broad.SendNextRoundRequest(m.round)
		return StateWriter, nil
	case EvSetNormal:
		return StateNormal, nil
	default:
		return StateWriter, nil
	}
}

func handleHandleBB(m *Machine, ev Event) (State, error) {
	// HandleBB is transient: handleBigBangLocked already resolved the
	// role for the accompanying round table before returning here, so
	// any event arriving while still in this state is unexpected.
	return StateHandleBB, fmt.Errorf("consensus: unexpected event %s while in HandleBB", ev.Kind)
}

func handleNoTrusted(m *Machine, ev Event) (State, error) {
	switch ev.Kind {
	case EvRoundTable:
		// handled centrally in dispatchLocked before reaching here.
		return StateNoTrusted, nil
	default:
		return StateNoTrusted, nil
	}
}
