// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package consensus implements the per-round state machine: role
// assignment, the three-stage Trusted-role protocol, stage-request
// recovery, timeouts, and big-bang handling. States are tagged
// variants dispatched through a
// handle(event) function per state rather than an inheritance
// hierarchy of per-state behaviors.
package consensus

// State is one node's role/phase within the current round.
type State uint8

const (
	StateNormal State = iota
	StateTrusted
	StateCollect
	StateWriter
	StateHandleBB
	StateNoTrusted
)

// String names a State for logs and test failures.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateTrusted:
		return "trusted"
	case StateCollect:
		return "collect"
	case StateWriter:
		return "writer"
	case StateHandleBB:
		return "handle-bb"
	case StateNoTrusted:
		return "no-trusted"
	default:
		return "unknown"
	}
}

// EventKind enumerates the event alphabet driving state transitions
//.
type EventKind uint8

const (
	EvStart EventKind = iota
	EvBigBang
	EvRoundTable
	EvTransactions
	EvHashes
	EvStage1Enough
	EvStage2Enough
	EvStage3Enough
	EvSmartDeploy
	EvSmartResult
	EvExpired
	EvSetNormal
	EvSetTrusted
	EvSetWriter
)

// String names an EventKind for logs and test failures.
func (k EventKind) String() string {
	switch k {
	case EvStart:
		return "start"
	case EvBigBang:
		return "big-bang"
	case EvRoundTable:
		return "round-table"
	case EvTransactions:
		return "transactions"
	case EvHashes:
		return "hashes"
	case EvStage1Enough:
		return "stage1-enough"
	case EvStage2Enough:
		return "stage2-enough"
	case EvStage3Enough:
		return "stage3-enough"
	case EvSmartDeploy:
		return "smart-deploy"
	case EvSmartResult:
		return "smart-result"
	case EvExpired:
		return "expired"
	case EvSetNormal:
		return "set-normal"
	case EvSetTrusted:
		return "set-trusted"
	case EvSetWriter:
		return "set-writer"
	default:
		return "unknown"
	}
}

// Event is one input to the state machine.
type Event struct {
	Kind    EventKind
	Payload interface{}
}
