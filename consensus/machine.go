// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
)

// MaskSource builds the current round's candidate characteristic mask
// and packet hash, bridging to the conveyer/validator pair.
type MaskSource interface {
	BuildStage1Mask(round types.Round) (mask types.CharacteristicMask, packetHash types.Hash, err error)
}

// Broadcaster sends stage and recovery messages to peers. Concrete
// implementations live in transport.
type Broadcaster interface {
	SendStage1(types.Stage1)
	SendStage2(types.Stage2)
	SendStage3(types.Stage3)
	SendStageRequest(msgType uint16, round types.Round, missing []types.PublicKey)
	SendNextRoundRequest(round types.Round)
}

// Finalizer assembles and stores the round's block once Stage-3
// reaches the writer threshold, bridging to roundcoord. writerSig is
// the elected writer's own block signature; confidantSigs is the
// vector of block signatures from every confidant (writer included)
// whose Stage3 agreed on the election.
type Finalizer interface {
	FinalizeBlock(round types.Round, mask types.CharacteristicMask, writer types.PublicKey, writerSig types.Signature, confidantSigs []types.Signature) error
	// LastWrittenSequence reports the chain tip, used to validate an
	// incoming BigBang's round against already-written history.
	LastWrittenSequence() types.Sequence
	// DropDeferredBlock discards any block assembled but not yet
	// written, per a big-bang reset.
	DropDeferredBlock()
}

// ExecutorCanceller cancels outstanding invocations on a big-bang
// reset, bridging to executor.
type ExecutorCanceller interface {
	CancelRunning(keep func(types.SmartContractRef) bool) []types.SmartContractRef
}

// Config bounds the machine's timeouts and committee thresholds.
type Config struct {
	// MinTrustedNodes is the minimum confidant count required before a
	// Stage-k collection is considered "enough", and the smallest a
	// round table's confidant list may be.
	MinTrustedNodes int
	// StageRequestTimeout is T_stage_request (default 4000 ms).
	StageRequestTimeout time.Duration
	// StateTimeout is each state's expiry timer (default 5000 ms).
	StateTimeout time.Duration
	// PostConsensusTimeout bounds the wait after Stage3-enough for the
	// next round table (default 60000 ms).
	PostConsensusTimeout time.Duration
}

// DefaultConfig returns the protocol's default timeouts.
func DefaultConfig() Config {
	return Config{
		MinTrustedNodes:      3,
		StageRequestTimeout:  4000 * time.Millisecond,
		StateTimeout:         5000 * time.Millisecond,
		PostConsensusTimeout: 60000 * time.Millisecond,
	}
}

// Validate checks cfg's invariants.
func (c Config) Validate() error {
	if c.MinTrustedNodes < 3 {
		return fmt.Errorf("consensus: MinTrustedNodes must be >= 3, got %d", c.MinTrustedNodes)
	}
	return nil
}

var (
	// ErrNoRoundTable is returned by operations that require an active
	// round table before one has been set via BeginRound.
	ErrNoRoundTable = errors.New("consensus: no active round table")
	// ErrNotConfidant is returned when a stage message arrives from a
	// sender index outside the current round table's confidant list.
	ErrNotConfidant = errors.New("consensus: sender is not a confidant of the current round table")
)

// Machine is the per-round consensus state machine for one node.
type Machine struct {
	mu sync.Mutex

	cfg    Config
	log    log.Logger
	self   types.PublicKey
	sk     types.PrivateKey
	nodeID types.NodeID
	// authority is the public key BigBang messages must be signed by
	// to be honored.
	authority types.PublicKey

	masks  MaskSource
	broad  Broadcaster
	final  Finalizer
	execCX ExecutorCanceller

	state State
	round types.Round
	table types.RoundTable

	// stateEnteredAt/roundBeganAt/stageRequestSent back CheckTimeouts:
	// the per-state expiry timer and the one-shot stage-request
	// recovery trigger.
	stateEnteredAt   time.Time
	roundBeganAt     time.Time
	stageRequestSent bool

	stage1 map[uint16]types.Stage1
	stage2 map[uint16]types.Stage2
	stage3 map[uint16]types.Stage3

	// ownMask/ownPacketHash cache this node's own Stage-1 mask so the
	// writer can finalize against it once Stage-3 resolves:
	// agreement on MaskHash among the true-trusted set implies the
	// underlying mask itself is identical, since the validator is
	// deterministic.
	ownMask       types.CharacteristicMask
	ownPacketHash types.Hash

	// writerIdx/trueTrusted cache the Stage-3 election result once
	// computed for the current round, so late Stage3Enough
	// re-evaluations don't re-derive it from scratch.
	writerIdx   uint16
	trueTrusted []bool
	electionSet bool
}

// New builds a Machine for a node identified by self/sk, starting in
// StateNormal before any round table has been seen.
func New(cfg Config, self types.PublicKey, sk types.PrivateKey, nodeID types.NodeID, authority types.PublicKey, masks MaskSource, broad Broadcaster, final Finalizer, execCX ExecutorCanceller, logger log.Logger) *Machine {
	return &Machine{
		cfg:       cfg,
		log:       logger,
		self:      self,
		sk:        sk,
		nodeID:    nodeID,
		authority: authority,
		masks:     masks,
		broad:     broad,
		final:     final,
		execCX:    execCX,
		state:     StateNormal,
		stage1:    make(map[uint16]types.Stage1),
		stage2:    make(map[uint16]types.Stage2),
		stage3:    make(map[uint16]types.Stage3),
	}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Round returns the number of the round currently in effect.
func (m *Machine) Round() types.Round {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round
}

// ElectedWriter returns the writer chosen by this round's Stage-3
// election, once the election has been computed.
func (m *Machine) ElectedWriter() (types.PublicKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.electionSet || int(m.writerIdx) >= len(m.table.Confidants) {
		return types.PublicKey{}, false
	}
	return m.table.Confidants[m.writerIdx], true
}

// roleFor computes a node's role for a round table: Writer if the
// node is the table's general, Trusted if it is a confidant, Normal
// otherwise.
func roleFor(table types.RoundTable, self types.PublicKey) State {
	if table.IsGeneral(self) {
		return StateWriter
	}
	if table.IsConfidant(self) {
		return StateTrusted
	}
	return StateNormal
}

// BeginRound adopts a new round table, resets per-round stage caches,
// and computes the node's role for it. Trusted and Writer nodes enter
// StateCollect first to assemble their Stage-1 mask.
func (m *Machine) BeginRound(table types.RoundTable) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beginRoundLocked(table)
}

func (m *Machine) beginRoundLocked(table types.RoundTable) State {
	m.round = table.Round
	m.table = table
	m.stage1 = make(map[uint16]types.Stage1)
	m.stage2 = make(map[uint16]types.Stage2)
	m.stage3 = make(map[uint16]types.Stage3)
	m.electionSet = false
	m.trueTrusted = nil
	m.roundBeganAt = time.Now()
	m.stageRequestSent = false

	role := roleFor(table, m.self)
	if role == StateWriter || role == StateTrusted {
		m.state = StateCollect
	} else {
		m.state = role
	}
	m.stateEnteredAt = time.Now()
	return m.state
}

// Handle dispatches ev to the current state's handler and applies the
// resulting transition.
func (m *Machine) Handle(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatchLocked(ev)
}

// dispatchLocked requires m.mu to already be held by the caller.
func (m *Machine) dispatchLocked(ev Event) error {
	if ev.Kind == EvRoundTable {
		table, ok := ev.Payload.(types.RoundTable)
		if !ok {
			return fmt.Errorf("consensus: EvRoundTable payload must be a types.RoundTable")
		}
		m.beginRoundLocked(table)
		return nil
	}
	if ev.Kind == EvBigBang {
		bb, ok := ev.Payload.(types.BigBang)
		if !ok {
			return fmt.Errorf("consensus: EvBigBang payload must be a types.BigBang")
		}
		return m.handleBigBangLocked(bb)
	}

	handler, ok := stateHandlers[m.state]
	if !ok {
		return fmt.Errorf("consensus: no handler for state %s", m.state)
	}
	next, err := handler(m, ev)
	if err != nil {
		return err
	}
	if next != m.state {
		m.stateEnteredAt = time.Now()
	}
	m.state = next
	return nil
}

type handlerFunc func(m *Machine, ev Event) (State, error)

var stateHandlers = map[State]handlerFunc{
	StateNormal:    handleNormal,
	StateCollect:   handleCollect,
	StateTrusted:   handleTrusted,
	StateWriter:    handleWriter,
	StateHandleBB:  handleHandleBB,
	StateNoTrusted: handleNoTrusted,
}

func (m *Machine) signStage1(s *types.Stage1) {
	s.Signature = cryptoutil.Sign(m.sk, s.SignedBytes())
}

func (m *Machine) signStage2(s *types.Stage2) {
	s.Signature = cryptoutil.Sign(m.sk, s.SignedBytes())
}

func (m *Machine) signStage3(s *types.Stage3) {
	s.Signature = cryptoutil.Sign(m.sk, s.SignedBytes())
}
