// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package runtime owns the node's consensus thread: a single
// goroutine that drains the transport's mailbox, drives the state
// machine's timers, advances the smart-contract executor, and feeds
// the round coordinator. All consensus state transitions happen on
// this goroutine; transport and executor talk to it only through
// enqueued messages, breaking the Node<->Transport<->Solver cycle the
// design notes call out.
package runtime

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaynet/cnode/api"
	"github.com/relaynet/cnode/blockstore"
	"github.com/relaynet/cnode/consensus"
	"github.com/relaynet/cnode/conveyer"
	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/executor"
	"github.com/relaynet/cnode/roundcoord"
	"github.com/relaynet/cnode/set"
	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/utils"
	"github.com/relaynet/cnode/utils/version"
	"github.com/relaynet/cnode/validator"
	"github.com/relaynet/cnode/wirecodec"
)

// Net is the slice of the transport surface the consensus thread
// drives directly. *transport.Transport implements it; tests use a
// fake.
type Net interface {
	SetRoundTable(types.RoundTable)
	Neighbours() []types.PublicKey
	SendStage1(types.Stage1)
	SendStage2(types.Stage2)
	SendStage3(types.Stage3)
	SendStageRequest(msgType uint16, round types.Round, missing []types.PublicKey)
	SendNextRoundRequest(round types.Round)
	SendTransactionsPacket(target types.PublicKey, pkt *types.TransactionsPacket)
	BroadcastTransactionsPacket(pkt *types.TransactionsPacket)
	SendTransactionsPacketRequest(target types.PublicKey, hash types.Hash)
	SendRoundTableReply(target types.PublicKey, table types.RoundTable)
	BroadcastRoundTable(table types.RoundTable)
	SendBlockRequest(target types.PublicKey, start types.Sequence, count int)
}

// Config bounds the consensus thread's pacing and committee sizing.
type Config struct {
	// TickerInterval is the periodic duty cadence (default 50 ms).
	TickerInterval time.Duration
	// MailboxCapacity bounds the single-writer mailbox; messages
	// beyond it are dropped and recovered by stage-request/resend.
	MailboxCapacity int
	// MaxTrustedNodes bounds accepted round tables and derived ones.
	MaxTrustedNodes int
	// TableHistory is how many past round tables are retained to
	// resolve new-state origins against.
	TableHistory int
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		TickerInterval:  50 * time.Millisecond,
		MailboxCapacity: 1024,
		MaxTrustedNodes: 5,
		TableHistory:    16,
	}
}

// Validate checks cfg's invariants.
func (c Config) Validate() error {
	if c.TickerInterval <= 0 {
		return fmt.Errorf("runtime: TickerInterval must be > 0")
	}
	if c.MailboxCapacity < 1 {
		return fmt.Errorf("runtime: MailboxCapacity must be >= 1")
	}
	if c.MaxTrustedNodes < 3 {
		return fmt.Errorf("runtime: MaxTrustedNodes must be >= 3")
	}
	if c.TableHistory < 2 {
		return fmt.Errorf("runtime: TableHistory must be >= 2")
	}
	return nil
}

// Node is the consensus thread's owner: it implements
// transport.MessageHandler on the enqueue side and consensus.MaskSource
// for the state machine's Stage-1 construction.
type Node struct {
	cfg Config
	log log.Logger

	selfPK types.PublicKey
	selfSK types.PrivateKey

	machine *consensus.Machine
	conv    *conveyer.Conveyer
	valid   *validator.Validator
	exec    *executor.Executor
	coord   *roundcoord.Coordinator
	store   *blockstore.Store
	net     Net

	mailbox  chan message
	stopping utils.AtomicBool

	mu          sync.Mutex
	table       types.RoundTable
	tables      map[types.Round]types.RoundTable
	stage1Fired bool
	// published tracks finished invocations whose new-state packet has
	// already been gossiped, so the tick loop doesn't re-broadcast.
	published set.Set[types.SmartContractRef]
	// postponed buffers consensus messages that arrive mid-sync, for
	// replay once the chain tip catches up.
	postponed []message

	// The fields below are touched only on the consensus goroutine, so
	// they need no lock: the ticker counter, the sync-in-progress
	// latch, the executor block-scan cursor, and the highest sequence
	// maybeRotateCommittee has reacted to.
	tick          uint64
	syncing       bool
	scanned       types.Sequence
	lastFinalized types.Sequence

	handleDur metric.Averager
}

// New builds a Node. The consensus machine is constructed by the
// caller (cmd/cnode) with this Node as its MaskSource, so construction
// is two-phase: New, then SetMachine.
func New(cfg Config, selfPK types.PublicKey, selfSK types.PrivateKey, conv *conveyer.Conveyer, valid *validator.Validator, exec *executor.Executor, coord *roundcoord.Coordinator, store *blockstore.Store, net Net, logger log.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Node{
		cfg:       cfg,
		log:       logger,
		selfPK:    selfPK,
		selfSK:    selfSK,
		conv:      conv,
		valid:     valid,
		exec:      exec,
		coord:     coord,
		store:     store,
		net:       net,
		mailbox:   make(chan message, cfg.MailboxCapacity),
		tables:    make(map[types.Round]types.RoundTable),
		published: set.Of[types.SmartContractRef](),
		// The executor block-scan starts at the chain tip: blocks
		// finalized before this process started have had their
		// invocations settled (or will be re-gossiped by peers whose
		// queues are still open), so replaying history would re-run
		// contracts whose new-state already landed.
		scanned:       coord.LastWrittenSequence(),
		lastFinalized: coord.LastWrittenSequence(),
	}, nil
}

// SetMachine attaches the consensus state machine. Must be called
// before Run.
func (n *Node) SetMachine(m *consensus.Machine) {
	n.machine = m
}

// SetMetrics registers the consensus thread's handling-duration
// averager with reg.
func (n *Node) SetMetrics(reg prometheus.Registerer) error {
	avg, err := metric.NewAverager(
		"consensus_handle_duration",
		"time (in ns) one mailbox message took to handle",
		reg,
	)
	if err != nil {
		return err
	}
	n.handleDur = avg
	return nil
}

// Stop flips the cooperative stop flag polled by the consensus loop.
// Run's context cancellation does the same; the flag exists for the
// signal handler path.
func (n *Node) Stop() {
	n.stopping.Set(true)
}

// BuildStage1Mask implements consensus.MaskSource: it collects the
// current manifest's transactions in order, runs the three-phase
// validator over them, and returns the resulting characteristic mask
// together with the hash identifying the proposed transaction set.
func (n *Node) BuildStage1Mask(round types.Round) (types.CharacteristicMask, types.Hash, error) {
	if missing := n.conv.MissingFromManifest(); len(missing) > 0 {
		return nil, types.Hash{}, fmt.Errorf("runtime: %d manifest packets still missing", len(missing))
	}

	manifest := n.conv.CurrentManifest()
	var txs []*types.Transaction
	var infos []validator.PacketInfo
	for _, hash := range manifest {
		pkt, ok := n.conv.Get(hash)
		if !ok {
			return nil, types.Hash{}, fmt.Errorf("runtime: manifest packet %s vanished from conveyer", hash)
		}
		info := validator.PacketInfo{Hash: hash, Signatures: pkt.Signatures}
		for range pkt.Transactions {
			infos = append(infos, info)
		}
		txs = append(txs, pkt.Transactions...)
	}

	// The proposal's identity for Stage-1 agreement: a digest over the
	// manifest's packet hashes in order.
	parts := make([][]byte, len(manifest))
	for i, h := range manifest {
		parts[i] = h[:]
	}
	proposalHash := cryptoutil.HashConcat(parts...)

	mask := n.valid.BuildMask(txs, func(i int) validator.PacketInfo { return infos[i] }, n.originFor)
	return mask, proposalHash, nil
}

// originFor resolves a new-state transaction's invocation reference to
// the committee whose signatures vouch for it: the confidants of the
// round that finalized the block holding the invocation.
func (n *Node) originFor(ref types.SmartContractRef) (validator.NewStateOrigin, bool) {
	block, err := n.store.GetBySequence(ref.Sequence)
	if err != nil || int(ref.Index) >= len(block.Transactions) {
		return validator.NewStateOrigin{}, false
	}

	n.mu.Lock()
	table, ok := n.tables[block.Round]
	n.mu.Unlock()
	if !ok {
		return validator.NewStateOrigin{}, false
	}
	return validator.NewStateOrigin{Confidants: table.Confidants}, true
}

// Status implements api.StatusSource.
func (n *Node) Status() api.NodeStatus {
	return api.NodeStatus{
		Version:        version.Current.String(),
		State:          n.machine.State().String(),
		Round:          uint64(n.machine.Round()),
		LastWritten:    uint64(n.coord.LastWrittenSequence()),
		Syncing:        n.coord.Syncing(),
		Neighbours:     len(n.net.Neighbours()),
		MempoolPackets: n.conv.Len(),
		ExecutorQueue:  n.exec.QueueDepth(),
	}
}

// rememberTable records a round table for new-state origin resolution,
// evicting the oldest past cfg.TableHistory.
func (n *Node) rememberTable(table types.RoundTable) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.table = table
	n.tables[table.Round] = table
	n.stage1Fired = false
	if len(n.tables) > n.cfg.TableHistory {
		oldest := table.Round
		for r := range n.tables {
			if r < oldest {
				oldest = r
			}
		}
		delete(n.tables, oldest)
	}
}

// nextCandidates nominates the committee this node would trust next
// round: the current confidants plus every live neighbour, ordered by
// public key for determinism, capped at MaxTrustedNodes.
func (n *Node) nextCandidates() []types.PublicKey {
	n.mu.Lock()
	table := n.table
	n.mu.Unlock()

	pool := set.Of(table.Confidants...)
	pool.Add(n.selfPK)
	pool.Add(n.net.Neighbours()...)

	candidates := pool.List()
	sort.Slice(candidates, func(i, j int) bool {
		return bytes.Compare(candidates[i][:], candidates[j][:]) < 0
	})
	if len(candidates) > n.cfg.MaxTrustedNodes {
		candidates = candidates[:n.cfg.MaxTrustedNodes]
	}
	return candidates
}

// ---- consensus.Broadcaster ----
//
// The machine broadcasts through the Node rather than the transport
// directly so the round coordinator observes this node's own Stage-1
// nominations alongside its peers'.

// SendStage1 implements consensus.Broadcaster.
func (n *Node) SendStage1(s types.Stage1) {
	n.coord.ObserveStage1(s)
	n.net.SendStage1(s)
}

// SendStage2 implements consensus.Broadcaster.
func (n *Node) SendStage2(s types.Stage2) {
	n.net.SendStage2(s)
}

// SendStage3 implements consensus.Broadcaster.
func (n *Node) SendStage3(s types.Stage3) {
	n.net.SendStage3(s)
}

// SendStageRequest implements consensus.Broadcaster.
func (n *Node) SendStageRequest(msgType uint16, round types.Round, missing []types.PublicKey) {
	n.net.SendStageRequest(msgType, round, missing)
}

// SendNextRoundRequest implements consensus.Broadcaster.
func (n *Node) SendNextRoundRequest(round types.Round) {
	n.net.SendNextRoundRequest(round)
}

// signPacket appends this node's signature over the packet hash,
// forming its contribution to the new-state packet's committee
// signatures.
func (n *Node) signPacket(pkt *types.TransactionsPacket) {
	pkt.Signatures = append(pkt.Signatures, cryptoutil.Sign(n.selfSK, pkt.Hash[:]))
}

// buildNewStatePacket bundles a finished invocation's new-state
// transaction and captured emissions into a single signed packet
//.
func (n *Node) buildNewStatePacket(fin executor.FinishedInvocation) (*types.TransactionsPacket, error) {
	txs := append([]*types.Transaction{fin.NewState}, fin.Emitted...)
	hash, err := wirecodec.PacketHash(txs)
	if err != nil {
		return nil, err
	}
	pkt := &types.TransactionsPacket{Hash: hash, Transactions: txs}
	n.signPacket(pkt)
	return pkt, nil
}
