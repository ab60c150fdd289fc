// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/relaynet/cnode/consensus"
	"github.com/relaynet/cnode/executor"
	"github.com/relaynet/cnode/set"
	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/wirecodec"
)

// Run drives the consensus loop until ctx is cancelled or Stop is
// called. It is the single goroutine on which every consensus state
// transition happens.
func (n *Node) Run(ctx context.Context) error {
	if n.machine == nil {
		return fmt.Errorf("runtime: Run called before SetMachine")
	}

	ticker := time.NewTicker(n.cfg.TickerInterval)
	defer ticker.Stop()

	for {
		if n.stopping.Get() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case msg := <-n.mailbox:
			n.handle(msg)
		case now := <-ticker.C:
			n.onTick(now)
		}
	}
}

// handle processes one mailbox message. Stage and round-table traffic
// is postponed while the node is catching up, then replayed inside a
// two-round window once sync completes.
func (n *Node) handle(msg message) {
	if n.handleDur != nil {
		start := time.Now()
		defer func() {
			n.handleDur.Observe(float64(time.Since(start)))
		}()
	}

	if n.coord.Syncing() {
		switch msg.(type) {
		case stage1Msg, stage2Msg, stage3Msg, roundTableMsg:
			n.postpone(msg)
			return
		}
	}

	switch m := msg.(type) {
	case stage1Msg:
		if err := n.machine.ReceiveStage1(m.s); err != nil {
			n.log.Debug("runtime: stage1 rejected", "from", m.from, "err", err)
			return
		}
		n.coord.ObserveStage1(m.s)
	case stage2Msg:
		if err := n.machine.ReceiveStage2(m.s); err != nil {
			n.log.Debug("runtime: stage2 rejected", "from", m.from, "err", err)
		}
	case stage3Msg:
		if err := n.machine.ReceiveStage3(m.s); err != nil {
			n.log.Debug("runtime: stage3 rejected", "from", m.from, "err", err)
		}
	case bigBangMsg:
		n.handleBigBang(m)
	case roundTableMsg:
		n.applyRoundTable(m.from, m.table)
	case roundTableRequestMsg:
		n.mu.Lock()
		table := n.table
		n.mu.Unlock()
		if table.Round > 0 {
			n.net.SendRoundTableReply(m.from, table)
		}
	case newCharacteristicMsg:
		n.handleNewCharacteristic(m)
	case txPacketMsg:
		n.handleTxPacket(m)
	case txPacketRequestMsg:
		if pkt, ok := n.conv.Get(m.hash); ok {
			n.net.SendTransactionsPacket(m.from, pkt)
		}
	}

	n.maybeRotateCommittee()
}

// postpone buffers msg for replay after sync, bounded by the mailbox
// capacity; overflow is shed the same way a full mailbox is.
func (n *Node) postpone(msg message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.postponed) >= n.cfg.MailboxCapacity {
		n.log.Warn("runtime: postponed buffer full, dropping message", "round", msg.round())
		return
	}
	n.postponed = append(n.postponed, msg)
}

// replayPostponed re-handles messages buffered during sync, keeping
// only those within a two-round window of the now-current round.
func (n *Node) replayPostponed() {
	n.mu.Lock()
	msgs := n.postponed
	n.postponed = nil
	n.mu.Unlock()

	cur := n.machine.Round()
	for _, msg := range msgs {
		if r := msg.round(); r != 0 && r+2 <= cur {
			continue
		}
		n.handle(msg)
	}
}

// applyRoundTable adopts a round table: conveyer round/manifest first,
// then the transport's committee view, then the state machine's role
// assignment. Tables at or below the current round are stale.
func (n *Node) applyRoundTable(from types.PublicKey, table types.RoundTable) {
	if !table.Valid(n.cfg.MaxTrustedNodes) {
		n.log.Warn("runtime: invalid round table", "from", from, "round", table.Round, "confidants", len(table.Confidants))
		return
	}
	if table.Round <= n.machine.Round() {
		return
	}

	if n.coord.NeedsSync(table.Round) {
		n.postpone(roundTableMsg{from: from, table: table})
		n.startSync(table.Round)
		return
	}

	n.conv.BeginRound(table.Round)
	if err := n.conv.SetManifest(table.Hashes); err != nil {
		n.log.Error("runtime: set manifest", "round", table.Round, "err", err)
		return
	}
	n.net.SetRoundTable(table)
	n.coord.NoteRoundTable()
	n.rememberTable(table)

	if err := n.machine.Handle(consensus.Event{Kind: consensus.EvRoundTable, Payload: table}); err != nil {
		n.log.Error("runtime: adopt round table", "round", table.Round, "err", err)
		return
	}
	n.log.Info("runtime: round started", "round", table.Round, "state", n.machine.State())

	n.pullManifestOrFireStage1()
}

// pullManifestOrFireStage1 either requests still-missing manifest
// packets from the round's general or, once the manifest is complete,
// fires the EvTransactions that builds this node's Stage-1.
func (n *Node) pullManifestOrFireStage1() {
	n.mu.Lock()
	table := n.table
	fired := n.stage1Fired
	n.mu.Unlock()

	if missing := n.conv.MissingFromManifest(); len(missing) > 0 {
		for _, hash := range missing {
			n.net.SendTransactionsPacketRequest(table.General, hash)
		}
		return
	}
	if fired || n.machine.State() != consensus.StateCollect {
		return
	}

	ready := consensus.TransactionsReady{NextCandidates: n.nextCandidates()}
	if err := n.machine.Handle(consensus.Event{Kind: consensus.EvTransactions, Payload: ready}); err != nil {
		n.log.Error("runtime: stage1 build failed", "round", table.Round, "err", err)
		return
	}
	n.mu.Lock()
	n.stage1Fired = true
	n.mu.Unlock()
}

func (n *Node) handleBigBang(m bigBangMsg) {
	if err := n.machine.Handle(consensus.Event{Kind: consensus.EvBigBang, Payload: m.bb}); err != nil {
		n.log.Warn("runtime: big-bang rejected", "from", m.from, "err", err)
		return
	}
	n.log.Info("runtime: big-bang accepted", "round", m.bb.Round)

	// The machine has already adopted bb.Table and cancelled the
	// executor's Running items; mirror the reset in the components the
	// machine does not own.
	table := m.bb.Table
	n.conv.BeginRound(table.Round)
	if err := n.conv.SetManifest(table.Hashes); err != nil {
		n.log.Error("runtime: big-bang manifest", "round", table.Round, "err", err)
	}
	n.net.SetRoundTable(table)
	n.coord.NoteRoundTable()
	n.rememberTable(table)

	n.mu.Lock()
	n.published = set.Of[types.SmartContractRef]()
	n.mu.Unlock()

	n.pullManifestOrFireStage1()
}

// handleNewCharacteristic reacts to a writer's finalize announcement:
// everyone but the writer pulls the block itself on demand.
func (n *Node) handleNewCharacteristic(m newCharacteristicMsg) {
	if n.coord.Syncing() {
		return
	}
	if w, ok := n.machine.ElectedWriter(); ok && w == n.selfPK {
		return
	}
	n.net.SendBlockRequest(m.from, n.coord.LastWrittenSequence()+1, 1)
}

// handleTxPacket verifies a gossiped packet's content hash and stores
// it, firing Stage-1 if it was the last missing manifest entry.
func (n *Node) handleTxPacket(m txPacketMsg) {
	hash, err := wirecodec.PacketHash(m.pkt.Transactions)
	if err != nil || hash != m.pkt.Hash {
		n.log.Warn("runtime: packet hash mismatch, dropping", "from", m.from)
		return
	}
	if err := n.conv.Add(hash, m.pkt); err != nil {
		n.log.Warn("runtime: conveyer rejected packet", "from", m.from, "err", err)
		return
	}
	n.pullManifestOrFireStage1()
}

// maybeRotateCommittee runs after every handled message: when this
// node's finalize just advanced the chain tip and it was the elected
// writer, it derives the next round table, seeds its manifest from the
// remaining mempool, and disseminates it.
func (n *Node) maybeRotateCommittee() {
	last := n.coord.LastWrittenSequence()
	if last <= n.lastFinalized {
		return
	}
	n.lastFinalized = last

	w, ok := n.machine.ElectedWriter()
	if !ok || w != n.selfPK {
		return
	}

	table, err := n.coord.DeriveNextRoundTable(n.machine.Round())
	if err != nil {
		n.log.Warn("runtime: next round table", "err", err)
		return
	}
	table.Hashes = n.conv.PendingHashes()
	n.net.BroadcastRoundTable(table)
	n.applyRoundTable(n.selfPK, table)
}

// startSync enters catch-up and issues the first block-request batch.
func (n *Node) startSync(target types.Round) {
	start, count := n.coord.BeginSync(target)
	n.log.Info("runtime: entering sync", "target", target, "start", start)
	if peer, ok := n.randomNeighbour(); ok {
		n.net.SendBlockRequest(peer, start, count)
	}
}

func (n *Node) randomNeighbour() (types.PublicKey, bool) {
	peers := n.net.Neighbours()
	if len(peers) == 0 {
		return types.PublicKey{}, false
	}
	return peers[rand.Intn(len(peers))], true
}

// onTick runs the periodic duties, amortized across prime-modulus
// schedules like the transport's ticker.
func (n *Node) onTick(now time.Time) {
	n.tick++

	if err := n.machine.CheckTimeouts(now); err != nil {
		n.log.Debug("runtime: timeout check", "err", err)
	}

	if n.tick%11 == 0 {
		n.pullManifestOrFireStage1()
	}
	if n.tick%19 == 0 {
		n.advanceExecutor()
	}
	if n.tick%23 == 0 {
		n.driveSync()
		n.scanFinalizedBlocks()
	}
	if n.tick%101 == 0 {
		n.coord.CheckPostConsensusTimeout(now)
	}
}

// driveSync requests the next catch-up batch while syncing, retrying
// with a (randomly) different neighbour each time; when the tip
// reaches the target it replays traffic postponed during sync.
func (n *Node) driveSync() {
	wasSyncing := n.syncing
	start, count, ok := n.coord.NextSyncBatch()
	n.syncing = ok
	if ok {
		if peer, found := n.randomNeighbour(); found {
			n.net.SendBlockRequest(peer, start, count)
		}
		return
	}
	if wasSyncing {
		n.log.Info("runtime: sync complete", "lastWritten", n.coord.LastWrittenSequence())
		n.replayPostponed()
	}
}

// advanceExecutor is the test_exe_queue driver: advance each
// queue, then bundle and gossip any freshly Finished invocation's
// new-state packet.
func (n *Node) advanceExecutor() {
	round := n.machine.Round()
	for _, ref := range n.exec.AdvanceQueues(round) {
		n.log.Warn("runtime: invocation timed out, empty state synthesized", "ref", ref)
	}

	for _, fin := range n.exec.Finished() {
		n.mu.Lock()
		done := n.published.Contains(fin.Ref)
		n.mu.Unlock()
		if done {
			continue
		}
		pkt, err := n.buildNewStatePacket(fin)
		if err != nil {
			n.log.Error("runtime: build new-state packet", "ref", fin.Ref, "err", err)
			continue
		}
		if err := n.conv.Add(pkt.Hash, pkt); err != nil {
			n.log.Error("runtime: store new-state packet", "ref", fin.Ref, "err", err)
			continue
		}
		n.net.BroadcastTransactionsPacket(pkt)
		n.mu.Lock()
		n.published.Add(fin.Ref)
		n.mu.Unlock()
	}
}

// scanFinalizedBlocks walks blocks appended since the last scan,
// enqueueing executable transactions into the executor and closing
// invocations whose new-state landed on chain.
func (n *Node) scanFinalizedBlocks() {
	last := n.coord.LastWrittenSequence()
	for seq := n.scanned + 1; seq <= last; seq++ {
		block, err := n.store.GetBySequence(seq)
		if err != nil {
			n.log.Error("runtime: scan: block missing", "sequence", seq, "err", err)
			return
		}
		for i, tx := range block.Transactions {
			switch {
			case tx.IsNewState():
				ref, ok := tx.RefStart()
				if !ok {
					continue
				}
				if err := n.exec.MarkClosed(ref); err != nil && !errors.Is(err, executor.ErrUnknownContract) {
					n.log.Warn("runtime: close invocation", "ref", ref, "err", err)
				}
				n.mu.Lock()
				n.published.Remove(ref)
				n.mu.Unlock()
			case tx.IsExecutable():
				ref := types.SmartContractRef{Sequence: seq, Index: uint32(i)}
				if err := n.exec.Enqueue(ref, tx.Target, tx, n.machine.Round()); err != nil {
					n.log.Warn("runtime: enqueue invocation", "ref", ref, "err", err)
				}
			}
		}
		n.scanned = seq
	}
}
