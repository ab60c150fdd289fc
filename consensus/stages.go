// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
)

// buildAndBroadcastStage1Locked is Stage-1: build the
// characteristic mask from the current manifest, sign, broadcast to
// confidants, and move on to awaiting peers' Stage1.
func (m *Machine) buildAndBroadcastStage1Locked(ev Event) (State, error) {
	payload, _ := ev.Payload.(TransactionsReady)

	mask, packetHash, err := m.masks.BuildStage1Mask(m.round)
	if err != nil {
		return StateCollect, fmt.Errorf("consensus: build stage1 mask: %w", err)
	}

	idx := m.table.IndexOf(m.self)
	if idx < 0 {
		return StateNormal, fmt.Errorf("consensus: self is not a confidant of the current round table")
	}

	m.ownMask = mask
	m.ownPacketHash = packetHash

	s := types.Stage1{
		Round:          m.round,
		SenderIndex:    uint16(idx),
		MaskHash:       maskHash(mask, packetHash),
		NextCandidates: payload.NextCandidates,
	}
	m.signStage1(&s)
	m.stage1[uint16(idx)] = s
	m.broad.SendStage1(s)

	return StateTrusted, nil
}

// maskHash combines a candidate mask with the packet hash it was
// computed against into the single value Stage1 carries and peers
// compare for agreement.
func maskHash(mask types.CharacteristicMask, packetHash types.Hash) types.Hash {
	return cryptoutil.HashConcat(packetHash[:], maskBytes(mask))
}

func maskBytes(mask types.CharacteristicMask) []byte {
	b := make([]byte, len(mask))
	for i, r := range mask {
		b[i] = byte(r)
	}
	return b
}

// ReceiveStage1 records a peer's Stage1 and, once MinTrustedNodes have
// been collected for the current round, fires EvStage1Enough.
// Stage-k messages are idempotent per (sender, round): a repeat
// delivery simply overwrites the prior entry.
func (m *Machine) ReceiveStage1(s types.Stage1) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, err := m.verifiableConfidantLocked(s.Round, s.SenderIndex)
	if err != nil {
		return err
	}
	if !cryptoutil.Verify(pk, s.SignedBytes(), s.Signature) {
		return fmt.Errorf("consensus: invalid Stage1 signature from index %d", s.SenderIndex)
	}

	m.stage1[s.SenderIndex] = s
	if len(m.stage1) >= m.cfg.MinTrustedNodes {
		return m.dispatchLocked(Event{Kind: EvStage1Enough})
	}
	return nil
}

// sendStage2Locked is Stage-2: bundle every Stage1 collected so far
// and broadcast.
func (m *Machine) sendStage2Locked() (State, error) {
	idx := m.table.IndexOf(m.self)
	if idx < 0 {
		return m.state, fmt.Errorf("consensus: self is not a confidant of the current round table")
	}

	collected := make([]types.Stage1, 0, len(m.stage1))
	for _, s1 := range m.stage1 {
		collected = append(collected, s1)
	}

	s2 := types.Stage2{Round: m.round, SenderIndex: uint16(idx), Collected: collected}
	m.signStage2(&s2)
	m.stage2[uint16(idx)] = s2
	m.broad.SendStage2(s2)
	return m.state, nil
}

// ReceiveStage2 records a peer's Stage2 and fires EvStage2Enough once
// MinTrustedNodes have been collected.
func (m *Machine) ReceiveStage2(s types.Stage2) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, err := m.verifiableConfidantLocked(s.Round, s.SenderIndex)
	if err != nil {
		return err
	}
	if !cryptoutil.Verify(pk, s.SignedBytes(), s.Signature) {
		return fmt.Errorf("consensus: invalid Stage2 signature from index %d", s.SenderIndex)
	}

	m.stage2[s.SenderIndex] = s
	if len(m.stage2) >= m.cfg.MinTrustedNodes {
		return m.dispatchLocked(Event{Kind: EvStage2Enough})
	}
	return nil
}

// sendStage3Locked is Stage-3: compute the true-trusted set and elect
// the writer from the Stage1 hashes collected so far, sign the
// majority mask hash as the block signature, and broadcast.
func (m *Machine) sendStage3Locked() (State, error) {
	trueTrusted, majority := computeTrueTrusted(m.table, m.stage1)
	writerIdx, ok := electWriter(trueTrusted)
	if !ok {
		return StateNoTrusted, fmt.Errorf("consensus: no agreeing confidant to elect as writer")
	}

	m.trueTrusted = trueTrusted
	m.writerIdx = writerIdx
	m.electionSet = true

	idx := m.table.IndexOf(m.self)
	if idx < 0 {
		return m.state, fmt.Errorf("consensus: self is not a confidant of the current round table")
	}

	s3 := types.Stage3{
		Round:       m.round,
		SenderIndex: uint16(idx),
		WriterIndex: writerIdx,
		RealTrusted: trueTrusted,
		BlockSig:    cryptoutil.Sign(m.sk, majority[:]),
	}
	m.signStage3(&s3)
	m.stage3[uint16(idx)] = s3
	m.broad.SendStage3(s3)
	return m.state, nil
}

// computeTrueTrusted resolves Stage-3's election input: the
// true-trusted set is
// the confidants whose Stage1 mask hash agrees with the majority.
// Ties are broken by the lexicographically lowest hash so every node
// computing over the same Stage1 set reaches the same majority
// regardless of map iteration order.
func computeTrueTrusted(table types.RoundTable, stage1 map[uint16]types.Stage1) ([]bool, types.Hash) {
	tally := map[types.Hash]int{}
	for _, s := range stage1 {
		tally[s.MaskHash]++
	}

	hashes := make([]types.Hash, 0, len(tally))
	for h := range tally {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})

	var majority types.Hash
	best := -1
	for _, h := range hashes {
		if tally[h] > best {
			best = tally[h]
			majority = h
		}
	}

	trueTrusted := make([]bool, len(table.Confidants))
	for idx, s := range stage1 {
		if int(idx) < len(trueTrusted) && s.MaskHash == majority {
			trueTrusted[idx] = true
		}
	}
	return trueTrusted, majority
}

// electWriter picks the lowest-indexed true-trusted confidant.
// Indices are already a total order over the round table's
// confidants, so no secondary tie-break is needed.
func electWriter(trueTrusted []bool) (uint16, bool) {
	for i, ok := range trueTrusted {
		if ok {
			return uint16(i), true
		}
	}
	return 0, false
}

// thresholdForStage3Locked is the "true trusted" threshold: 2/3 of the
// round table's confidants, never below MinTrustedNodes.
func (m *Machine) thresholdForStage3Locked() int {
	n := len(m.table.Confidants)
	need := (2*n + 2) / 3
	if need < m.cfg.MinTrustedNodes {
		need = m.cfg.MinTrustedNodes
	}
	return need
}

// ReceiveStage3 records a peer's Stage3 and, once this node has formed
// its own election (via sendStage3Locked) and at least
// thresholdForStage3Locked Stage3s agree with it on the writer, fires
// EvStage3Enough.
func (m *Machine) ReceiveStage3(s types.Stage3) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk, err := m.verifiableConfidantLocked(s.Round, s.SenderIndex)
	if err != nil {
		return err
	}
	if !cryptoutil.Verify(pk, s.SignedBytes(), s.Signature) {
		return fmt.Errorf("consensus: invalid Stage3 signature from index %d", s.SenderIndex)
	}

	m.stage3[s.SenderIndex] = s
	if !m.electionSet {
		return nil
	}

	matching := 0
	for _, s3 := range m.stage3 {
		if s3.WriterIndex == m.writerIdx {
			matching++
		}
	}
	if matching >= m.thresholdForStage3Locked() {
		return m.dispatchLocked(Event{Kind: EvStage3Enough})
	}
	return nil
}

// afterStage3Locked is reached once enough matching Stage3s have been
// seen. If this node is the elected writer, it finalizes the block
//; otherwise it simply waits for the writer's
// NewCharacteristic broadcast.
func (m *Machine) afterStage3Locked() (State, error) {
	if !m.electionSet {
		return m.state, fmt.Errorf("consensus: stage3-enough fired before this node's own election was computed")
	}

	idx := m.table.IndexOf(m.self)
	isWriter := idx >= 0 && uint16(idx) == m.writerIdx
	if !isWriter {
		return m.state, nil
	}

	confidantSigs := make([]types.Signature, 0, len(m.stage3))
	for _, s3 := range m.stage3 {
		if s3.WriterIndex == m.writerIdx {
			confidantSigs = append(confidantSigs, s3.BlockSig)
		}
	}

	// This node is the elected writer, so its own Stage3 (stored by
	// sendStage3Locked) carries the block signature the block's
	// distinct writer-signature field requires.
	writerSig := m.stage3[m.writerIdx].BlockSig

	writerKey := m.table.Confidants[m.writerIdx]
	if err := m.final.FinalizeBlock(m.round, m.ownMask, writerKey, writerSig, confidantSigs); err != nil {
		return m.state, fmt.Errorf("consensus: finalize block: %w", err)
	}
	return StateNormal, nil
}

// verifiableConfidantLocked validates that a stage message's round
// matches the current round and its sender index names a confidant,
// returning that confidant's public key.
func (m *Machine) verifiableConfidantLocked(round types.Round, senderIndex uint16) (types.PublicKey, error) {
	if round != m.round {
		return types.PublicKey{}, fmt.Errorf("consensus: stage message for round %d, current round is %d", round, m.round)
	}
	if int(senderIndex) >= len(m.table.Confidants) {
		return types.PublicKey{}, ErrNotConfidant
	}
	return m.table.Confidants[senderIndex], nil
}
