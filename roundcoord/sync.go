// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package roundcoord

import (
	"fmt"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
	safemath "github.com/relaynet/cnode/utils/math"
	"github.com/relaynet/cnode/wirecodec"
)

// syncState tracks catch-up progress: a node
// whose chain tip trails the current round requests blocks in bounded
// batches and applies them strictly in order.
type syncState struct {
	active bool
	target types.Round
}

// NeedsSync reports whether the node's chain tip trails currentRound
// enough to enter catch-up.
func (c *Coordinator) NeedsSync(currentRound types.Round) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.Round(c.lastWritten)+1 < currentRound
}

// BeginSync marks the coordinator as catching up to targetRound and
// returns the first batch's starting sequence and size, bounded by
// MaxPacketRequestSize.
func (c *Coordinator) BeginSync(targetRound types.Round) (start types.Sequence, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncState = syncState{active: true, target: targetRound}
	start = c.lastWritten + 1
	count = c.cfg.MaxPacketRequestSize
	return start, count
}

// Syncing reports whether the coordinator is mid catch-up.
func (c *Coordinator) Syncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncState.active
}

// NextSyncBatch returns the next batch to request, or ok=false if
// sync has completed (lastWritten has reached the target).
func (c *Coordinator) NextSyncBatch() (start types.Sequence, count int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.syncState.active {
		return 0, 0, false
	}
	if types.Round(c.lastWritten)+1 >= c.syncState.target {
		c.syncState = syncState{}
		return 0, 0, false
	}
	return c.lastWritten + 1, c.cfg.MaxPacketRequestSize, true
}

// ApplyRequestedBlock applies one block received from a peer's
// RequestedBlock reply during catch-up. Out-of-order replies (a
// sequence other than lastWritten+1) are rejected outright, keeping
// application strictly sequential; the caller should request the same
// batch again, possibly from a different neighbour.
func (c *Coordinator) ApplyRequestedBlock(block *types.Block) error {
	c.mu.Lock()
	want := c.lastWritten + 1
	prevHash := c.lastBlockHash
	c.mu.Unlock()

	if block.Sequence != want {
		return fmt.Errorf("roundcoord: sync: out-of-order block, got sequence %d, want %d", block.Sequence, want)
	}
	if block.PreviousHash != prevHash {
		return fmt.Errorf("roundcoord: sync: block %d previous-hash mismatch", block.Sequence)
	}

	enc, err := wirecodec.EncodeBlock(block)
	if err != nil {
		return fmt.Errorf("roundcoord: sync: encode block %d: %w", block.Sequence, err)
	}
	hash := cryptoutil.Hash256(enc)
	block.SetHash(hash)

	if err := c.store.Append(block, hash); err != nil {
		return fmt.Errorf("roundcoord: sync: append block %d: %w", block.Sequence, err)
	}

	accepted := make([]syncAcceptedView, 0, len(block.Transactions))
	for i, tx := range block.Transactions {
		accepted = append(accepted, syncAcceptedView{index: i, tx: tx})
	}
	if err := c.applySyncWallet(block.Sequence, hash, accepted); err != nil {
		c.log.Error("roundcoord: sync: wallet apply failed", "sequence", block.Sequence, "err", err)
	}

	c.mu.Lock()
	c.lastWritten = block.Sequence
	c.lastBlockHash = hash
	c.mu.Unlock()
	return nil
}

type syncAcceptedView struct {
	index int
	tx    *types.Transaction
}

func (c *Coordinator) applySyncWallet(sequence types.Sequence, blockHash types.Hash, accepted []syncAcceptedView) error {
	if c.wallets == nil {
		return nil
	}
	for _, entry := range accepted {
		tx := entry.tx
		txID := types.TransactionID{BlockHash: blockHash, Index: uint32(entry.index)}
		if tx.Source.Equal(tx.Target) {
			continue
		}
		if err := c.wallets.RecordTransaction(tx.Source, sequence, types.Zero.Sub(tx.Amount), txID, nil); err != nil {
			return fmt.Errorf("debit %s: %w", tx.Source, err)
		}
		if err := c.wallets.RecordTransaction(tx.Target, sequence, tx.Amount, txID, nil); err != nil {
			return fmt.Errorf("credit %s: %w", tx.Target, err)
		}
	}
	return nil
}

// HandleBlockRequest answers a peer's BlockRequest: up to count
// sequential blocks starting at start, bounded to
// MaxPacketRequestSize regardless of what the requester asked for.
func (c *Coordinator) HandleBlockRequest(start types.Sequence, count int) ([]*types.Block, error) {
	if count > c.cfg.MaxPacketRequestSize {
		count = c.cfg.MaxPacketRequestSize
	}
	if count < 0 {
		return nil, fmt.Errorf("roundcoord: negative block-request count %d", count)
	}
	// start comes off the wire; a hostile value near the top of the
	// sequence range must not wrap the loop bound.
	end, err := safemath.Add64(uint64(start), uint64(count))
	if err != nil {
		return nil, fmt.Errorf("roundcoord: block-request range overflows: %w", err)
	}
	blocks := make([]*types.Block, 0, count)
	for seq := start; seq < types.Sequence(end); seq++ {
		block, err := c.store.GetBySequence(seq)
		if err != nil {
			break
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
