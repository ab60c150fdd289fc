// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package roundcoord implements the round coordinator: block assembly
// and finalization once Stage-3 has resolved,
// next-round-table derivation from confidant nominations,
// NewCharacteristic dissemination, and the sync/catch-up and
// post-consensus-timeout loops that keep a node's chain tip moving.
// It is the production backing for consensus.Finalizer.
package roundcoord

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/relaynet/cnode/blockstore"
	"github.com/relaynet/cnode/conveyer"
	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/wallet"
	"github.com/relaynet/cnode/wirecodec"
)

// ErrNoDeferredBlock names the absence of a deferred block.
// DropDeferredBlock does not return it: dropping when nothing is
// deferred is a no-op.
var ErrNoDeferredBlock = errors.New("roundcoord: no deferred block")

// Announcer disseminates round-coordinator output to the network,
// bridging to transport.
type Announcer interface {
	// BroadcastNewCharacteristic advertises a freshly finalized
	// block's round, characteristic mask and hash; peers pull the
	// block itself on demand via BlockRequest/RequestedBlock.
	BroadcastNewCharacteristic(round types.Round, mask types.CharacteristicMask, blockHash types.Hash)
	// BroadcastRoundTableRequest asks neighbours to reply with the
	// round table they last saw, used when PostConsensusTimeout
	// elapses without a new one arriving.
	BroadcastRoundTableRequest(round types.Round)
}

// ConnectivityProvider reports which candidate public keys are
// presently reachable, used to filter next-round-table nominees to
// connected peers.
type ConnectivityProvider interface {
	Connected(pk types.PublicKey) bool
}

// Config bounds the coordinator's committee-rotation and sync
// behavior.
type Config struct {
	// MinTrustedNodes/MaxTrustedNodes bound the derived next round
	// table's confidant count.
	MinTrustedNodes int
	MaxTrustedNodes int
	// MaxPacketRequestSize bounds how many sequences a single sync
	// BlockRequest may span.
	MaxPacketRequestSize int
	// PostConsensusTimeout bounds the wait after a finalize for the
	// next round table before requesting one (default 60000 ms).
	PostConsensusTimeout time.Duration
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		MinTrustedNodes:       3,
		MaxTrustedNodes:       5,
		MaxPacketRequestSize:  1000,
		PostConsensusTimeout:  60000 * time.Millisecond,
	}
}

// Validate checks cfg's invariants.
func (c Config) Validate() error {
	if c.MinTrustedNodes < 3 {
		return fmt.Errorf("roundcoord: MinTrustedNodes must be >= 3, got %d", c.MinTrustedNodes)
	}
	if c.MaxTrustedNodes < c.MinTrustedNodes {
		return fmt.Errorf("roundcoord: MaxTrustedNodes must be >= MinTrustedNodes")
	}
	if c.MaxPacketRequestSize < 1 {
		return fmt.Errorf("roundcoord: MaxPacketRequestSize must be >= 1")
	}
	return nil
}

// deferredBlock is a block assembled but not yet durably appended,
// kept only long enough to be dropped by a big-bang reset.
type deferredBlock struct {
	block *types.Block
	hash  types.Hash
}

// Coordinator owns block finalization, committee rotation and chain
// catch-up for one node. It implements consensus.Finalizer.
type Coordinator struct {
	mu  sync.Mutex
	cfg Config
	log log.Logger

	conv    *conveyer.Conveyer
	store   *blockstore.Store
	wallets *wallet.Index

	connectivity ConnectivityProvider
	announce     Announcer

	lastWritten   types.Sequence
	lastBlockHash types.Hash
	deferred      *deferredBlock

	// nominations collects each confidant's NextCandidates list per
	// round, fed by ObserveStage1 as the
	// consensus machine's Stage-1 traffic is observed in transit.
	nominations map[types.Round]map[uint16][]types.PublicKey

	postConsensus postConsensusState
	syncState     syncState
}

// New builds a Coordinator seeded with the chain's current tip.
func New(cfg Config, conv *conveyer.Conveyer, store *blockstore.Store, wallets *wallet.Index, connectivity ConnectivityProvider, announce Announcer, lastWritten types.Sequence, lastBlockHash types.Hash, logger log.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		cfg:           cfg,
		log:           logger,
		conv:          conv,
		store:         store,
		wallets:       wallets,
		connectivity:  connectivity,
		announce:      announce,
		lastWritten:   lastWritten,
		lastBlockHash: lastBlockHash,
		nominations:   make(map[types.Round]map[uint16][]types.PublicKey),
	}, nil
}

// SetNetwork late-binds the announcer and connectivity provider. The
// transport implements both but is itself constructed after the
// coordinator (it serves the coordinator's block requests), so
// cmd/cnode builds the coordinator with nil here and binds the
// transport before starting the node.
func (c *Coordinator) SetNetwork(connectivity ConnectivityProvider, announce Announcer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectivity = connectivity
	c.announce = announce
}

// LastWrittenSequence implements consensus.Finalizer.
func (c *Coordinator) LastWrittenSequence() types.Sequence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWritten
}

// DropDeferredBlock implements consensus.Finalizer: discards any
// block assembled but not yet written, per a big-bang reset.
func (c *Coordinator) DropDeferredBlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deferred = nil
}

// ObserveStage1 records a confidant's next-round committee
// nominations so DeriveNextRoundTable can rotate the committee once
// the round finalizes. Called for every Stage1 a node sends or
// receives, writer and non-writer alike, since every confidant's
// nomination counts.
func (c *Coordinator) ObserveStage1(s types.Stage1) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byIndex, ok := c.nominations[s.Round]
	if !ok {
		byIndex = make(map[uint16][]types.PublicKey)
		c.nominations[s.Round] = byIndex
	}
	byIndex[s.SenderIndex] = s.NextCandidates
	// Retain only the two most recent rounds' nominations; anything
	// older belongs to a round that has already finalized or been
	// abandoned.
	if len(c.nominations) > 2 {
		var oldest types.Round = s.Round
		for r := range c.nominations {
			if r < oldest {
				oldest = r
			}
		}
		delete(c.nominations, oldest)
	}
}

// FinalizeBlock implements consensus.Finalizer: it flushes the
// round's accepted transactions from the conveyer, assembles and
// hashes the block, appends it to the store,
// applies balance deltas to the wallet index, and announces the
// result. Non-writer confidants never call this; only the consensus
// machine's elected writer does.
func (c *Coordinator) FinalizeBlock(round types.Round, mask types.CharacteristicMask, writer types.PublicKey, writerSig types.Signature, confidantSigs []types.Signature) error {
	flush, err := c.conv.FlushAccepted(mask)
	if err != nil {
		return fmt.Errorf("roundcoord: flush accepted: %w", err)
	}

	c.mu.Lock()
	sequence := c.lastWritten + 1
	prevHash := c.lastBlockHash
	c.mu.Unlock()

	txs := make([]*types.Transaction, 0, len(flush.Accepted))
	for _, a := range flush.Accepted {
		txs = append(txs, a.Tx)
	}

	block := &types.Block{
		Version:         1,
		PreviousHash:    prevHash,
		Sequence:        sequence,
		Round:           round,
		Timestamp:       time.Now().UTC(),
		Transactions:    txs,
		WriterSignature: writerSig,
		ConfidantSigs:   confidantSigs,
	}

	enc, err := wirecodec.EncodeBlock(block)
	if err != nil {
		return fmt.Errorf("roundcoord: encode block: %w", err)
	}
	hash := cryptoutil.Hash256(enc)
	block.SetHash(hash)

	if err := c.store.Append(block, hash); err != nil {
		return fmt.Errorf("roundcoord: append block %d: %w", sequence, err)
	}

	if err := c.applyWallet(sequence, hash, flush.Accepted); err != nil {
		c.log.Error("roundcoord: wallet apply failed after block append", "sequence", sequence, "err", err)
	}

	c.mu.Lock()
	c.lastWritten = sequence
	c.lastBlockHash = hash
	c.deferred = nil
	c.mu.Unlock()

	c.notePostConsensus()

	if c.announce != nil {
		c.announce.BroadcastNewCharacteristic(round, mask, hash)
	}
	c.log.Info("roundcoord: finalized block", "round", round, "sequence", sequence, "hash", hash, "txs", len(txs), "writer", writer)
	return nil
}

// applyWallet posts every accepted transaction's balance delta and
// history pointer to the wallet index,
// debiting the source and crediting the target by the transferred
// amount (the counted fee, if any, is already reflected in the
// transaction's CountedFee and left to the validator's bookkeeping).
func (c *Coordinator) applyWallet(sequence types.Sequence, blockHash types.Hash, accepted []conveyer.AcceptedEntry) error {
	if c.wallets == nil {
		return nil
	}
	for _, entry := range accepted {
		tx := entry.Tx
		txID := types.TransactionID{BlockHash: blockHash, Index: uint32(entry.Index)}
		if !tx.Source.Equal(tx.Target) {
			if err := c.wallets.RecordTransaction(tx.Source, sequence, types.Zero.Sub(tx.Amount), txID, nil); err != nil {
				return fmt.Errorf("debit %s: %w", tx.Source, err)
			}
			if err := c.wallets.RecordTransaction(tx.Target, sequence, tx.Amount, txID, nil); err != nil {
				return fmt.Errorf("credit %s: %w", tx.Target, err)
			}
		}
	}
	return nil
}
