// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package conveyer implements the mempool: packets keyed by content
// hash, a current-round manifest, and a bounded ring of past
// manifests for late sync queries.
package conveyer

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/log"

	"github.com/relaynet/cnode/types"
)

// ErrEmptyHash is returned by Add when the packet's hash is the zero
// value; a packet with an empty hash has no identity to store under.
var ErrEmptyHash = errors.New("conveyer: packet has empty hash")

// ErrManifestAlreadySet is returned by SetManifest if a manifest has
// already been set for the current round, per the "manifest is set
// exactly once per round" invariant.
var ErrManifestAlreadySet = errors.New("conveyer: manifest already set for this round")

// Config controls the conveyer's retention behavior.
type Config struct {
	// MetaCapacity bounds how many past-round manifests are retained
	// for late sync queries. Must be >= 16.
	MetaCapacity int
}

// DefaultConfig returns the minimum legal MetaCapacity.
func DefaultConfig() Config {
	return Config{MetaCapacity: 16}
}

// Validate reports whether c satisfies the MetaCapacity floor.
func (c Config) Validate() error {
	if c.MetaCapacity < 16 {
		return fmt.Errorf("conveyer: MetaCapacity must be >= 16, got %d", c.MetaCapacity)
	}
	return nil
}

type roundManifest struct {
	round  types.Round
	hashes []types.Hash
}

// Conveyer is the mempool: packet storage keyed by hash plus the
// current and recent-past round manifests.
type Conveyer struct {
	mu  sync.Mutex
	cfg Config
	log log.Logger

	packets map[types.Hash]*types.TransactionsPacket

	currentRound    types.Round
	currentManifest []types.Hash
	manifestSet     bool

	history []roundManifest // ring, oldest first, bounded to MetaCapacity
}

// New builds a Conveyer with cfg (validated) and the given round as
// the initial current round.
func New(cfg Config, logger log.Logger, initialRound types.Round) (*Conveyer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Conveyer{
		cfg:          cfg,
		log:          logger,
		packets:      make(map[types.Hash]*types.TransactionsPacket),
		currentRound: initialRound,
	}, nil
}

// Add stores packet keyed by its hash. Re-adding an already-known hash
// keeps the stored packet and merges in only committee signatures it
// did not already carry, so gossip re-delivery adds no duplicates.
func (c *Conveyer) Add(hash types.Hash, packet *types.TransactionsPacket) error {
	if hash == (types.Hash{}) {
		return ErrEmptyHash
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.packets[hash]; ok {
		// Identity is the hash, so a re-add carries the same
		// transactions; only its committee signatures can be news.
		// Merging them lets a new-state packet accumulate each
		// confidant's signature as their copies gossip in.
		existing.Signatures = mergeSignatures(existing.Signatures, packet.Signatures)
		return nil
	}
	c.packets[hash] = packet
	return nil
}

func mergeSignatures(have, incoming []types.Signature) []types.Signature {
	for _, sig := range incoming {
		known := false
		for _, h := range have {
			if h == sig {
				known = true
				break
			}
		}
		if !known {
			have = append(have, sig)
		}
	}
	return have
}

// PendingHashes returns every stored packet hash in a deterministic
// (byte-sorted) order, for assembling the next round's manifest.
// Packets consumed by an earlier FlushAccepted are gone already.
func (c *Conveyer) PendingHashes() []types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Hash, 0, len(c.packets))
	for hash := range c.packets {
		out = append(out, hash)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// Len returns the number of stored packets, for the admin endpoint's
// mempool gauge.
func (c *Conveyer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

// Have reports whether hash is already stored.
func (c *Conveyer) Have(hash types.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.packets[hash]
	return ok
}

// Get returns the packet stored under hash, if any.
func (c *Conveyer) Get(hash types.Hash) (*types.TransactionsPacket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.packets[hash]
	return p, ok
}

// CurrentManifest returns the hashes proposed for the current round,
// or nil if none has been set yet.
func (c *Conveyer) CurrentManifest() []types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Hash, len(c.currentManifest))
	copy(out, c.currentManifest)
	return out
}

// SetManifest fixes the current round's proposed packet hashes. It may
// be called at most once per round; BeginRound must be called first to
// advance to a new round and accept a new manifest.
func (c *Conveyer) SetManifest(hashes []types.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manifestSet {
		return ErrManifestAlreadySet
	}
	c.currentManifest = append([]types.Hash(nil), hashes...)
	c.manifestSet = true
	return nil
}

// MissingFromManifest returns the manifest hashes not yet present in
// the packet store.
func (c *Conveyer) MissingFromManifest() []types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	var missing []types.Hash
	for _, h := range c.currentManifest {
		if _, ok := c.packets[h]; !ok {
			missing = append(missing, h)
		}
	}
	return missing
}

// BeginRound archives the current round's manifest into history (if
// one was set) and advances the conveyer to round, clearing the
// per-round manifest state.
func (c *Conveyer) BeginRound(round types.Round) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manifestSet {
		c.history = append(c.history, roundManifest{round: c.currentRound, hashes: c.currentManifest})
		if len(c.history) > c.cfg.MetaCapacity {
			c.history = c.history[len(c.history)-c.cfg.MetaCapacity:]
		}
	}
	c.currentRound = round
	c.currentManifest = nil
	c.manifestSet = false
}

// ManifestForRound answers late sync queries against the retained
// history ring (bounded to MetaCapacity past rounds).
func (c *Conveyer) ManifestForRound(round types.Round) ([]types.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].round == round {
			out := make([]types.Hash, len(c.history[i].hashes))
			copy(out, c.history[i].hashes)
			return out, true
		}
	}
	return nil, false
}

// FlushResult reports the outcome of FlushAccepted.
type FlushResult struct {
	Accepted []AcceptedEntry
	Rejected []RejectedEntry
}

// AcceptedEntry pairs an accepted transaction with its source packet
// hash and index, for publication to the wallet/balance subsystem and
// the smart-contract executor.
type AcceptedEntry struct {
	PacketHash types.Hash
	Index      int
	Tx         *types.Transaction
}

// RejectedEntry pairs a rejected transaction with the reason it was
// dropped.
type RejectedEntry struct {
	PacketHash types.Hash
	Index      int
	Tx         *types.Transaction
	Reason     types.RejectReason
}

// FlushAccepted applies a characteristic mask to the current
// manifest's packets: mask byte 0 entries become Accepted (destined
// for wallet publication and the executor), everything else is
// Rejected and dropped from the store.
func (c *Conveyer) FlushAccepted(mask types.CharacteristicMask) (FlushResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result FlushResult
	pos := 0
	for _, hash := range c.currentManifest {
		packet, ok := c.packets[hash]
		if !ok {
			return FlushResult{}, fmt.Errorf("conveyer: flush: manifest hash %s missing from store", hash)
		}
		for i, tx := range packet.Transactions {
			if pos >= len(mask) {
				return FlushResult{}, fmt.Errorf("conveyer: flush: characteristic mask shorter than proposed transaction count")
			}
			reason := mask[pos]
			if reason == types.Accepted {
				result.Accepted = append(result.Accepted, AcceptedEntry{PacketHash: hash, Index: i, Tx: tx})
			} else {
				result.Rejected = append(result.Rejected, RejectedEntry{PacketHash: hash, Index: i, Tx: tx, Reason: reason})
			}
			pos++
		}
		delete(c.packets, hash)
	}
	return result, nil
}
