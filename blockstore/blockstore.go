// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blockstore implements the append-only pool store:
// sequence -> canonical block bytes, indexed by pool hash. It is
// backed by github.com/luxfi/database and supports an
// invalidate-index, rebuild-from-block-store recovery path for a
// corrupted secondary index.
package blockstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/log"

	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/wirecodec"
)

// ErrNotFound is returned when a sequence or hash has no stored block.
var ErrNotFound = errors.New("blockstore: block not found")

const (
	bySequencePrefix = byte(0x01)
	byHashPrefix     = byte(0x02)
)

// Store is the append-only, sequence-indexed block store. The hash
// index is a secondary lookup built on Append and reconstructible by
// Rebuild if it is ever found to be missing or inconsistent.
type Store struct {
	mu  sync.Mutex
	db  database.Database
	log log.Logger
}

// New wraps db as a block Store.
func New(db database.Database, logger log.Logger) *Store {
	return &Store{db: db, log: logger}
}

// Append writes block at its Sequence, indexed additionally by hash.
// It returns an error if a block already occupies that sequence,
// since the pool store is append-only: callers must never overwrite
// a finalized block.
func (s *Store) Append(block *types.Block, hash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqKey := sequenceKey(block.Sequence)
	if _, err := s.db.Get(seqKey); err == nil {
		return fmt.Errorf("blockstore: sequence %d already occupied", block.Sequence)
	} else if !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("blockstore: check sequence %d: %w", block.Sequence, err)
	}

	enc, err := wirecodec.EncodeBlock(block)
	if err != nil {
		return fmt.Errorf("blockstore: encode block %d: %w", block.Sequence, err)
	}
	if err := s.db.Put(seqKey, enc); err != nil {
		return fmt.Errorf("blockstore: write sequence %d: %w", block.Sequence, err)
	}
	if err := s.db.Put(hashKey(hash), sequenceKey(block.Sequence)[1:]); err != nil {
		return fmt.Errorf("blockstore: write hash index for %d: %w", block.Sequence, err)
	}
	return nil
}

// GetBySequence returns the block stored at sequence.
func (s *Store) GetBySequence(sequence types.Sequence) (*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.db.Get(sequenceKey(sequence))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blockstore: get sequence %d: %w", sequence, err)
	}
	block, err := wirecodec.DecodeBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("blockstore: decode sequence %d: %w", sequence, err)
	}
	return block, nil
}

// GetByHash resolves hash through the secondary index and returns the
// referenced block.
func (s *Store) GetByHash(hash types.Hash) (*types.Block, error) {
	s.mu.Lock()
	seqRaw, err := s.db.Get(hashKey(hash))
	s.mu.Unlock()
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blockstore: hash lookup %s: %w", hash, err)
	}
	return s.GetBySequence(types.Sequence(binary.LittleEndian.Uint64(seqRaw)))
}

// Tip scans the sequence index and returns the highest stored block's
// sequence and hash, seeding the round coordinator's chain tip on
// start. ok is false on an empty store. hashOf computes a block's
// canonical hash, passed in for the same reason as Rebuild's.
func (s *Store) Tip(hashOf func(*types.Block) types.Hash) (types.Sequence, types.Hash, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.db.NewIteratorWithPrefix([]byte{bySequencePrefix})
	defer it.Release()

	// Keys are little-endian, so iteration order is not numeric; track
	// the maximum explicitly.
	var best types.Sequence
	found := false
	for it.Next() {
		key := it.Key()
		if len(key) != 9 {
			continue
		}
		seq := types.Sequence(binary.LittleEndian.Uint64(key[1:]))
		if !found || seq > best {
			best = seq
			found = true
		}
	}
	if err := it.Error(); err != nil {
		return 0, types.Hash{}, false, fmt.Errorf("blockstore: tip scan: %w", err)
	}
	if !found {
		return 0, types.Hash{}, false, nil
	}

	raw, err := s.db.Get(sequenceKey(best))
	if err != nil {
		return 0, types.Hash{}, false, fmt.Errorf("blockstore: tip read %d: %w", best, err)
	}
	block, err := wirecodec.DecodeBlock(raw)
	if err != nil {
		return 0, types.Hash{}, false, fmt.Errorf("blockstore: tip decode %d: %w", best, err)
	}
	return best, hashOf(block), true, nil
}

// Rebuild reconstructs the hash index from a full scan of the
// sequence-indexed blocks, the recovery path for a corrupted or
// missing secondary index. hashOf computes a
// block's canonical hash (normally cryptoutil.Hash256 over its
// EncodeBlock bytes) and is supplied by the caller.
func (s *Store) Rebuild(hashOf func(*types.Block) types.Hash) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.db.NewIteratorWithPrefix([]byte{bySequencePrefix})
	defer it.Release()

	rebuilt := 0
	for it.Next() {
		block, err := wirecodec.DecodeBlock(it.Value())
		if err != nil {
			return rebuilt, fmt.Errorf("blockstore: rebuild: decode %x: %w", it.Key(), err)
		}
		h := hashOf(block)
		if err := s.db.Put(hashKey(h), sequenceKey(block.Sequence)[1:]); err != nil {
			return rebuilt, fmt.Errorf("blockstore: rebuild: write hash index: %w", err)
		}
		rebuilt++
	}
	if err := it.Error(); err != nil {
		return rebuilt, fmt.Errorf("blockstore: rebuild: iterator: %w", err)
	}
	return rebuilt, nil
}

func sequenceKey(seq types.Sequence) []byte {
	k := make([]byte, 9)
	k[0] = bySequencePrefix
	binary.LittleEndian.PutUint64(k[1:], uint64(seq))
	return k
}

func hashKey(h types.Hash) []byte {
	k := make([]byte, 0, 33)
	k = append(k, byHashPrefix)
	return append(k, h[:]...)
}
