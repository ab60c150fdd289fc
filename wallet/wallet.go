// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wallet implements the wallet index and transactions index
// persisted alongside the chain: address -> (balance,
// last-transaction-pointer, public-key), and (address, sequence) ->
// previous sequence at which that address last appeared. Both indexes
// are backed by github.com/luxfi/database, updated only at
// block-finalization time by the round coordinator.
package wallet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/log"

	"github.com/relaynet/cnode/types"
)

// ErrNotFound is returned when an address has no wallet record.
var ErrNotFound = errors.New("wallet: address not found")

const (
	recordPrefix  = byte(0x01)
	historyPrefix = byte(0x02)
)

// Record is the persisted per-address wallet state.
type Record struct {
	Balance         types.Amount
	LastTx          types.TransactionID
	HasLastTx       bool
	LastSequence    types.Sequence
	HasLastSequence bool
	PublicKey       types.PublicKey
	HasPublicKey    bool
}

// Index is the address -> Record and (address, sequence) -> previous
// sequence store. Writes are serialized with an internal mutex; the
// round coordinator additionally serializes calls across the whole
// index by updating it only at block-finalization time.
type Index struct {
	mu  sync.Mutex
	db  database.Database
	log log.Logger
}

// New wraps db (typically a pebble-backed github.com/luxfi/database
// handle) as a wallet Index.
func New(db database.Database, logger log.Logger) *Index {
	return &Index{db: db, log: logger}
}

// Get returns the wallet record for addr. A key-form address is keyed
// by its 32-byte public key; a wallet-id address is keyed by its
// 4-byte id. ErrNotFound is returned if the address has never been
// touched.
func (idx *Index) Get(addr types.Address) (Record, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.get(addr)
}

func (idx *Index) get(addr types.Address) (Record, error) {
	raw, err := idx.db.Get(recordKey(addr))
	if errors.Is(err, database.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("wallet: get %s: %w", addr, err)
	}
	return decodeRecord(raw)
}

// Put overwrites the wallet record for addr.
func (idx *Index) Put(addr types.Address, rec Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.db.Put(recordKey(addr), encodeRecord(rec)); err != nil {
		return fmt.Errorf("wallet: put %s: %w", addr, err)
	}
	return nil
}

// RecordTransaction applies a finalized transaction's balance delta to
// addr at the given sequence, advances its last-transaction pointer,
// and appends a transactions-index entry linking sequence back to the
// address's previously recorded sequence.
// If batch is non-nil the writes are staged into it instead of
// applied directly, so the caller can commit an entire block's wallet
// effects atomically.
func (idx *Index) RecordTransaction(addr types.Address, sequence types.Sequence, delta types.Amount, txID types.TransactionID, batch database.Batch) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec, err := idx.get(addr)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("wallet: read %s before update: %w", addr, err)
	}

	var prevSequence types.Sequence
	hasPrev := rec.HasLastSequence && rec.LastSequence != sequence
	if hasPrev {
		prevSequence = rec.LastSequence
	}

	rec.Balance = rec.Balance.Add(delta)
	rec.LastTx = txID
	rec.HasLastTx = true
	rec.LastSequence = sequence
	rec.HasLastSequence = true

	w := writerFor(idx.db, batch)
	if err := w.Put(recordKey(addr), encodeRecord(rec)); err != nil {
		return fmt.Errorf("wallet: write %s: %w", addr, err)
	}
	if hasPrev {
		if err := w.Put(historyKey(addr, sequence), encodeSequence(prevSequence)); err != nil {
			return fmt.Errorf("wallet: write history %s@%d: %w", addr, sequence, err)
		}
	}
	return nil
}

// PreviousSequence returns the sequence at which addr last appeared
// before (and excluding) the given sequence, and whether one exists.
func (idx *Index) PreviousSequence(addr types.Address, sequence types.Sequence) (types.Sequence, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	raw, err := idx.db.Get(historyKey(addr, sequence))
	if errors.Is(err, database.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("wallet: history lookup %s@%d: %w", addr, sequence, err)
	}
	return types.Sequence(binary.LittleEndian.Uint64(raw)), true, nil
}

// SetPublicKey associates a wallet-id address with the public key
// that first resolved it, so later signature checks against that
// wallet-id do not require the sender to repeat its full key.
func (idx *Index) SetPublicKey(addr types.Address, pk types.PublicKey) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec, err := idx.get(addr)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("wallet: read %s before key-set: %w", addr, err)
	}
	rec.PublicKey = pk
	rec.HasPublicKey = true
	if err := idx.db.Put(recordKey(addr), encodeRecord(rec)); err != nil {
		return fmt.Errorf("wallet: write public key for %s: %w", addr, err)
	}
	return nil
}

func writerFor(db database.Database, batch database.Batch) interface {
	Put(key, value []byte) error
} {
	if batch != nil {
		return batch
	}
	return db
}

func recordKey(addr types.Address) []byte {
	k := make([]byte, 0, 34)
	k = append(k, recordPrefix)
	return append(k, addressBytes(addr)...)
}

func historyKey(addr types.Address, seq types.Sequence) []byte {
	k := make([]byte, 0, 42)
	k = append(k, historyPrefix)
	k = append(k, addressBytes(addr)...)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(seq))
	return append(k, seqBuf[:]...)
}

func addressBytes(addr types.Address) []byte {
	if addr.IsWalletID() {
		b := make([]byte, 5)
		b[0] = 0
		binary.LittleEndian.PutUint32(b[1:], addr.WalletID)
		return b
	}
	b := make([]byte, 1, 33)
	b[0] = 1
	return append(b, addr.Key[:]...)
}

func encodeSequence(seq types.Sequence) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(seq))
	return b[:]
}

func encodeRecord(rec Record) []byte {
	buf := make([]byte, 0, 16+1+36+1+8+1+32)
	buf = appendAmount(buf, rec.Balance)
	buf = append(buf, boolByte(rec.HasLastTx))
	buf = append(buf, rec.LastTx.BlockHash[:]...)
	var idxBuf [4]byte
	binary.LittleEndian.PutUint32(idxBuf[:], rec.LastTx.Index)
	buf = append(buf, idxBuf[:]...)
	buf = append(buf, boolByte(rec.HasLastSequence))
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(rec.LastSequence))
	buf = append(buf, seqBuf[:]...)
	buf = append(buf, boolByte(rec.HasPublicKey))
	buf = append(buf, rec.PublicKey[:]...)
	return buf
}

func decodeRecord(raw []byte) (Record, error) {
	const minLen = 16 + 1 + 32 + 4 + 1 + 8 + 1 + 32
	if len(raw) < minLen {
		return Record{}, fmt.Errorf("wallet: truncated record (%d bytes, want %d)", len(raw), minLen)
	}
	var rec Record
	off := 0
	rec.Balance.Integer = int64(binary.LittleEndian.Uint64(raw[off : off+8]))
	off += 8
	rec.Balance.Fraction = binary.LittleEndian.Uint64(raw[off : off+8])
	off += 8
	rec.HasLastTx = raw[off] != 0
	off++
	copy(rec.LastTx.BlockHash[:], raw[off:off+32])
	off += 32
	rec.LastTx.Index = binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4
	rec.HasLastSequence = raw[off] != 0
	off++
	rec.LastSequence = types.Sequence(binary.LittleEndian.Uint64(raw[off : off+8]))
	off += 8
	rec.HasPublicKey = raw[off] != 0
	off++
	copy(rec.PublicKey[:], raw[off:off+32])
	return rec, nil
}

func appendAmount(buf []byte, a types.Amount) []byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(a.Integer))
	binary.LittleEndian.PutUint64(b[8:16], a.Fraction)
	return append(buf, b[:]...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
