// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import "time"

// ExecutionReceipt records the outcome of a single smart-contract
// invocation finalized in this block.
type ExecutionReceipt struct {
	Ref   SmartContractRef
	Emitted []TransactionID
}

// Block is the ordered set of accepted transactions for one round,
// together with its chain linkage and signatures.
type Block struct {
	Version          uint8
	PreviousHash     Hash
	Sequence         Sequence
	Round            Round
	Timestamp        time.Time
	Transactions     []*Transaction
	WriterSignature  Signature
	ConfidantSigs    []Signature
	Receipts         []ExecutionReceipt

	// hash caches the value passed to SetHash; nothing invalidates it,
	// so direct field mutation after construction leaves it stale and
	// is the caller's responsibility to avoid.
	hash    Hash
	hashSet bool
}

// SetHash caches the block's Blake2 hash, computed by the caller over
// the canonical wire encoding (see wirecodec.BlockHash).
func (b *Block) SetHash(h Hash) {
	b.hash = h
	b.hashSet = true
}

// CachedHash returns the previously cached hash, if SetHash has been
// called.
func (b *Block) CachedHash() (Hash, bool) {
	return b.hash, b.hashSet
}
