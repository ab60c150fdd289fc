// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package types defines the core data model of the consensus engine:
// identifiers, transactions, packets, characteristic masks, round
// tables, stage messages and blocks.
package types

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/ids"
)

// Hash is a 32-byte Blake2b digest, used as the identity of packets and
// blocks.
type Hash = ids.ID

// NodeID identifies a participant by the hash of its public key.
type NodeID = ids.NodeID

// PublicKey is an Ed25519 public key.
type PublicKey [32]byte

// PrivateKey is an Ed25519 private key.
type PrivateKey [64]byte

// Signature is an Ed25519 signature.
type Signature [64]byte

// Round is a monotonically increasing consensus round number.
type Round uint64

// Sequence identifies a block's position in the chain. In steady state
// Sequence == Round - k for some bounded k (rounds may produce no
// block, e.g. NoTrusted or big-bang resets).
type Sequence uint64

// TransactionID identifies a finalized transaction by the block it
// landed in and its index within that block.
type TransactionID struct {
	BlockHash Hash
	Index     uint32
}

// String renders a TransactionID as "<hash>:<index>".
func (t TransactionID) String() string {
	return fmt.Sprintf("%s:%d", t.BlockHash, t.Index)
}

// ParseTransactionID parses the output of String back into a
// TransactionID. decode(encode(id)) == id for every valid id.
func ParseTransactionID(s string) (TransactionID, error) {
	var t TransactionID
	// format: "<hash>:<index>", hash is the ids.ID default string form.
	sep := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return t, fmt.Errorf("types: malformed transaction id %q", s)
	}
	h, err := ids.FromString(s[:sep])
	if err != nil {
		return t, fmt.Errorf("types: malformed transaction id hash: %w", err)
	}
	var idx uint32
	if _, err := fmt.Sscanf(s[sep+1:], "%d", &idx); err != nil {
		return t, fmt.Errorf("types: malformed transaction id index: %w", err)
	}
	t.BlockHash = h
	t.Index = idx
	return t, nil
}

// SmartContractRef identifies a smart-contract invocation transaction
// by the block sequence and index in which it was accepted.
type SmartContractRef struct {
	Sequence Sequence
	Index    uint32
}

// Bytes returns a canonical, comparable encoding of the reference,
// suitable for use as a map key.
func (r SmartContractRef) Bytes() [12]byte {
	var b [12]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(r.Sequence))
	binary.LittleEndian.PutUint32(b[8:12], r.Index)
	return b
}
