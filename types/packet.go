// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

// TransactionsPacket is an ordered sequence of transactions together
// with a content hash and an optional list of trusted-committee
// signatures (used by smart-contract new-state packets). Identity is
// the hash: two packets with identical transactions in identical
// order have the same hash.
type TransactionsPacket struct {
	Hash         Hash
	Transactions []*Transaction
	Signatures   []Signature // confidant signatures over Hash, if any
}

// Len returns the number of transactions in the packet.
func (p *TransactionsPacket) Len() int {
	return len(p.Transactions)
}
