// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

// BigBang is an authoritative forced round reset,
// carrying the round table the network should unconditionally accept
// in its place.
type BigBang struct {
	Round     Round
	Table     RoundTable
	Signature Signature
}

// SignedBytes returns the bytes BigBang.Signature is computed over.
func (b *BigBang) SignedBytes() []byte {
	buf := make([]byte, 0, 8+8+32+32*len(b.Table.Confidants)+32*len(b.Table.Hashes))
	buf = appendU64(buf, uint64(b.Round))
	buf = appendU64(buf, uint64(b.Table.Round))
	buf = append(buf, b.Table.General[:]...)
	for _, c := range b.Table.Confidants {
		buf = append(buf, c[:]...)
	}
	for _, h := range b.Table.Hashes {
		buf = append(buf, h[:]...)
	}
	return buf
}
