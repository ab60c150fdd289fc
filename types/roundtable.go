// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

// RoundTable records the committee and proposed packet manifest for
// one consensus round.
type RoundTable struct {
	Round      Round
	General    PublicKey   // the selected writer
	Confidants []PublicKey // ordered trusted committee, 3..MaxTrusted entries
	Hashes     []Hash      // packet hashes accepted for this round
}

// IndexOf returns the confidant index of pk, or -1 if pk is not a
// confidant in this round table.
func (rt *RoundTable) IndexOf(pk PublicKey) int {
	for i, c := range rt.Confidants {
		if c == pk {
			return i
		}
	}
	return -1
}

// IsGeneral reports whether pk is this round's writer.
func (rt *RoundTable) IsGeneral(pk PublicKey) bool {
	return rt.General == pk
}

// IsConfidant reports whether pk is a member of this round's committee.
func (rt *RoundTable) IsConfidant(pk PublicKey) bool {
	return rt.IndexOf(pk) >= 0
}

// Valid reports whether the round table satisfies the 3..MaxTrusted
// confidant-count invariant.
func (rt *RoundTable) Valid(maxTrusted int) bool {
	n := len(rt.Confidants)
	return n >= 3 && n <= maxTrusted
}
