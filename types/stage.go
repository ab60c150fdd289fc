// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

// Stage1 is the first message of the three-stage exchange: a
// candidate characteristic-mask hash plus the sender's nominees for
// next round's committee.
type Stage1 struct {
	Round         Round
	SenderIndex   uint16
	MaskHash      Hash
	NextCandidates []PublicKey
	Signature     Signature
}

// SignedBytes returns the bytes Stage1.Signature is computed over.
func (s *Stage1) SignedBytes() []byte {
	buf := make([]byte, 0, 8+2+32+32*len(s.NextCandidates))
	buf = appendU64(buf, uint64(s.Round))
	buf = appendU16(buf, s.SenderIndex)
	buf = append(buf, s.MaskHash[:]...)
	for _, c := range s.NextCandidates {
		buf = append(buf, c[:]...)
	}
	return buf
}

// Stage2 carries every Stage1 signature the sender has collected so
// far from its confidants.
type Stage2 struct {
	Round       Round
	SenderIndex uint16
	Collected   []Stage1
	Signature   Signature
}

// SignedBytes returns the bytes Stage2.Signature is computed over.
func (s *Stage2) SignedBytes() []byte {
	buf := make([]byte, 0, 8+2+32*len(s.Collected))
	buf = appendU64(buf, uint64(s.Round))
	buf = appendU16(buf, s.SenderIndex)
	for _, c := range s.Collected {
		buf = append(buf, c.MaskHash[:]...)
	}
	return buf
}

// Stage3 carries the writer election result and the sender's block
// signature.
type Stage3 struct {
	Round        Round
	SenderIndex  uint16
	WriterIndex  uint16
	RealTrusted  []bool // bitmask over the round table's confidant order
	BlockSig     Signature
	Signature    Signature
}

// SignedBytes returns the bytes Stage3.Signature is computed over.
func (s *Stage3) SignedBytes() []byte {
	buf := make([]byte, 0, 8+2+2+len(s.RealTrusted)+64)
	buf = appendU64(buf, uint64(s.Round))
	buf = appendU16(buf, s.SenderIndex)
	buf = appendU16(buf, s.WriterIndex)
	for _, b := range s.RealTrusted {
		if b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	buf = append(buf, s.BlockSig[:]...)
	return buf
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(v)
		v >>= 8
	}
	return append(b, tmp[:]...)
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}
