// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package wirecodec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
)

func TestStage1RoundTrip(t *testing.T) {
	pkA, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	pkB, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	s := types.Stage1{
		Round:          7,
		SenderIndex:    2,
		MaskHash:       cryptoutil.Hash256([]byte("mask")),
		NextCandidates: []types.PublicKey{pkA, pkB},
		Signature:      types.Signature{9, 9, 9},
	}
	enc, err := EncodeStage1(s)
	require.NoError(t, err)
	decoded, err := DecodeStage1(enc)
	require.NoError(t, err)
	require.Equal(t, s, decoded)
}

func TestStage1RoundTripWithoutCandidates(t *testing.T) {
	s := types.Stage1{Round: 1, SenderIndex: 0, MaskHash: types.Hash{0x1}}
	enc, err := EncodeStage1(s)
	require.NoError(t, err)
	decoded, err := DecodeStage1(enc)
	require.NoError(t, err)
	require.Equal(t, s.Round, decoded.Round)
	require.Empty(t, decoded.NextCandidates)
}

func TestStage2RoundTrip(t *testing.T) {
	s1a := types.Stage1{Round: 4, SenderIndex: 0, MaskHash: types.Hash{0xAA}}
	s1b := types.Stage1{Round: 4, SenderIndex: 1, MaskHash: types.Hash{0xBB}}

	s2 := types.Stage2{
		Round:       4,
		SenderIndex: 0,
		Collected:   []types.Stage1{s1a, s1b},
		Signature:   types.Signature{1},
	}
	enc, err := EncodeStage2(s2)
	require.NoError(t, err)
	decoded, err := DecodeStage2(enc)
	require.NoError(t, err)
	require.Equal(t, s2, decoded)
}

func TestStage3RoundTrip(t *testing.T) {
	s3 := types.Stage3{
		Round:       9,
		SenderIndex: 3,
		WriterIndex: 0,
		RealTrusted: []bool{true, false, true, true},
		BlockSig:    types.Signature{2},
		Signature:   types.Signature{3},
	}
	enc, err := EncodeStage3(s3)
	require.NoError(t, err)
	decoded, err := DecodeStage3(enc)
	require.NoError(t, err)
	require.Equal(t, s3, decoded)
}

func TestRoundTableRoundTrip(t *testing.T) {
	var general, conf1, conf2 types.PublicKey
	general[0], conf1[0], conf2[0] = 1, 2, 3

	rt := types.RoundTable{
		Round:      12,
		General:    general,
		Confidants: []types.PublicKey{general, conf1, conf2},
		Hashes:     []types.Hash{{0xAA}, {0xBB}},
	}
	enc, err := EncodeRoundTable(rt)
	require.NoError(t, err)
	decoded, err := DecodeRoundTable(enc)
	require.NoError(t, err)
	require.Equal(t, rt, decoded)
}

func TestBigBangRoundTrip(t *testing.T) {
	var general types.PublicKey
	general[0] = 7

	bb := types.BigBang{
		Round: 3,
		Table: types.RoundTable{
			Round:      4,
			General:    general,
			Confidants: []types.PublicKey{general},
			Hashes:     []types.Hash{{0x1}},
		},
		Signature: types.Signature{5, 5},
	}
	enc, err := EncodeBigBang(bb)
	require.NoError(t, err)
	decoded, err := DecodeBigBang(enc)
	require.NoError(t, err)
	require.Equal(t, bb, decoded)
}

func TestNewCharacteristicRoundTrip(t *testing.T) {
	nc := NewCharacteristic{
		Round:     21,
		Mask:      types.CharacteristicMask{types.Accepted, types.InsufficientBalance, types.WrongSignature},
		BlockHash: cryptoutil.Hash256([]byte("block")),
	}
	enc, err := EncodeNewCharacteristic(nc)
	require.NoError(t, err)
	decoded, err := DecodeNewCharacteristic(enc)
	require.NoError(t, err)
	require.Equal(t, nc, decoded)
}

func TestBlockRequestRoundTrip(t *testing.T) {
	br := BlockRequest{Start: 5, Count: 1000}
	enc := EncodeBlockRequest(br)
	decoded, err := DecodeBlockRequest(enc)
	require.NoError(t, err)
	require.Equal(t, br, decoded)
}

func TestRequestedBlocksRoundTrip(t *testing.T) {
	blk := &types.Block{
		Version:      1,
		PreviousHash: cryptoutil.Hash256([]byte("genesis")),
		Sequence:     types.Sequence(1),
		Round:        types.Round(1),
		Timestamp:    time.Unix(1_700_000_000, 0).UTC(),
	}
	enc, err := EncodeRequestedBlocks([]*types.Block{blk})
	require.NoError(t, err)
	decoded, err := DecodeRequestedBlocks(enc)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, blk.Sequence, decoded[0].Sequence)
	require.Equal(t, blk.PreviousHash, decoded[0].PreviousHash)
}

func TestRequestedBlocksRoundTripEmpty(t *testing.T) {
	enc, err := EncodeRequestedBlocks(nil)
	require.NoError(t, err)
	decoded, err := DecodeRequestedBlocks(enc)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestTransactionsPacketRoundTrip(t *testing.T) {
	tx := sampleTransaction(t)
	p := &types.TransactionsPacket{
		Hash:         cryptoutil.Hash256([]byte("packet")),
		Transactions: []*types.Transaction{tx},
		Signatures:   []types.Signature{{1, 2, 3}, {4, 5, 6}},
	}
	enc, err := EncodeTransactionsPacket(p)
	require.NoError(t, err)
	decoded, err := DecodeTransactionsPacket(enc)
	require.NoError(t, err)
	require.Equal(t, p.Hash, decoded.Hash)
	require.Equal(t, p.Signatures, decoded.Signatures)
	require.Len(t, decoded.Transactions, 1)
	require.Equal(t, tx.InnerID, decoded.Transactions[0].InnerID)
	require.True(t, tx.Source.Equal(decoded.Transactions[0].Source))
}
