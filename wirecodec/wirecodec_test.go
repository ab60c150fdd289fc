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

func sampleTransaction(t *testing.T) *types.Transaction {
	t.Helper()
	srcPK, srcSK, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	dstPK, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	tx := types.NewTransaction(
		types.AddressFromKey(srcPK),
		types.AddressFromKey(dstPK),
		types.Currency(1),
		types.Amount{Integer: 10, Fraction: 5},
		types.Amount{Integer: 0, Fraction: 100},
		42,
	)
	tx.AddUserField(types.UserField{ID: 7, Tag: types.UserFieldInteger, Int: -99})
	tx.AddUserField(types.UserField{ID: 8, Tag: types.UserFieldBytes, Bytes: []byte("payload")})
	tx.CountedFee = types.Amount{Integer: 0, Fraction: 3}
	tx.Signature = cryptoutil.Sign(srcSK, []byte("placeholder signed bytes"))
	tx.Seal()
	return tx
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := sampleTransaction(t)
	enc, err := EncodeTransaction(tx)
	require.NoError(t, err)

	decoded, n, err := DecodeTransaction(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), n)

	require.Equal(t, tx.InnerID, decoded.InnerID)
	require.True(t, tx.Source.Equal(decoded.Source))
	require.True(t, tx.Target.Equal(decoded.Target))
	require.Equal(t, tx.Amount, decoded.Amount)
	require.Equal(t, tx.MaxFee, decoded.MaxFee)
	require.Equal(t, tx.CountedFee, decoded.CountedFee)
	require.Equal(t, tx.Currency, decoded.Currency)
	require.Equal(t, tx.Signature, decoded.Signature)
	require.Equal(t, tx.UserFields, decoded.UserFields)
}

func TestTransactionForSigningOmitsSignatureAndNegativeFields(t *testing.T) {
	tx := sampleTransaction(t)
	signingBytes, err := EncodeTransactionForSigning(tx)
	require.NoError(t, err)

	full, err := EncodeTransaction(tx)
	require.NoError(t, err)
	require.Less(t, len(signingBytes), len(full))

	require.NotEqual(t, types.Signature{}, tx.Signature) // sanity: signature is real data

	newTx := func() *types.Transaction {
		return types.NewTransaction(
			types.AddressFromWalletID(1),
			types.AddressFromWalletID(2),
			types.Currency(1),
			types.Amount{Integer: 1},
			types.Amount{},
			9,
		)
	}
	plain := newTx()
	meta := newTx()
	meta.AddUserField(types.UserField{ID: -1, Tag: types.UserFieldInteger, Int: 5})
	plainBytes, err := EncodeTransactionForSigning(plain)
	require.NoError(t, err)
	metaBytes, err := EncodeTransactionForSigning(meta)
	require.NoError(t, err)
	require.Equal(t, plainBytes, metaBytes)
}

func TestWalletIDAddressRoundTrip(t *testing.T) {
	tx := types.NewTransaction(
		types.AddressFromWalletID(7),
		types.AddressFromWalletID(99),
		types.Currency(0),
		types.Amount{Integer: 1},
		types.Amount{},
		1,
	)
	tx.Seal()
	enc, err := EncodeTransaction(tx)
	require.NoError(t, err)
	decoded, _, err := DecodeTransaction(enc)
	require.NoError(t, err)
	require.True(t, decoded.Source.IsWalletID())
	require.Equal(t, uint32(7), decoded.Source.WalletID)
	require.Equal(t, uint32(99), decoded.Target.WalletID)
}

func TestNestedTransactionUserField(t *testing.T) {
	inner := sampleTransaction(t)
	outer := types.NewTransaction(
		types.AddressFromWalletID(1),
		types.AddressFromWalletID(2),
		types.Currency(1),
		types.Amount{Integer: 1},
		types.Amount{},
		43,
	)
	outer.AddUserField(types.UserField{ID: 20, Tag: types.UserFieldTransaction, Tx: inner})
	outer.Seal()

	enc, err := EncodeTransaction(outer)
	require.NoError(t, err)
	decoded, _, err := DecodeTransaction(enc)
	require.NoError(t, err)

	f, ok := decoded.UserField(20)
	require.True(t, ok)
	require.NotNil(t, f.Tx)
	require.Equal(t, inner.InnerID, f.Tx.InnerID)
}

func TestBlockRoundTrip(t *testing.T) {
	tx := sampleTransaction(t)
	blk := &types.Block{
		Version:         1,
		PreviousHash:    cryptoutil.Hash256([]byte("genesis")),
		Sequence:        types.Sequence(5),
		Round:           types.Round(5),
		Timestamp:       time.Unix(1_700_000_000, 0).UTC(),
		Transactions:    []*types.Transaction{tx},
		WriterSignature: types.Signature{1, 2, 3},
		ConfidantSigs:   []types.Signature{{4, 5, 6}, {7, 8, 9}},
		Receipts: []types.ExecutionReceipt{
			{
				Ref:     types.SmartContractRef{Sequence: 3, Index: 1},
				Emitted: []types.TransactionID{{BlockHash: cryptoutil.Hash256([]byte("x")), Index: 2}},
			},
		},
	}

	enc, err := EncodeBlock(blk)
	require.NoError(t, err)
	decoded, err := DecodeBlock(enc)
	require.NoError(t, err)

	require.Equal(t, blk.Version, decoded.Version)
	require.Equal(t, blk.PreviousHash, decoded.PreviousHash)
	require.Equal(t, blk.Sequence, decoded.Sequence)
	require.Equal(t, blk.Round, decoded.Round)
	require.True(t, blk.Timestamp.Equal(decoded.Timestamp))
	require.Len(t, decoded.Transactions, 1)
	require.Equal(t, blk.WriterSignature, decoded.WriterSignature)
	require.Equal(t, blk.ConfidantSigs, decoded.ConfidantSigs)
	require.Equal(t, blk.Receipts, decoded.Receipts)
}

func TestFrameHeaderRoundTripDirect(t *testing.T) {
	pk, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	h := FrameHeader{
		Flags:  FlagDirect | FlagSigned,
		Type:   MsgStage1,
		Round:  types.Round(99),
		Sender: pk,
	}
	enc := EncodeFrameHeader(h)
	decoded, n, err := DecodeFrameHeader(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), n)
	require.Equal(t, h.Type, decoded.Type)
	require.Equal(t, h.Round, decoded.Round)
	require.Equal(t, h.Sender, decoded.Sender)
	require.False(t, decoded.Fragmented)
}

func TestFrameHeaderRoundTripFragmented(t *testing.T) {
	pk, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	hh := cryptoutil.Hash256([]byte("fragmented message"))

	h := FrameHeader{
		Type:       MsgTransactionsPacket,
		Round:      types.Round(12),
		Sender:     pk,
		Fragmented: true,
		HeaderHash: hh,
		FragIndex:  2,
		FragTotal:  5,
	}
	enc := EncodeFrameHeader(h)
	decoded, n, err := DecodeFrameHeader(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), n)
	require.True(t, decoded.Fragmented)
	require.Equal(t, hh, decoded.HeaderHash)
	require.Equal(t, uint16(2), decoded.FragIndex)
	require.Equal(t, uint16(5), decoded.FragTotal)
}

func TestFrameHeaderRejectsBadFragmentIndex(t *testing.T) {
	h := FrameHeader{Fragmented: true, FragIndex: 5, FragTotal: 5}
	enc := EncodeFrameHeader(h)
	_, _, err := DecodeFrameHeader(enc)
	require.Error(t, err)
}

func TestPackRequestRoundTrip(t *testing.T) {
	hh := cryptoutil.Hash256([]byte("missing"))
	p := PackRequest{HeaderHash: hh, Start: 3, Missing: 0b1011}
	enc := EncodePackRequest(p)
	decoded, err := DecodePackRequest(enc)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestPackInformRoundTrip(t *testing.T) {
	hh := cryptoutil.Hash256([]byte("informed"))
	enc := EncodePackInform(PackInform{HeaderHash: hh})
	decoded, err := DecodePackInform(enc)
	require.NoError(t, err)
	require.Equal(t, hh, decoded.HeaderHash)
}

func TestStageRequestRoundTrip(t *testing.T) {
	var requester, required types.NodeID
	copy(requester[:], []byte("requester-node-id-01"))
	copy(required[:], []byte("required-node-id-001"))

	sr := StageRequest{MsgType: MsgStageRequest, Requester: requester, Required: required}
	enc := EncodeStageRequest(sr)
	decoded, err := DecodeStageRequest(enc)
	require.NoError(t, err)
	require.Equal(t, sr, decoded)
}
