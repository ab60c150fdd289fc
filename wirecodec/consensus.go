// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package wirecodec

import (
	"fmt"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
)

// EncodeStage1 serializes a Stage1 payload (the frame header, carrying
// round and sender key, is applied separately by transport).
func EncodeStage1(s types.Stage1) ([]byte, error) {
	if len(s.NextCandidates) > 255 {
		return nil, fmt.Errorf("wirecodec: too many next-round candidates (%d)", len(s.NextCandidates))
	}
	buf := make([]byte, 0, 8+2+32+1+32*len(s.NextCandidates)+64)
	buf = leAppendU64(buf, uint64(s.Round))
	buf = leAppendU16(buf, s.SenderIndex)
	buf = append(buf, s.MaskHash[:]...)
	buf = append(buf, byte(len(s.NextCandidates)))
	for _, c := range s.NextCandidates {
		buf = append(buf, c[:]...)
	}
	buf = append(buf, s.Signature[:]...)
	return buf, nil
}

// DecodeStage1 parses the payload produced by EncodeStage1.
func DecodeStage1(raw []byte) (types.Stage1, error) {
	r := &reader{buf: raw}
	var s types.Stage1
	round, err := r.u64()
	if err != nil {
		return s, err
	}
	idx, err := r.u16()
	if err != nil {
		return s, err
	}
	if err := r.fixed(s.MaskHash[:]); err != nil {
		return s, err
	}
	n, err := r.u8()
	if err != nil {
		return s, err
	}
	candidates := make([]types.PublicKey, n)
	for i := range candidates {
		if err := r.fixed(candidates[i][:]); err != nil {
			return s, err
		}
	}
	if err := r.fixed(s.Signature[:]); err != nil {
		return s, err
	}
	s.Round = types.Round(round)
	s.SenderIndex = idx
	if n > 0 {
		s.NextCandidates = candidates
	}
	return s, nil
}

// EncodeStage2 serializes a Stage2 payload.
func EncodeStage2(s types.Stage2) ([]byte, error) {
	if len(s.Collected) > 255 {
		return nil, fmt.Errorf("wirecodec: too many collected Stage1s (%d)", len(s.Collected))
	}
	buf := make([]byte, 0, 8+2+1+64)
	buf = leAppendU64(buf, uint64(s.Round))
	buf = leAppendU16(buf, s.SenderIndex)
	buf = append(buf, byte(len(s.Collected)))
	for _, c := range s.Collected {
		enc, err := EncodeStage1(c)
		if err != nil {
			return nil, fmt.Errorf("wirecodec: encode collected stage1: %w", err)
		}
		buf = leAppendU32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}
	buf = append(buf, s.Signature[:]...)
	return buf, nil
}

// DecodeStage2 parses the payload produced by EncodeStage2.
func DecodeStage2(raw []byte) (types.Stage2, error) {
	r := &reader{buf: raw}
	var s types.Stage2
	round, err := r.u64()
	if err != nil {
		return s, err
	}
	idx, err := r.u16()
	if err != nil {
		return s, err
	}
	n, err := r.u8()
	if err != nil {
		return s, err
	}
	collected := make([]types.Stage1, n)
	for i := range collected {
		size, err := r.u32()
		if err != nil {
			return s, err
		}
		body, err := r.take(int(size))
		if err != nil {
			return s, err
		}
		s1, err := DecodeStage1(body)
		if err != nil {
			return s, fmt.Errorf("wirecodec: decode collected stage1 %d: %w", i, err)
		}
		collected[i] = s1
	}
	if err := r.fixed(s.Signature[:]); err != nil {
		return s, err
	}
	s.Round = types.Round(round)
	s.SenderIndex = idx
	if n > 0 {
		s.Collected = collected
	}
	return s, nil
}

// EncodeStage3 serializes a Stage3 payload.
func EncodeStage3(s types.Stage3) ([]byte, error) {
	if len(s.RealTrusted) > 1<<16-1 {
		return nil, fmt.Errorf("wirecodec: too many real-trusted entries (%d)", len(s.RealTrusted))
	}
	buf := make([]byte, 0, 8+2+2+2+len(s.RealTrusted)+64+64)
	buf = leAppendU64(buf, uint64(s.Round))
	buf = leAppendU16(buf, s.SenderIndex)
	buf = leAppendU16(buf, s.WriterIndex)
	buf = leAppendU16(buf, uint16(len(s.RealTrusted)))
	for _, b := range s.RealTrusted {
		if b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	buf = append(buf, s.BlockSig[:]...)
	buf = append(buf, s.Signature[:]...)
	return buf, nil
}

// DecodeStage3 parses the payload produced by EncodeStage3.
func DecodeStage3(raw []byte) (types.Stage3, error) {
	r := &reader{buf: raw}
	var s types.Stage3
	round, err := r.u64()
	if err != nil {
		return s, err
	}
	idx, err := r.u16()
	if err != nil {
		return s, err
	}
	writerIdx, err := r.u16()
	if err != nil {
		return s, err
	}
	n, err := r.u16()
	if err != nil {
		return s, err
	}
	trusted := make([]bool, n)
	for i := range trusted {
		b, err := r.u8()
		if err != nil {
			return s, err
		}
		trusted[i] = b != 0
	}
	if err := r.fixed(s.BlockSig[:]); err != nil {
		return s, err
	}
	if err := r.fixed(s.Signature[:]); err != nil {
		return s, err
	}
	s.Round = types.Round(round)
	s.SenderIndex = idx
	s.WriterIndex = writerIdx
	if n > 0 {
		s.RealTrusted = trusted
	}
	return s, nil
}

// EncodeRoundTable serializes a round table, used to disseminate
// BigBang's accompanying table and catch-up RoundTableReply.
func EncodeRoundTable(t types.RoundTable) ([]byte, error) {
	if len(t.Confidants) > 255 || len(t.Hashes) > 1<<16-1 {
		return nil, fmt.Errorf("wirecodec: round table too large to encode")
	}
	buf := make([]byte, 0, 8+32+1+32*len(t.Confidants)+2+32*len(t.Hashes))
	buf = leAppendU64(buf, uint64(t.Round))
	buf = append(buf, t.General[:]...)
	buf = append(buf, byte(len(t.Confidants)))
	for _, c := range t.Confidants {
		buf = append(buf, c[:]...)
	}
	buf = leAppendU16(buf, uint16(len(t.Hashes)))
	for _, h := range t.Hashes {
		buf = append(buf, h[:]...)
	}
	return buf, nil
}

// DecodeRoundTable parses the payload produced by EncodeRoundTable.
func DecodeRoundTable(raw []byte) (types.RoundTable, error) {
	r := &reader{buf: raw}
	return decodeRoundTableFrom(r)
}

// decodeRoundTableFrom reads a round table from r, leaving r positioned
// just past it so callers embedding a table in a larger payload (such
// as BigBang) can continue decoding without re-deriving its length.
func decodeRoundTableFrom(r *reader) (types.RoundTable, error) {
	var t types.RoundTable
	round, err := r.u64()
	if err != nil {
		return t, err
	}
	if err := r.fixed(t.General[:]); err != nil {
		return t, err
	}
	cn, err := r.u8()
	if err != nil {
		return t, err
	}
	confidants := make([]types.PublicKey, cn)
	for i := range confidants {
		if err := r.fixed(confidants[i][:]); err != nil {
			return t, err
		}
	}
	hn, err := r.u16()
	if err != nil {
		return t, err
	}
	hashes := make([]types.Hash, hn)
	for i := range hashes {
		if err := r.fixed(hashes[i][:]); err != nil {
			return t, err
		}
	}
	t.Round = types.Round(round)
	if cn > 0 {
		t.Confidants = confidants
	}
	if hn > 0 {
		t.Hashes = hashes
	}
	return t, nil
}

// EncodeBigBang serializes a BigBang payload.
func EncodeBigBang(bb types.BigBang) ([]byte, error) {
	table, err := EncodeRoundTable(bb.Table)
	if err != nil {
		return nil, fmt.Errorf("wirecodec: encode big-bang table: %w", err)
	}
	buf := make([]byte, 0, 8+len(table)+64)
	buf = leAppendU64(buf, uint64(bb.Round))
	buf = append(buf, table...)
	buf = append(buf, bb.Signature[:]...)
	return buf, nil
}

// DecodeBigBang parses the payload produced by EncodeBigBang.
func DecodeBigBang(raw []byte) (types.BigBang, error) {
	r := &reader{buf: raw}
	var bb types.BigBang
	round, err := r.u64()
	if err != nil {
		return bb, err
	}
	table, err := decodeRoundTableFrom(r)
	if err != nil {
		return bb, fmt.Errorf("wirecodec: decode big-bang table: %w", err)
	}
	if err := r.fixed(bb.Signature[:]); err != nil {
		return bb, err
	}
	bb.Round = types.Round(round)
	bb.Table = table
	return bb, nil
}

// NewCharacteristic is the writer's finalize announcement: peers pull
// the block itself on demand via BlockRequest/RequestedBlock.
type NewCharacteristic struct {
	Round     types.Round
	Mask      types.CharacteristicMask
	BlockHash types.Hash
}

// EncodeNewCharacteristic serializes a NewCharacteristic payload.
func EncodeNewCharacteristic(nc NewCharacteristic) ([]byte, error) {
	if len(nc.Mask) > 1<<16-1 {
		return nil, fmt.Errorf("wirecodec: characteristic mask too long to encode (%d)", len(nc.Mask))
	}
	buf := make([]byte, 0, 8+2+len(nc.Mask)+32)
	buf = leAppendU64(buf, uint64(nc.Round))
	buf = leAppendU16(buf, uint16(len(nc.Mask)))
	buf = append(buf, maskBytesWire(nc.Mask)...)
	buf = append(buf, nc.BlockHash[:]...)
	return buf, nil
}

// DecodeNewCharacteristic parses the payload produced by
// EncodeNewCharacteristic.
func DecodeNewCharacteristic(raw []byte) (NewCharacteristic, error) {
	r := &reader{buf: raw}
	var nc NewCharacteristic
	round, err := r.u64()
	if err != nil {
		return nc, err
	}
	n, err := r.u16()
	if err != nil {
		return nc, err
	}
	body, err := r.take(int(n))
	if err != nil {
		return nc, err
	}
	mask := make(types.CharacteristicMask, n)
	for i, b := range body {
		mask[i] = types.RejectReason(b)
	}
	if err := r.fixed(nc.BlockHash[:]); err != nil {
		return nc, err
	}
	nc.Round = types.Round(round)
	nc.Mask = mask
	return nc, nil
}

func maskBytesWire(mask types.CharacteristicMask) []byte {
	b := make([]byte, len(mask))
	for i, r := range mask {
		b[i] = byte(r)
	}
	return b
}

// BlockRequest asks a neighbour for a run of sequential blocks during
// sync/catch-up.
type BlockRequest struct {
	Start types.Sequence
	Count uint32
}

// EncodeBlockRequest serializes a BlockRequest payload.
func EncodeBlockRequest(r BlockRequest) []byte {
	buf := make([]byte, 0, 8+4)
	buf = leAppendU64(buf, uint64(r.Start))
	buf = leAppendU32(buf, r.Count)
	return buf
}

// DecodeBlockRequest parses the payload produced by
// EncodeBlockRequest.
func DecodeBlockRequest(raw []byte) (BlockRequest, error) {
	r := &reader{buf: raw}
	start, err := r.u64()
	if err != nil {
		return BlockRequest{}, err
	}
	count, err := r.u32()
	if err != nil {
		return BlockRequest{}, err
	}
	return BlockRequest{Start: types.Sequence(start), Count: count}, nil
}

// EncodeRequestedBlocks serializes the reply to a BlockRequest: a run
// of canonically-encoded blocks.
func EncodeRequestedBlocks(blocks []*types.Block) ([]byte, error) {
	if len(blocks) > 1<<16-1 {
		return nil, fmt.Errorf("wirecodec: too many blocks in one reply (%d)", len(blocks))
	}
	buf := make([]byte, 0, 256*len(blocks))
	buf = leAppendU16(buf, uint16(len(blocks)))
	for i, b := range blocks {
		enc, err := EncodeBlock(b)
		if err != nil {
			return nil, fmt.Errorf("wirecodec: encode requested block %d: %w", i, err)
		}
		buf = leAppendU32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}
	return buf, nil
}

// DecodeRequestedBlocks parses the payload produced by
// EncodeRequestedBlocks.
func DecodeRequestedBlocks(raw []byte) ([]*types.Block, error) {
	r := &reader{buf: raw}
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	blocks := make([]*types.Block, n)
	for i := range blocks {
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		body, err := r.take(int(size))
		if err != nil {
			return nil, err
		}
		block, err := DecodeBlock(body)
		if err != nil {
			return nil, fmt.Errorf("wirecodec: decode requested block %d: %w", i, err)
		}
		blocks[i] = block
	}
	return blocks, nil
}

// PacketHash computes a packet's content hash: Blake2b-256 over the
// concatenated canonical transaction bytes, in order. Identity is
// the hash, so signatures are deliberately excluded.
func PacketHash(txs []*types.Transaction) (types.Hash, error) {
	parts := make([][]byte, len(txs))
	for i, tx := range txs {
		enc, err := EncodeTransaction(tx)
		if err != nil {
			return types.Hash{}, fmt.Errorf("wirecodec: packet hash transaction %d: %w", i, err)
		}
		parts[i] = enc
	}
	return cryptoutil.HashConcat(parts...), nil
}

// EncodeTransactionsPacket serializes a transactions packet for
// network fan-out: transport frames it as
// MsgTransactionsPacket.
func EncodeTransactionsPacket(p *types.TransactionsPacket) ([]byte, error) {
	if len(p.Transactions) > 1<<16-1 || len(p.Signatures) > 255 {
		return nil, fmt.Errorf("wirecodec: transactions packet too large to encode")
	}
	buf := make([]byte, 0, 256*len(p.Transactions))
	buf = append(buf, p.Hash[:]...)
	buf = leAppendU16(buf, uint16(len(p.Transactions)))
	for i, tx := range p.Transactions {
		enc, err := EncodeTransaction(tx)
		if err != nil {
			return nil, fmt.Errorf("wirecodec: encode packet transaction %d: %w", i, err)
		}
		buf = leAppendU32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}
	buf = append(buf, byte(len(p.Signatures)))
	for _, sig := range p.Signatures {
		buf = append(buf, sig[:]...)
	}
	return buf, nil
}

// DecodeTransactionsPacket parses the payload produced by
// EncodeTransactionsPacket.
func DecodeTransactionsPacket(raw []byte) (*types.TransactionsPacket, error) {
	r := &reader{buf: raw}
	p := &types.TransactionsPacket{}
	if err := r.fixed(p.Hash[:]); err != nil {
		return nil, err
	}
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	txs := make([]*types.Transaction, n)
	for i := range txs {
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		body, err := r.take(int(size))
		if err != nil {
			return nil, err
		}
		tx, _, err := DecodeTransaction(body)
		if err != nil {
			return nil, fmt.Errorf("wirecodec: decode packet transaction %d: %w", i, err)
		}
		txs[i] = tx
	}
	sn, err := r.u8()
	if err != nil {
		return nil, err
	}
	sigs := make([]types.Signature, sn)
	for i := range sigs {
		if err := r.fixed(sigs[i][:]); err != nil {
			return nil, err
		}
	}
	p.Transactions = txs
	if sn > 0 {
		p.Signatures = sigs
	}
	return p, nil
}
