// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package wirecodec

import (
	"fmt"
	"time"

	"github.com/relaynet/cnode/types"
)

// EncodeBlock produces the canonical little-endian encoding of a
// block: version, previous hash, sequence, round, unix-second
// timestamp, transaction count and bodies, writer signature,
// confidant-signature count and bodies, and receipt count and bodies.
func EncodeBlock(b *types.Block) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, b.Version)
	buf = append(buf, b.PreviousHash[:]...)
	buf = leAppendU64(buf, uint64(b.Sequence))
	buf = leAppendU64(buf, uint64(b.Round))
	buf = leAppendU64(buf, uint64(b.Timestamp.Unix()))

	if len(b.Transactions) > 1<<16-1 {
		return nil, fmt.Errorf("wirecodec: too many transactions in block (%d)", len(b.Transactions))
	}
	buf = leAppendU32(buf, uint32(len(b.Transactions)))
	for i, tx := range b.Transactions {
		enc, err := EncodeTransaction(tx)
		if err != nil {
			return nil, fmt.Errorf("wirecodec: encode block transaction %d: %w", i, err)
		}
		buf = leAppendU32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}

	buf = append(buf, b.WriterSignature[:]...)

	if len(b.ConfidantSigs) > 255 {
		return nil, fmt.Errorf("wirecodec: too many confidant signatures (%d)", len(b.ConfidantSigs))
	}
	buf = append(buf, byte(len(b.ConfidantSigs)))
	for _, sig := range b.ConfidantSigs {
		buf = append(buf, sig[:]...)
	}

	buf = leAppendU32(buf, uint32(len(b.Receipts)))
	for _, r := range b.Receipts {
		refBytes := r.Ref.Bytes()
		buf = append(buf, refBytes[:]...)
		buf = leAppendU32(buf, uint32(len(r.Emitted)))
		for _, txID := range r.Emitted {
			buf = append(buf, txID.BlockHash[:]...)
			buf = leAppendU32(buf, txID.Index)
		}
	}
	return buf, nil
}

// DecodeBlock parses the encoding produced by EncodeBlock.
func DecodeBlock(raw []byte) (*types.Block, error) {
	r := &reader{buf: raw}
	version, err := r.u8()
	if err != nil {
		return nil, err
	}
	var prevHash types.Hash
	if err := r.fixed(prevHash[:]); err != nil {
		return nil, err
	}
	seq, err := r.u64()
	if err != nil {
		return nil, err
	}
	round, err := r.u64()
	if err != nil {
		return nil, err
	}
	ts, err := r.u64()
	if err != nil {
		return nil, err
	}
	txCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	txs := make([]*types.Transaction, 0, txCount)
	for i := uint32(0); i < txCount; i++ {
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		raw, err := r.take(int(n))
		if err != nil {
			return nil, err
		}
		tx, _, err := DecodeTransaction(raw)
		if err != nil {
			return nil, fmt.Errorf("wirecodec: decode block transaction %d: %w", i, err)
		}
		txs = append(txs, tx)
	}

	var writerSig types.Signature
	if err := r.fixed(writerSig[:]); err != nil {
		return nil, err
	}
	sigCount, err := r.u8()
	if err != nil {
		return nil, err
	}
	confidantSigs := make([]types.Signature, 0, sigCount)
	for i := 0; i < int(sigCount); i++ {
		var sig types.Signature
		if err := r.fixed(sig[:]); err != nil {
			return nil, err
		}
		confidantSigs = append(confidantSigs, sig)
	}

	receiptCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	receipts := make([]types.ExecutionReceipt, 0, receiptCount)
	for i := uint32(0); i < receiptCount; i++ {
		var refBytes [12]byte
		if err := r.fixed(refBytes[:]); err != nil {
			return nil, err
		}
		ref := types.SmartContractRef{
			Sequence: types.Sequence(leUint64FromArray(refBytes[0:8])),
			Index:    leUint32FromArray(refBytes[8:12]),
		}
		emittedCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		emitted := make([]types.TransactionID, 0, emittedCount)
		for j := uint32(0); j < emittedCount; j++ {
			var txID types.TransactionID
			if err := r.fixed(txID.BlockHash[:]); err != nil {
				return nil, err
			}
			idx, err := r.u32()
			if err != nil {
				return nil, err
			}
			txID.Index = idx
			emitted = append(emitted, txID)
		}
		receipts = append(receipts, types.ExecutionReceipt{Ref: ref, Emitted: emitted})
	}

	return &types.Block{
		Version:         version,
		PreviousHash:    prevHash,
		Sequence:        types.Sequence(seq),
		Round:           types.Round(round),
		Timestamp:       time.Unix(int64(ts), 0).UTC(),
		Transactions:    txs,
		WriterSignature: writerSig,
		ConfidantSigs:   confidantSigs,
		Receipts:        receipts,
	}, nil
}

func leUint64FromArray(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32FromArray(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}
