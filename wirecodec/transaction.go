// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wirecodec implements the canonical, little-endian binary
// encoding for transactions, blocks and wire frames. Signing,
// hashing and the network all share this one layout, so a
// transaction's signature, its packet's identity and its on-disk
// bytes never disagree.
package wirecodec

import (
	"encoding/binary"
	"fmt"

	"github.com/relaynet/cnode/types"
)

const (
	sourceIsWalletIDBit = uint32(1) << 31
	targetIsWalletIDBit = uint32(1) << 30
	innerIDHiMask       = uint32(1)<<30 - 1
)

// EncodeTransaction produces the full canonical encoding of tx,
// including counted_fee, signature and the user_fields count prefix.
func EncodeTransaction(tx *types.Transaction) ([]byte, error) {
	var buf []byte
	var err error
	buf, err = encodeTransactionBody(tx, true)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeTransactionForSigning produces the bytes-for-signature variant:
// counted_fee, signature, and the user_fields count prefix are
// omitted, and only user fields with a non-negative id are packed.
// See DESIGN.md for why this is treated as the intended behavior
// rather than the original's ambiguous offset-splice.
func EncodeTransactionForSigning(tx *types.Transaction) ([]byte, error) {
	return encodeTransactionBody(tx, false)
}

func encodeTransactionBody(tx *types.Transaction, full bool) ([]byte, error) {
	if tx.InnerID >= 1<<46 {
		return nil, fmt.Errorf("wirecodec: inner id %d exceeds 46 bits", tx.InnerID)
	}
	buf := make([]byte, 0, 128)

	lo := uint16(tx.InnerID & 0xFFFF)
	hi := uint32((tx.InnerID >> 16) & uint64(innerIDHiMask))
	if tx.Source.IsWalletID() {
		hi |= sourceIsWalletIDBit
	}
	if tx.Target.IsWalletID() {
		hi |= targetIsWalletIDBit
	}
	buf = leAppendU16(buf, lo)
	buf = leAppendU32(buf, hi)

	buf, err := appendAddress(buf, tx.Source)
	if err != nil {
		return nil, err
	}
	buf, err = appendAddress(buf, tx.Target)
	if err != nil {
		return nil, err
	}

	buf = appendAmount(buf, tx.Amount)
	buf = appendAmount(buf, tx.MaxFee)
	buf = append(buf, byte(tx.Currency))

	fields := tx.UserFields
	if !full {
		filtered := make([]types.UserField, 0, len(fields))
		for _, f := range fields {
			if f.ID >= 0 {
				filtered = append(filtered, f)
			}
		}
		fields = filtered
	}

	if full {
		if len(fields) > 255 {
			return nil, fmt.Errorf("wirecodec: too many user fields (%d)", len(fields))
		}
		buf = append(buf, byte(len(fields)))
	}
	for _, f := range fields {
		buf, err = appendUserField(buf, f)
		if err != nil {
			return nil, err
		}
	}

	if full {
		buf = append(buf, tx.Signature[:]...)
		buf = appendAmount(buf, tx.CountedFee)
	}
	return buf, nil
}

func appendAddress(buf []byte, a types.Address) ([]byte, error) {
	if a.IsWalletID() {
		return leAppendU32(buf, a.WalletID), nil
	}
	return append(buf, a.Key[:]...), nil
}

func appendAmount(buf []byte, a types.Amount) []byte {
	buf = leAppendU64(buf, uint64(a.Integer))
	buf = leAppendU64(buf, a.Fraction)
	return buf
}

func appendUserField(buf []byte, f types.UserField) ([]byte, error) {
	buf = leAppendU32(buf, uint32(f.ID))
	buf = append(buf, byte(f.Tag))
	switch f.Tag {
	case types.UserFieldInteger:
		buf = leAppendU64(buf, uint64(f.Int))
	case types.UserFieldAmount:
		buf = appendAmount(buf, f.Amt)
	case types.UserFieldBytes:
		buf = leAppendU32(buf, uint32(len(f.Bytes)))
		buf = append(buf, f.Bytes...)
	case types.UserFieldTransaction:
		if f.Tx == nil {
			return nil, fmt.Errorf("wirecodec: nil nested transaction in user field %d", f.ID)
		}
		nested, err := EncodeTransaction(f.Tx)
		if err != nil {
			return nil, fmt.Errorf("wirecodec: encode nested transaction: %w", err)
		}
		buf = leAppendU32(buf, uint32(len(nested)))
		buf = append(buf, nested...)
	default:
		return nil, fmt.Errorf("wirecodec: unknown user field tag %d", f.Tag)
	}
	return buf, nil
}

// DecodeTransaction parses the full canonical encoding produced by
// EncodeTransaction. decode(encode(tx)) == tx for every valid tx.
func DecodeTransaction(b []byte) (*types.Transaction, int, error) {
	r := &reader{buf: b}
	lo, err := r.u16()
	if err != nil {
		return nil, 0, err
	}
	hi, err := r.u32()
	if err != nil {
		return nil, 0, err
	}
	innerID := uint64(hi&innerIDHiMask)<<16 | uint64(lo)
	sourceIsWallet := hi&sourceIsWalletIDBit != 0
	targetIsWallet := hi&targetIsWalletIDBit != 0

	source, err := readAddress(r, sourceIsWallet)
	if err != nil {
		return nil, 0, err
	}
	target, err := readAddress(r, targetIsWallet)
	if err != nil {
		return nil, 0, err
	}
	amount, err := readAmount(r)
	if err != nil {
		return nil, 0, err
	}
	maxFee, err := readAmount(r)
	if err != nil {
		return nil, 0, err
	}
	currencyByte, err := r.u8()
	if err != nil {
		return nil, 0, err
	}
	count, err := r.u8()
	if err != nil {
		return nil, 0, err
	}
	fields := make([]types.UserField, 0, count)
	for i := 0; i < int(count); i++ {
		f, err := readUserField(r)
		if err != nil {
			return nil, 0, err
		}
		fields = append(fields, f)
	}
	var sig types.Signature
	if err := r.fixed(sig[:]); err != nil {
		return nil, 0, err
	}
	countedFee, err := readAmount(r)
	if err != nil {
		return nil, 0, err
	}

	tx := &types.Transaction{
		InnerID:    innerID,
		Source:     source,
		Target:     target,
		Currency:   types.Currency(currencyByte),
		Amount:     amount,
		MaxFee:     maxFee,
		CountedFee: countedFee,
		UserFields: fields,
		Signature:  sig,
	}
	tx.Seal()
	return tx, r.pos, nil
}

func readAddress(r *reader, isWallet bool) (types.Address, error) {
	if isWallet {
		id, err := r.u32()
		if err != nil {
			return types.Address{}, err
		}
		return types.AddressFromWalletID(id), nil
	}
	var k types.PublicKey
	if err := r.fixed(k[:]); err != nil {
		return types.Address{}, err
	}
	return types.AddressFromKey(k), nil
}

func readAmount(r *reader) (types.Amount, error) {
	integer, err := r.u64()
	if err != nil {
		return types.Amount{}, err
	}
	fraction, err := r.u64()
	if err != nil {
		return types.Amount{}, err
	}
	return types.Amount{Integer: int64(integer), Fraction: fraction}, nil
}

func readUserField(r *reader) (types.UserField, error) {
	id, err := r.u32()
	if err != nil {
		return types.UserField{}, err
	}
	tagByte, err := r.u8()
	if err != nil {
		return types.UserField{}, err
	}
	f := types.UserField{ID: int32(id), Tag: types.UserFieldTag(tagByte)}
	switch f.Tag {
	case types.UserFieldInteger:
		v, err := r.u64()
		if err != nil {
			return types.UserField{}, err
		}
		f.Int = int64(v)
	case types.UserFieldAmount:
		a, err := readAmount(r)
		if err != nil {
			return types.UserField{}, err
		}
		f.Amt = a
	case types.UserFieldBytes:
		n, err := r.u32()
		if err != nil {
			return types.UserField{}, err
		}
		b, err := r.take(int(n))
		if err != nil {
			return types.UserField{}, err
		}
		f.Bytes = append([]byte(nil), b...)
	case types.UserFieldTransaction:
		n, err := r.u32()
		if err != nil {
			return types.UserField{}, err
		}
		b, err := r.take(int(n))
		if err != nil {
			return types.UserField{}, err
		}
		nested, _, err := DecodeTransaction(b)
		if err != nil {
			return types.UserField{}, fmt.Errorf("wirecodec: decode nested transaction: %w", err)
		}
		f.Tx = nested
	default:
		return types.UserField{}, fmt.Errorf("wirecodec: unknown user field tag %d", tagByte)
	}
	return f, nil
}

// --- little-endian primitives ---

type reader struct {
	buf []byte
	pos int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("wirecodec: short buffer at offset %d wanting %d bytes", r.pos, n)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) fixed(dst []byte) error {
	b, err := r.take(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func leAppendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func leAppendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func leAppendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
