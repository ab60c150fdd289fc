// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package wirecodec

import (
	"fmt"

	"github.com/relaynet/cnode/types"
)

// Flags bits for the 1-byte wire packet header.
const (
	FlagNetwork    uint8 = 1 << 0 // network-level packet, not a node packet
	FlagDirect     uint8 = 1 << 1 // direct send, vs broadcast
	FlagFragmented uint8 = 1 << 2
	FlagCompressed uint8 = 1 << 3
	FlagEncrypted  uint8 = 1 << 4
	FlagSigned     uint8 = 1 << 5
)

// MessageType enumerates the node-packet message types carried in the
// 2-byte type field.
type MessageType uint16

const (
	MsgStage1 MessageType = iota
	MsgStage2
	MsgStage3
	MsgStageRequest
	MsgTransactionsPacket
	MsgPackInform
	MsgPackRequest
	MsgNewCharacteristic
	MsgBlockSync
	MsgBigBang
	MsgRoundTable
	MsgRoundTableRequest
	MsgRoundTableReply
	MsgBlockRequest
	MsgRequestedBlock
	MsgTransactionsPacketRequest
)

// FrameHeader is the parsed form of a packet's wire header, common to
// both direct/broadcast and fragmented packets.
type FrameHeader struct {
	Flags        uint8
	Type         MessageType
	Round        types.Round
	Sender       types.PublicKey
	Fragmented   bool
	HeaderHash   types.Hash
	FragIndex    uint16
	FragTotal    uint16
}

// EncodeFrameHeader serializes h. Callers append the payload (or, for
// a fragmented message, the fragment's slice of the payload) after the
// returned bytes.
func EncodeFrameHeader(h FrameHeader) []byte {
	flags := h.Flags &^ (FlagFragmented) // recomputed below from h.Fragmented
	if h.Fragmented {
		flags |= FlagFragmented
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, flags)
	if flags&FlagNetwork == 0 {
		buf = leAppendU16(buf, uint16(h.Type))
		buf = leAppendU64(buf, uint64(h.Round))
		buf = append(buf, h.Sender[:]...)
	}
	if h.Fragmented {
		buf = append(buf, h.HeaderHash[:]...)
		buf = leAppendU16(buf, h.FragIndex)
		buf = leAppendU16(buf, h.FragTotal)
	}
	return buf
}

// DecodeFrameHeader parses a wire header from the front of raw,
// returning the header and the number of bytes consumed so the caller
// can slice the remaining payload.
func DecodeFrameHeader(raw []byte) (FrameHeader, int, error) {
	r := &reader{buf: raw}
	flags, err := r.u8()
	if err != nil {
		return FrameHeader{}, 0, err
	}
	h := FrameHeader{Flags: flags}
	if flags&FlagNetwork == 0 {
		typ, err := r.u16()
		if err != nil {
			return FrameHeader{}, 0, err
		}
		round, err := r.u64()
		if err != nil {
			return FrameHeader{}, 0, err
		}
		if err := r.fixed(h.Sender[:]); err != nil {
			return FrameHeader{}, 0, err
		}
		h.Type = MessageType(typ)
		h.Round = types.Round(round)
	}
	if flags&FlagFragmented != 0 {
		h.Fragmented = true
		if err := r.fixed(h.HeaderHash[:]); err != nil {
			return FrameHeader{}, 0, err
		}
		idx, err := r.u16()
		if err != nil {
			return FrameHeader{}, 0, err
		}
		total, err := r.u16()
		if err != nil {
			return FrameHeader{}, 0, err
		}
		if total == 0 || idx >= total {
			return FrameHeader{}, 0, fmt.Errorf("wirecodec: malformed fragment index %d/%d", idx, total)
		}
		h.FragIndex = idx
		h.FragTotal = total
	}
	return h, r.pos, nil
}

// StageRequest is the recovery message a confidant sends when it has
// not received an expected stage message within the round timeout
//.
type StageRequest struct {
	MsgType   MessageType
	Requester types.NodeID
	Required  types.NodeID
}

// EncodeStageRequest serializes a StageRequest payload (the frame
// header is applied separately by the transport layer).
func EncodeStageRequest(sr StageRequest) []byte {
	buf := make([]byte, 0, 2+len(sr.Requester[:])+len(sr.Required[:]))
	buf = leAppendU16(buf, uint16(sr.MsgType))
	buf = append(buf, sr.Requester[:]...)
	buf = append(buf, sr.Required[:]...)
	return buf
}

// DecodeStageRequest parses the payload produced by EncodeStageRequest.
func DecodeStageRequest(raw []byte) (StageRequest, error) {
	r := &reader{buf: raw}
	typ, err := r.u16()
	if err != nil {
		return StageRequest{}, err
	}
	var sr StageRequest
	sr.MsgType = MessageType(typ)
	if err := r.fixed(sr.Requester[:]); err != nil {
		return StageRequest{}, err
	}
	if err := r.fixed(sr.Required[:]); err != nil {
		return StageRequest{}, err
	}
	return sr, nil
}

// PackRequest asks the source of a fragmented message to resend the
// fragments missing for header-hash, starting at Start and named by
// the bitmask Missing (bit i set means fragment Start+i is missing).
type PackRequest struct {
	HeaderHash types.Hash
	Start      uint16
	Missing    uint64
}

// EncodePackRequest serializes a PackRequest payload.
func EncodePackRequest(p PackRequest) []byte {
	buf := make([]byte, 0, 32+2+8)
	buf = append(buf, p.HeaderHash[:]...)
	buf = leAppendU16(buf, p.Start)
	buf = leAppendU64(buf, p.Missing)
	return buf
}

// DecodePackRequest parses the payload produced by EncodePackRequest.
func DecodePackRequest(raw []byte) (PackRequest, error) {
	r := &reader{buf: raw}
	var p PackRequest
	if err := r.fixed(p.HeaderHash[:]); err != nil {
		return PackRequest{}, err
	}
	start, err := r.u16()
	if err != nil {
		return PackRequest{}, err
	}
	missing, err := r.u64()
	if err != nil {
		return PackRequest{}, err
	}
	p.Start = start
	p.Missing = missing
	return p, nil
}

// PackInform is the redirect-protocol advertisement a peer broadcasts
// after receiving a non-direct packet, carrying only the packet's hash
// so others can request missing fragments from the advertiser.
type PackInform struct {
	HeaderHash types.Hash
}

// EncodePackInform serializes a PackInform payload.
func EncodePackInform(p PackInform) []byte {
	buf := make([]byte, 0, 32)
	return append(buf, p.HeaderHash[:]...)
}

// DecodePackInform parses the payload produced by EncodePackInform.
func DecodePackInform(raw []byte) (PackInform, error) {
	if len(raw) < 32 {
		return PackInform{}, fmt.Errorf("wirecodec: short PackInform payload (%d bytes)", len(raw))
	}
	var p PackInform
	copy(p.HeaderHash[:], raw[:32])
	return p, nil
}
