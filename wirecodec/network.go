// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package wirecodec

import (
	"fmt"

	"github.com/relaynet/cnode/types"
)

// NetworkCommand enumerates the network-level (handshake and
// redirect-protocol) commands carried by packets with FlagNetwork set,
// whose 1-byte command code follows immediately after the frame
// header's flags byte.
type NetworkCommand uint8

const (
	CmdRegistration NetworkCommand = iota
	CmdRegistrationConfirmed
	CmdRegistrationRefused
	CmdPing
	CmdPackInform
	CmdPackRequest
	CmdPackRenounce
)

// RefuseReason enumerates why a Registration was refused.
type RefuseReason uint8

const (
	RefuseBadClientVersion RefuseReason = iota
	RefuseIncompatibleBlockchainUUID
	RefuseLimitReached
)

// String names a RefuseReason for logs and test failures.
func (r RefuseReason) String() string {
	switch r {
	case RefuseBadClientVersion:
		return "bad-client-version"
	case RefuseIncompatibleBlockchainUUID:
		return "incompatible-blockchain-uuid"
	case RefuseLimitReached:
		return "limit-reached"
	default:
		return "unknown"
	}
}

// Registration is the first step of the neighbour handshake.
type Registration struct {
	ClientVersion  uint32
	BlockchainUUID types.Hash
	NodeID         types.NodeID
	PublicKey      types.PublicKey
}

// EncodeRegistration serializes a Registration command payload.
func EncodeRegistration(r Registration) []byte {
	buf := make([]byte, 0, 4+32+len(r.NodeID[:])+32)
	buf = leAppendU32(buf, r.ClientVersion)
	buf = append(buf, r.BlockchainUUID[:]...)
	buf = append(buf, r.NodeID[:]...)
	buf = append(buf, r.PublicKey[:]...)
	return buf
}

// DecodeRegistration parses the payload produced by EncodeRegistration.
func DecodeRegistration(raw []byte) (Registration, error) {
	r := &reader{buf: raw}
	var reg Registration
	version, err := r.u32()
	if err != nil {
		return reg, err
	}
	if err := r.fixed(reg.BlockchainUUID[:]); err != nil {
		return reg, err
	}
	if err := r.fixed(reg.NodeID[:]); err != nil {
		return reg, err
	}
	if err := r.fixed(reg.PublicKey[:]); err != nil {
		return reg, err
	}
	reg.ClientVersion = version
	return reg, nil
}

// RegistrationConfirmed is the handshake's successful second step.
type RegistrationConfirmed struct {
	NodeID types.NodeID
}

// EncodeRegistrationConfirmed serializes a RegistrationConfirmed
// command payload.
func EncodeRegistrationConfirmed(c RegistrationConfirmed) []byte {
	buf := make([]byte, 0, len(c.NodeID[:]))
	return append(buf, c.NodeID[:]...)
}

// DecodeRegistrationConfirmed parses the payload produced by
// EncodeRegistrationConfirmed.
func DecodeRegistrationConfirmed(raw []byte) (RegistrationConfirmed, error) {
	var c RegistrationConfirmed
	if err := (&reader{buf: raw}).fixed(c.NodeID[:]); err != nil {
		return c, err
	}
	return c, nil
}

// RegistrationRefused is the handshake's unsuccessful second step.
type RegistrationRefused struct {
	Reason RefuseReason
}

// EncodeRegistrationRefused serializes a RegistrationRefused command
// payload.
func EncodeRegistrationRefused(r RegistrationRefused) []byte {
	return []byte{byte(r.Reason)}
}

// DecodeRegistrationRefused parses the payload produced by
// EncodeRegistrationRefused.
func DecodeRegistrationRefused(raw []byte) (RegistrationRefused, error) {
	b, err := (&reader{buf: raw}).u8()
	if err != nil {
		return RegistrationRefused{}, err
	}
	return RegistrationRefused{Reason: RefuseReason(b)}, nil
}

// PackRenounce is a requestee's decline of a PackRequest it cannot
// satisfy (it never had, or has since dropped, the fragments asked
// for), telling the requester to try a different advertiser.
type PackRenounce struct {
	HeaderHash types.Hash
}

// EncodePackRenounce serializes a PackRenounce command payload.
func EncodePackRenounce(p PackRenounce) []byte {
	buf := make([]byte, 0, 32)
	return append(buf, p.HeaderHash[:]...)
}

// DecodePackRenounce parses the payload produced by EncodePackRenounce.
func DecodePackRenounce(raw []byte) (PackRenounce, error) {
	if len(raw) < 32 {
		return PackRenounce{}, fmt.Errorf("wirecodec: short PackRenounce payload (%d bytes)", len(raw))
	}
	var p PackRenounce
	copy(p.HeaderHash[:], raw[:32])
	return p, nil
}
