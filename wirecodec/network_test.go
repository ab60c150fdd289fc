// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package wirecodec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
)

func TestRegistrationRoundTrip(t *testing.T) {
	pk, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	reg := Registration{
		ClientVersion:  42,
		BlockchainUUID: cryptoutil.Hash256([]byte("chain")),
		NodeID:         types.NodeID{0xAA, 0xBB},
		PublicKey:      pk,
	}
	enc := EncodeRegistration(reg)
	decoded, err := DecodeRegistration(enc)
	require.NoError(t, err)
	require.Equal(t, reg, decoded)
}

func TestRegistrationConfirmedRoundTrip(t *testing.T) {
	c := RegistrationConfirmed{NodeID: types.NodeID{0x1, 0x2, 0x3}}
	enc := EncodeRegistrationConfirmed(c)
	decoded, err := DecodeRegistrationConfirmed(enc)
	require.NoError(t, err)
	require.Equal(t, c, decoded)
}

func TestRegistrationRefusedRoundTrip(t *testing.T) {
	for _, reason := range []RefuseReason{RefuseBadClientVersion, RefuseIncompatibleBlockchainUUID, RefuseLimitReached} {
		enc := EncodeRegistrationRefused(RegistrationRefused{Reason: reason})
		decoded, err := DecodeRegistrationRefused(enc)
		require.NoError(t, err)
		require.Equal(t, reason, decoded.Reason)
		require.NotEmpty(t, reason.String())
	}
}

func TestPackRenounceRoundTrip(t *testing.T) {
	p := PackRenounce{HeaderHash: cryptoutil.Hash256([]byte("fragmented-message"))}
	enc := EncodePackRenounce(p)
	decoded, err := DecodePackRenounce(enc)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestPackRenounceRejectsShortPayload(t *testing.T) {
	_, err := DecodePackRenounce([]byte{1, 2, 3})
	require.Error(t, err)
}
