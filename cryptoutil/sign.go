// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cryptoutil wraps the Ed25519 and Blake2b primitives the
// consensus engine treats as opaque operations: signature
// verification is pure and depends only on the signed bytes and the
// public key, and hashing is a fixed Blake2b-256 digest.
package cryptoutil

import (
	"crypto/ed25519"
	"errors"

	"github.com/relaynet/cnode/types"
)

var (
	// ErrBadKeyLength is returned when a raw key does not decode to
	// the expected Ed25519 length.
	ErrBadKeyLength = errors.New("cryptoutil: wrong key length")
)

// GenerateKeyPair creates a new Ed25519 key pair.
func GenerateKeyPair() (types.PublicKey, types.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return types.PublicKey{}, types.PrivateKey{}, err
	}
	var pk types.PublicKey
	var sk types.PrivateKey
	copy(pk[:], pub)
	copy(sk[:], priv)
	return pk, sk, nil
}

// Sign signs msg with sk and returns the resulting signature.
func Sign(sk types.PrivateKey, msg []byte) types.Signature {
	sig := ed25519.Sign(ed25519.PrivateKey(sk[:]), msg)
	var out types.Signature
	copy(out[:], sig)
	return out
}

// Verify reports whether sig is a valid signature over msg by pk. It
// is pure: the result depends only on (msg, pk, sig).
func Verify(pk types.PublicKey, msg []byte, sig types.Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig[:])
}

// PrivateKeyPublic extracts the public half of an Ed25519 private key.
func PrivateKeyPublic(sk types.PrivateKey) types.PublicKey {
	full := ed25519.PrivateKey(sk[:])
	pub := full.Public().(ed25519.PublicKey)
	var pk types.PublicKey
	copy(pk[:], pub)
	return pk
}
