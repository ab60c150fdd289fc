// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package cryptoutil

import (
	"golang.org/x/crypto/blake2b"

	"github.com/relaynet/cnode/types"
)

// Hash256 returns the Blake2b-256 digest of data.
func Hash256(data []byte) types.Hash {
	digest := blake2b.Sum256(data)
	return types.Hash(digest)
}

// HashConcat hashes the concatenation of several byte slices without
// an intermediate allocation of the joined buffer where avoidable.
func HashConcat(parts ...[]byte) types.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an oversized key, which we
		// never pass; a panic here would indicate a programming error.
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}
