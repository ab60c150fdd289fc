// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package cryptoutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/relaynet/cnode/types"
)

// Key files live next to each other in the node's keys directory.
const (
	PublicKeyFileName  = "NodePublic.txt"
	PrivateKeyFileName = "NodePrivate.txt"
)

// LoadKeyFiles reads the public/private key pair from the two
// single-Base58-line files in dir. If they do not exist, the
// configuration layer is expected to call GenerateAndSaveKeyFiles once
// and retry.
func LoadKeyFiles(dir string) (types.PublicKey, types.PrivateKey, error) {
	pub, err := readKeyFile(dir+"/"+PublicKeyFileName, 32)
	if err != nil {
		return types.PublicKey{}, types.PrivateKey{}, fmt.Errorf("cryptoutil: read public key: %w", err)
	}
	priv, err := readKeyFile(dir+"/"+PrivateKeyFileName, 64)
	if err != nil {
		return types.PublicKey{}, types.PrivateKey{}, fmt.Errorf("cryptoutil: read private key: %w", err)
	}
	var pk types.PublicKey
	var sk types.PrivateKey
	copy(pk[:], pub)
	copy(sk[:], priv)
	return pk, sk, nil
}

// GenerateAndSaveKeyFiles creates a fresh key pair and writes it to
// dir as NodePublic.txt/NodePrivate.txt, each a single Base58 line.
func GenerateAndSaveKeyFiles(dir string) (types.PublicKey, types.PrivateKey, error) {
	pk, sk, err := GenerateKeyPair()
	if err != nil {
		return types.PublicKey{}, types.PrivateKey{}, err
	}
	if err := writeKeyFile(dir+"/"+PublicKeyFileName, pk[:]); err != nil {
		return types.PublicKey{}, types.PrivateKey{}, err
	}
	if err := writeKeyFile(dir+"/"+PrivateKeyFileName, sk[:]); err != nil {
		return types.PublicKey{}, types.PrivateKey{}, err
	}
	return pk, sk, nil
}

func readKeyFile(path string, wantLen int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	line := strings.TrimSpace(string(raw))
	decoded, err := base58.Decode(line)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 in %s: %w", path, err)
	}
	if len(decoded) != wantLen {
		return nil, fmt.Errorf("%s: %w (got %d, want %d)", path, ErrBadKeyLength, len(decoded), wantLen)
	}
	return decoded, nil
}

func writeKeyFile(path string, raw []byte) error {
	line := base58.Encode(raw) + "\n"
	return os.WriteFile(path, []byte(line), 0o600)
}
