// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"encoding/binary"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
)

// DeriveContractAddress computes the deterministic contract address a
// deploy transaction's target must equal:
// Blake2b-256 over the deployer's public key, its inner-id, and the
// deploy payload.
func DeriveContractAddress(deployer types.PublicKey, innerID uint64, payload []byte) types.Address {
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], innerID)
	h := cryptoutil.HashConcat(deployer[:], idBuf[:], payload)
	var pk types.PublicKey
	copy(pk[:], h[:])
	return types.AddressFromKey(pk)
}

// CheckDeployAddress reports whether tx's target matches the address
// DeriveContractAddress computes from its deploy payload. tx must
// carry a FieldDeploy user field; ok is false if it does not.
func CheckDeployAddress(tx *types.Transaction) (valid bool, ok bool) {
	f, found := tx.UserField(types.FieldDeploy)
	if !found || f.Tag != types.UserFieldBytes {
		return false, false
	}
	pk, hasKey, _ := publicKeyOf(tx.Source)
	if !hasKey {
		return false, true
	}
	want := DeriveContractAddress(pk, tx.InnerID, f.Bytes)
	return tx.Target.Equal(want), true
}

func publicKeyOf(addr types.Address) (types.PublicKey, bool, error) {
	if !addr.IsWalletID() {
		return addr.Key, true, nil
	}
	return types.PublicKey{}, false, nil
}
