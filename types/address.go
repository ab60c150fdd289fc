// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import "fmt"

// AddressForm distinguishes the two encodings an Address can carry.
type AddressForm uint8

const (
	// AddressFormKey marks an address as a raw 32-byte public key.
	AddressFormKey AddressForm = iota
	// AddressFormWalletID marks an address as a compressed 32-bit
	// wallet-id, resolvable against the wallet index.
	AddressFormWalletID
)

// Address is either a 32-byte public key or a 32-bit wallet-id. The
// Form field carries the single bit that distinguishes the two.
type Address struct {
	Form     AddressForm
	Key      PublicKey
	WalletID uint32
}

// AddressFromKey builds a key-form address.
func AddressFromKey(pk PublicKey) Address {
	return Address{Form: AddressFormKey, Key: pk}
}

// AddressFromWalletID builds a wallet-id-form address.
func AddressFromWalletID(id uint32) Address {
	return Address{Form: AddressFormWalletID, WalletID: id}
}

// IsWalletID reports whether the address is the compressed wallet-id
// form, requiring resolution via the wallet index before use.
func (a Address) IsWalletID() bool {
	return a.Form == AddressFormWalletID
}

// WellFormed reports whether the address carries a plausible value:
// wallet-id addresses may not be zero (id 0 is reserved/unassigned),
// key addresses may not be the all-zero key.
func (a Address) WellFormed() bool {
	if a.Form == AddressFormWalletID {
		return a.WalletID != 0
	}
	for _, b := range a.Key {
		if b != 0 {
			return true
		}
	}
	return false
}

// Equal reports whether two addresses have the same form and value.
func (a Address) Equal(o Address) bool {
	if a.Form != o.Form {
		return false
	}
	if a.Form == AddressFormWalletID {
		return a.WalletID == o.WalletID
	}
	return a.Key == o.Key
}

// String renders the address for logging/diagnostics.
func (a Address) String() string {
	if a.Form == AddressFormWalletID {
		return fmt.Sprintf("wallet:%d", a.WalletID)
	}
	return fmt.Sprintf("key:%x", a.Key[:8])
}
