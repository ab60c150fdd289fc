// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
)

// SimpleResult is the outcome of a SimpleValidator pre-check.
type SimpleResult uint8

const (
	AllCorrect SimpleResult = iota
	ResultInsufficientBalance
	ResultWrongSignature
	ResultTooLarge
	ResultInsufficientMaxFee
	ResultSourceDoesNotExist
	ResultContractViolation
)

// String names a SimpleResult for logs and client-facing API replies.
func (r SimpleResult) String() string {
	switch r {
	case AllCorrect:
		return "all-correct"
	case ResultInsufficientBalance:
		return "insufficient-balance"
	case ResultWrongSignature:
		return "wrong-signature"
	case ResultTooLarge:
		return "too-large"
	case ResultInsufficientMaxFee:
		return "insufficient-max-fee"
	case ResultSourceDoesNotExist:
		return "source-does-not-exist"
	case ResultContractViolation:
		return "contract-violation"
	default:
		return "unknown"
	}
}

// MaxTransactionSize bounds the canonical encoding size the
// SimpleValidator will accept, matching the "too large" rejection.
const MaxTransactionSize = 64 * 1024

// SimpleValidator runs a synchronous pre-check suitable for
// client-facing APIs: signature, balance, max-fee, size, and
// contract-violation checks, without the full three-phase pipeline's
// cross-transaction dependency reasoning.
type SimpleValidator struct {
	wallets WalletLookup
}

// NewSimpleValidator builds a SimpleValidator over wallets.
func NewSimpleValidator(wallets WalletLookup) *SimpleValidator {
	return &SimpleValidator{wallets: wallets}
}

// Check runs the pre-check against tx's current encoded size and the
// wallet index's present balance (not a proposed-round running
// balance).
func (s *SimpleValidator) Check(tx *types.Transaction, encodedSize int) SimpleResult {
	if encodedSize > MaxTransactionSize {
		return ResultTooLarge
	}

	if tx.IsDeploy() {
		if valid, ok := CheckDeployAddress(tx); ok && !valid {
			return ResultContractViolation
		}
	}

	pk, ok, err := s.wallets.PublicKey(tx.Source)
	if err != nil || !ok {
		return ResultSourceDoesNotExist
	}
	msg, err := signingBytes(tx)
	if err != nil {
		return ResultWrongSignature
	}
	if !cryptoutil.Verify(pk, msg, tx.Signature) {
		return ResultWrongSignature
	}

	balance, err := s.wallets.Balance(tx.Source)
	if err != nil {
		return ResultSourceDoesNotExist
	}
	cost := tx.Amount.Add(tx.MaxFee)
	if balance.Less(cost) {
		return ResultInsufficientBalance
	}
	if tx.MaxFee.Sign() < 0 {
		return ResultInsufficientMaxFee
	}
	return AllCorrect
}
