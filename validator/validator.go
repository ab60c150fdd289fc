// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package validator implements the characteristic-mask builder: a
// signature-check phase, a deploy-address check phase, an iterative
// balance/dependency phase, and a graph phase, plus the synchronous
// SimpleValidator pre-check for client-facing APIs.
package validator

import (
	"github.com/luxfi/log"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/wallet"
	"github.com/relaynet/cnode/wirecodec"
)

// sourceEntry pairs a transaction with its position in the batch,
// used to order and reject a per-source inner-id chain in graphPhase.
type sourceEntry struct {
	idx int
	tx  *types.Transaction
}

// Config controls validator behavior.
type Config struct {
	// SingleIterationCompat forces the balance/dependency phase to run
	// exactly one pass, for wire compatibility with deployments that
	// never converge dependent transactions. The default is false (run
	// to a fixed point).
	SingleIterationCompat bool
}

// WalletLookup resolves an address to its current on-chain balance and
// signing public key, abstracting over wallet.Index so validator can
// be tested without a live database.
type WalletLookup interface {
	Balance(types.Address) (types.Amount, error)
	PublicKey(types.Address) (types.PublicKey, bool, error)
}

// indexLookup adapts *wallet.Index to WalletLookup.
type indexLookup struct {
	idx *wallet.Index
}

// NewWalletLookup adapts a wallet.Index for use as a Validator's
// balance/key source.
func NewWalletLookup(idx *wallet.Index) WalletLookup {
	return indexLookup{idx: idx}
}

func (l indexLookup) Balance(addr types.Address) (types.Amount, error) {
	rec, err := l.idx.Get(addr)
	if err != nil {
		return types.Amount{}, err
	}
	return rec.Balance, nil
}

func (l indexLookup) PublicKey(addr types.Address) (types.PublicKey, bool, error) {
	if !addr.IsWalletID() {
		return addr.Key, true, nil
	}
	rec, err := l.idx.Get(addr)
	if err != nil {
		return types.PublicKey{}, false, nil
	}
	return rec.PublicKey, rec.HasPublicKey, nil
}

// NewStateOrigin describes the block holding the invocation a
// new-state transaction refers to, supplying the confidant set its
// signatures must be checked against.
type NewStateOrigin struct {
	Confidants []types.PublicKey
}

// Validator runs the three-phase characteristic-mask builder.
type Validator struct {
	cfg     Config
	wallets WalletLookup
	log     log.Logger
}

// New builds a Validator.
func New(cfg Config, wallets WalletLookup, logger log.Logger) *Validator {
	return &Validator{cfg: cfg, wallets: wallets, log: logger}
}

// signingBytes returns the bytes a transaction's signature covers.
func signingBytes(tx *types.Transaction) ([]byte, error) {
	return wirecodec.EncodeTransactionForSigning(tx)
}

// PacketInfo carries the packet-level identity and committee
// signatures a new-state transaction is checked against: the content
// hash of the smart packet that delivered it, and the confidant
// signatures over that hash the packet has accumulated.
type PacketInfo struct {
	Hash       types.Hash
	Signatures []types.Signature
}

// BuildMask runs every phase over txs and returns the resulting
// characteristic mask. originFor resolves a new-state transaction's
// SmartContractRef to the NewStateOrigin whose confidants its packet
// signatures are checked against; packetOf resolves a transaction
// index to its delivering packet's hash and signatures (shared across
// all new-state transactions carried in the same packet). A nil
// packetOf treats every new-state transaction as unsigned.
func (v *Validator) BuildMask(txs []*types.Transaction, packetOf func(i int) PacketInfo, originFor func(types.SmartContractRef) (NewStateOrigin, bool)) types.CharacteristicMask {
	mask := types.NewCharacteristicMask(len(txs))

	v.signaturePhase(txs, mask, packetOf, originFor)
	v.deployPhase(txs, mask)
	v.balancePhase(txs, mask)
	v.graphPhase(txs, mask, originFor)
	return mask
}

// deployPhase checks each deploy transaction's target against the
// address derived from its deployer key, inner-id and deploy payload;
// a mismatch is MalformedContractAddress. Running before the graph
// phase lets same-source dependents of a malformed deploy be rejected
// by inner-id ordering.
func (v *Validator) deployPhase(txs []*types.Transaction, mask types.CharacteristicMask) {
	for i, tx := range txs {
		if mask[i] != types.Accepted || !tx.IsDeploy() {
			continue
		}
		f, found := tx.UserField(types.FieldDeploy)
		if !found || f.Tag != types.UserFieldBytes {
			mask[i] = types.MalformedContractAddress
			continue
		}
		pk, ok, err := v.wallets.PublicKey(tx.Source)
		if err != nil || !ok {
			mask[i] = types.SourceDoesNotExist
			continue
		}
		want := DeriveContractAddress(pk, tx.InnerID, f.Bytes)
		if !tx.Target.Equal(want) {
			mask[i] = types.MalformedContractAddress
		}
	}
}

func (v *Validator) signaturePhase(txs []*types.Transaction, mask types.CharacteristicMask, packetOf func(i int) PacketInfo, originFor func(types.SmartContractRef) (NewStateOrigin, bool)) {
	for i, tx := range txs {
		if mask[i] != types.Accepted {
			continue
		}
		if tx.IsNewState() {
			ref, ok := tx.RefStart()
			if !ok {
				mask[i] = types.ContractViolation
				continue
			}
			origin, ok := originFor(ref)
			if !ok {
				mask[i] = types.ContractViolation
				continue
			}
			var info PacketInfo
			if packetOf != nil {
				info = packetOf(i)
			}
			if !hasEnoughConfidantSignatures(origin.Confidants, info.Hash, info.Signatures) {
				mask[i] = types.WrongSignature
			}
			continue
		}

		pk, ok, err := v.wallets.PublicKey(tx.Source)
		if err != nil || !ok {
			mask[i] = types.SourceDoesNotExist
			continue
		}
		msg, err := signingBytes(tx)
		if err != nil {
			mask[i] = types.WrongSignature
			continue
		}
		if !cryptoutil.Verify(pk, msg, tx.Signature) {
			mask[i] = types.WrongSignature
		}
	}
}

// hasEnoughConfidantSignatures implements the ⌊n/2⌋+1 new-state
// signature threshold for smart packets.
func hasEnoughConfidantSignatures(confidants []types.PublicKey, hash types.Hash, sigs []types.Signature) bool {
	need := len(confidants)/2 + 1
	matched := 0
	used := make([]bool, len(sigs))
	for _, pk := range confidants {
		for j, sig := range sigs {
			if used[j] {
				continue
			}
			if cryptoutil.Verify(pk, hash[:], sig) {
				matched++
				used[j] = true
				break
			}
		}
		if matched >= need {
			return true
		}
	}
	return matched >= need
}

// balancePhase is the iterative balance/dependency loop.
//
// A rejection here is never permanent within the loop: a transaction
// that fails because its source is underfunded is retried on the next
// pass, since a transaction accepted earlier (whose credit lands at
// the end of its pass) may have added balance it depends on. Only the signature phase's verdict (captured in eligible) is
// sticky. A source's own debits apply immediately within a pass, so
// two transactions from the same source in the same pass cannot both
// spend the same balance; a transaction's credit to its target is only
// applied once the pass finishes, becoming visible starting the next
// pass.
func (v *Validator) balancePhase(txs []*types.Transaction, mask types.CharacteristicMask) {
	maxPasses := len(txs) + 1
	if v.cfg.SingleIterationCompat {
		maxPasses = 1
	}

	committed := map[string]types.Amount{}
	loaded := map[string]bool{}
	balanceOf := func(key string, addr types.Address) types.Amount {
		if loaded[key] {
			return committed[key]
		}
		onChain, err := v.wallets.Balance(addr)
		if err != nil {
			onChain = types.Amount{}
		}
		committed[key] = onChain
		loaded[key] = true
		return onChain
	}

	type deferredCredit struct {
		key    string
		addr   types.Address
		amount types.Amount
	}

	accepted := make([]bool, len(txs))
	eligible := make([]bool, len(txs))
	for i := range txs {
		eligible[i] = mask[i] == types.Accepted
	}

	for pass := 0; pass < maxPasses; pass++ {
		var credits []deferredCredit
		changed := false

		for i, tx := range txs {
			if !eligible[i] || accepted[i] || tx.IsNewState() {
				continue
			}

			key := addressKey(tx.Source)
			bal := balanceOf(key, tx.Source)
			cost := tx.Amount.Add(tx.MaxFee)
			if bal.Less(cost) {
				mask[i] = types.InsufficientBalance
				continue
			}

			mask[i] = types.Accepted
			accepted[i] = true
			changed = true
			committed[key] = bal.Sub(cost)
			credits = append(credits, deferredCredit{key: addressKey(tx.Target), addr: tx.Target, amount: tx.Amount})
		}

		for _, c := range credits {
			base := balanceOf(c.key, c.addr)
			committed[c.key] = base.Add(c.amount)
		}

		if !changed {
			break
		}
	}
}

// graphPhase is the last phase: per-source inner-id ordering plus the
// new-state recast rule.
func (v *Validator) graphPhase(txs []*types.Transaction, mask types.CharacteristicMask, originFor func(types.SmartContractRef) (NewStateOrigin, bool)) {
	bySource := map[string][]sourceEntry{}
	for i, tx := range txs {
		if tx.IsNewState() {
			continue
		}
		key := addressKey(tx.Source)
		bySource[key] = append(bySource[key], sourceEntry{idx: i, tx: tx})
	}
	for _, chain := range bySource {
		sortByInnerID(chain)
		rejectedSoFar := false
		for _, entry := range chain {
			if mask[entry.idx] != types.Accepted {
				rejectedSoFar = true
				continue
			}
			if rejectedSoFar {
				mask[entry.idx] = types.RejectedByGraph
				rejectedSoFar = true
			}
		}
	}

	for i, tx := range txs {
		if !tx.IsNewState() {
			continue
		}
		ref, ok := tx.RefStart()
		if !ok {
			continue
		}
		if _, ok := originFor(ref); !ok {
			mask[i] = types.RejectedSmart
		}
	}
}

func sortByInnerID(chain []sourceEntry) {
	for i := 1; i < len(chain); i++ {
		for j := i; j > 0 && chain[j].tx.InnerID < chain[j-1].tx.InnerID; j-- {
			chain[j], chain[j-1] = chain[j-1], chain[j]
		}
	}
}

func addressKey(addr types.Address) string {
	if addr.IsWalletID() {
		var b [5]byte
		b[0] = 0
		b[1] = byte(addr.WalletID)
		b[2] = byte(addr.WalletID >> 8)
		b[3] = byte(addr.WalletID >> 16)
		b[4] = byte(addr.WalletID >> 24)
		return string(b[:])
	}
	return "k" + string(addr.Key[:])
}
