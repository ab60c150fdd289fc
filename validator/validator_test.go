// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"testing"

	luxlog "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/relaynet/cnode/cryptoutil"
	"github.com/relaynet/cnode/types"
	"github.com/relaynet/cnode/wirecodec"
)

type fakeWallets struct {
	balances map[string]types.Amount
	keys     map[string]types.PublicKey
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{balances: map[string]types.Amount{}, keys: map[string]types.PublicKey{}}
}

func (f *fakeWallets) set(addr types.Address, bal types.Amount) {
	f.balances[addressKey(addr)] = bal
}

func (f *fakeWallets) Balance(addr types.Address) (types.Amount, error) {
	return f.balances[addressKey(addr)], nil
}

func (f *fakeWallets) PublicKey(addr types.Address) (types.PublicKey, bool, error) {
	if !addr.IsWalletID() {
		return addr.Key, true, nil
	}
	pk, ok := f.keys[addressKey(addr)]
	return pk, ok, nil
}

func signedTransfer(t *testing.T, source, target types.Address, sk types.PrivateKey, amount, maxFee types.Amount, innerID uint64) *types.Transaction {
	t.Helper()
	tx := types.NewTransaction(source, target, types.Currency(1), amount, maxFee, innerID)
	msg, err := wirecodec.EncodeTransactionForSigning(tx)
	require.NoError(t, err)
	tx.Signature = cryptoutil.Sign(sk, msg)
	tx.Seal()
	return tx
}

func TestBuildMaskAcceptsWellFormedTransaction(t *testing.T) {
	pk, sk, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	dstPK, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	source := types.AddressFromKey(pk)
	target := types.AddressFromKey(dstPK)

	wallets := newFakeWallets()
	wallets.set(source, types.Amount{Integer: 100})

	tx := signedTransfer(t, source, target, sk, types.Amount{Integer: 10}, types.Amount{Fraction: 1}, 1)

	v := New(Config{}, wallets, luxlog.NewNoOpLogger())
	mask := v.BuildMask([]*types.Transaction{tx}, nil, func(types.SmartContractRef) (NewStateOrigin, bool) { return NewStateOrigin{}, false })
	require.Equal(t, types.Accepted, mask[0])
}

func TestBuildMaskRejectsBadSignature(t *testing.T) {
	pk, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	_, otherSK, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	dstPK, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	source := types.AddressFromKey(pk)
	target := types.AddressFromKey(dstPK)

	wallets := newFakeWallets()
	wallets.set(source, types.Amount{Integer: 100})

	tx := signedTransfer(t, source, target, otherSK, types.Amount{Integer: 10}, types.Amount{}, 1)

	v := New(Config{}, wallets, luxlog.NewNoOpLogger())
	mask := v.BuildMask([]*types.Transaction{tx}, nil, func(types.SmartContractRef) (NewStateOrigin, bool) { return NewStateOrigin{}, false })
	require.Equal(t, types.WrongSignature, mask[0])
}

func TestBuildMaskDependentTransactionsConverge(t *testing.T) {
	// A -> B 10, B -> C 5 with B's initial balance 0: iteration 1
	// accepts A -> B and rejects B -> C, since B's credit lands only
	// after the pass; iteration 2 accepts B -> C.
	aPK, aSK, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	bPK, bSK, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	cPK, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	a, b, c := types.AddressFromKey(aPK), types.AddressFromKey(bPK), types.AddressFromKey(cPK)

	wallets := newFakeWallets()
	wallets.set(a, types.Amount{Integer: 10})
	wallets.set(b, types.Amount{Integer: 0})

	txAB := signedTransfer(t, a, b, aSK, types.Amount{Integer: 10}, types.Amount{}, 1)
	txBC := signedTransfer(t, b, c, bSK, types.Amount{Integer: 5}, types.Amount{}, 1)

	v := New(Config{}, wallets, luxlog.NewNoOpLogger())
	mask := v.BuildMask([]*types.Transaction{txAB, txBC}, nil, func(types.SmartContractRef) (NewStateOrigin, bool) { return NewStateOrigin{}, false })
	require.Equal(t, types.Accepted, mask[0])
	require.Equal(t, types.Accepted, mask[1])
}

func TestBuildMaskSingleIterationCompatForcesOnePass(t *testing.T) {
	aPK, aSK, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	bPK, bSK, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	cPK, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	a, b, c := types.AddressFromKey(aPK), types.AddressFromKey(bPK), types.AddressFromKey(cPK)

	wallets := newFakeWallets()
	wallets.set(a, types.Amount{Integer: 10})
	wallets.set(b, types.Amount{Integer: 0})

	txAB := signedTransfer(t, a, b, aSK, types.Amount{Integer: 10}, types.Amount{}, 1)
	txBC := signedTransfer(t, b, c, bSK, types.Amount{Integer: 5}, types.Amount{}, 1)

	v := New(Config{SingleIterationCompat: true}, wallets, luxlog.NewNoOpLogger())
	mask := v.BuildMask([]*types.Transaction{txAB, txBC}, nil, func(types.SmartContractRef) (NewStateOrigin, bool) { return NewStateOrigin{}, false })
	require.Equal(t, types.Accepted, mask[0])
	require.Equal(t, types.InsufficientBalance, mask[1], "single-iteration compat mode must not converge")
}

func TestGraphPhaseRejectsDependentsOfRejectedPredecessor(t *testing.T) {
	pk, sk, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	dstPK, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	source := types.AddressFromKey(pk)
	target := types.AddressFromKey(dstPK)

	wallets := newFakeWallets()
	wallets.set(source, types.Amount{Integer: 1}) // only enough for one

	tx1 := signedTransfer(t, source, target, sk, types.Amount{Integer: 1}, types.Amount{}, 1)
	tx2 := signedTransfer(t, source, target, sk, types.Amount{Integer: 1}, types.Amount{}, 2)

	// Force tx1's rejection to be permanent regardless of balance
	// availability by exhausting it with a third always-failing debit.
	tx0 := signedTransfer(t, source, target, sk, types.Amount{Integer: 100}, types.Amount{}, 0)

	v := New(Config{}, wallets, luxlog.NewNoOpLogger())
	mask := v.BuildMask([]*types.Transaction{tx0, tx1, tx2}, nil, func(types.SmartContractRef) (NewStateOrigin, bool) { return NewStateOrigin{}, false })
	require.Equal(t, types.InsufficientBalance, mask[0])
	require.Equal(t, types.RejectedByGraph, mask[1], "tx1 must be rejected because its predecessor in inner-id order (tx0) was rejected, even though tx1's own balance check would have passed")
}

func signedDeploy(t *testing.T, source types.Address, sk types.PrivateKey, target types.Address, payload []byte, innerID uint64) *types.Transaction {
	t.Helper()
	tx := types.NewTransaction(source, target, types.Currency(1), types.Amount{}, types.Amount{}, innerID)
	tx.AddUserField(types.UserField{ID: types.FieldDeploy, Tag: types.UserFieldBytes, Bytes: payload})
	msg, err := wirecodec.EncodeTransactionForSigning(tx)
	require.NoError(t, err)
	tx.Signature = cryptoutil.Sign(sk, msg)
	tx.Seal()
	return tx
}

func TestBuildMaskRejectsMalformedDeployAndItsDependents(t *testing.T) {
	pk, sk, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	otherPK, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	source := types.AddressFromKey(pk)

	wallets := newFakeWallets()
	wallets.set(source, types.Amount{Integer: 100})

	payload := []byte("contract bytecode")
	wrongTarget := types.AddressFromKey(otherPK)
	deploy := signedDeploy(t, source, sk, wrongTarget, payload, 1)
	dependent := signedTransfer(t, source, types.AddressFromKey(otherPK), sk, types.Amount{Integer: 1}, types.Amount{}, 2)

	v := New(Config{}, wallets, luxlog.NewNoOpLogger())
	mask := v.BuildMask([]*types.Transaction{deploy, dependent}, nil, func(types.SmartContractRef) (NewStateOrigin, bool) { return NewStateOrigin{}, false })
	require.Equal(t, types.MalformedContractAddress, mask[0])
	require.Equal(t, types.RejectedByGraph, mask[1], "a same-source successor of a malformed deploy must fall to the graph phase")
}

func TestBuildMaskAcceptsWellFormedDeploy(t *testing.T) {
	pk, sk, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	source := types.AddressFromKey(pk)

	wallets := newFakeWallets()
	wallets.set(source, types.Amount{Integer: 100})

	payload := []byte("contract bytecode")
	target := DeriveContractAddress(pk, 1, payload)
	deploy := signedDeploy(t, source, sk, target, payload, 1)

	v := New(Config{}, wallets, luxlog.NewNoOpLogger())
	mask := v.BuildMask([]*types.Transaction{deploy}, nil, func(types.SmartContractRef) (NewStateOrigin, bool) { return NewStateOrigin{}, false })
	require.Equal(t, types.Accepted, mask[0])
}

func TestBuildMaskNewStateRequiresMajoritySignatures(t *testing.T) {
	contractPK, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	contract := types.AddressFromKey(contractPK)

	var confidants []types.PublicKey
	var keys []types.PrivateKey
	for i := 0; i < 4; i++ {
		pk, sk, err := cryptoutil.GenerateKeyPair()
		require.NoError(t, err)
		confidants = append(confidants, pk)
		keys = append(keys, sk)
	}

	ref := types.SmartContractRef{Sequence: 7, Index: 0}
	newState := types.NewTransaction(contract, contract, 0, types.Amount{}, types.Amount{}, 0)
	newState.AddUserField(types.NewStateRefField(ref))
	newState.Seal()

	packetHash := types.Hash{0x42}
	originFor := func(r types.SmartContractRef) (NewStateOrigin, bool) {
		require.Equal(t, ref, r)
		return NewStateOrigin{Confidants: confidants}, true
	}

	v := New(Config{}, newFakeWallets(), luxlog.NewNoOpLogger())

	// floor(4/2)+1 = 3 confidant signatures over the packet hash.
	sign := func(count int) func(int) PacketInfo {
		var sigs []types.Signature
		for i := 0; i < count; i++ {
			sigs = append(sigs, cryptoutil.Sign(keys[i], packetHash[:]))
		}
		return func(int) PacketInfo { return PacketInfo{Hash: packetHash, Signatures: sigs} }
	}

	mask := v.BuildMask([]*types.Transaction{newState}, sign(3), originFor)
	require.Equal(t, types.Accepted, mask[0])

	mask = v.BuildMask([]*types.Transaction{newState}, sign(2), originFor)
	require.Equal(t, types.WrongSignature, mask[0])
}

func TestDeriveContractAddressDeterministic(t *testing.T) {
	pk, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	a1 := DeriveContractAddress(pk, 5, []byte("payload"))
	a2 := DeriveContractAddress(pk, 5, []byte("payload"))
	require.True(t, a1.Equal(a2))

	a3 := DeriveContractAddress(pk, 6, []byte("payload"))
	require.False(t, a1.Equal(a3))
}

func TestSimpleValidatorAllCorrect(t *testing.T) {
	pk, sk, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	dstPK, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	source := types.AddressFromKey(pk)
	target := types.AddressFromKey(dstPK)

	wallets := newFakeWallets()
	wallets.set(source, types.Amount{Integer: 100})
	tx := signedTransfer(t, source, target, sk, types.Amount{Integer: 10}, types.Amount{}, 1)

	sv := NewSimpleValidator(wallets)
	require.Equal(t, AllCorrect, sv.Check(tx, 100))
}

func TestSimpleValidatorTooLarge(t *testing.T) {
	pk, sk, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	dstPK, _, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	source := types.AddressFromKey(pk)
	target := types.AddressFromKey(dstPK)

	wallets := newFakeWallets()
	tx := signedTransfer(t, source, target, sk, types.Amount{Integer: 10}, types.Amount{}, 1)

	sv := NewSimpleValidator(wallets)
	require.Equal(t, ResultTooLarge, sv.Check(tx, MaxTransactionSize+1))
}
