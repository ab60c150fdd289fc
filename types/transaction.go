// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

// Currency is an opaque currency tag. Validity is asserted by the
// validator against the node's configured currency table.
type Currency uint8

// UserFieldTag enumerates the polymorphic value kinds a user field may
// carry.
type UserFieldTag uint8

const (
	UserFieldInteger UserFieldTag = iota
	UserFieldAmount
	UserFieldBytes
	UserFieldTransaction
)

// Well-known user-field ids. Negative ids are reserved for
// signature-exempt metadata (see wirecodec's bytes-for-signature
// variant); non-negative ids are the ordinary payload.
const (
	// FieldDeploy marks a transaction as a smart-contract deployment;
	// its value is the deploy payload bytes.
	FieldDeploy int32 = 0
	// FieldMethodInvoke marks a transaction as a method invocation on
	// an already-deployed contract; its value is the encoded call.
	FieldMethodInvoke int32 = 1
	// FieldRefStart references the invocation transaction a new-state
	// transaction is the result of.
	FieldRefStart int32 = 2
	// FieldTimestamp is the block-level timestamp user-field id (0).
	// wirecodec/block.go does not use it: the block encoding carries
	// the timestamp as a fixed unix-seconds field.
	FieldTimestamp int32 = 0
)

// UserField is one polymorphic entry in a transaction's sparse
// id->value map.
type UserField struct {
	ID    int32
	Tag   UserFieldTag
	Int   int64
	Amt   Amount
	Bytes []byte
	Tx    *Transaction
}

// Transaction is an immutable record once signed.
type Transaction struct {
	InnerID     uint64 // 46-bit sender-local sequence number
	Source      Address
	Target      Address
	Currency    Currency
	Amount      Amount
	MaxFee      Amount
	CountedFee  Amount // set by the validator, not the signer
	UserFields  []UserField
	Signature   Signature
	signed      bool
}

// NewTransaction builds an unsigned transaction with the given core
// fields; UserFields may be appended until Seal is called.
func NewTransaction(source, target Address, currency Currency, amount, maxFee Amount, innerID uint64) *Transaction {
	return &Transaction{
		InnerID:  innerID & ((1 << 46) - 1),
		Source:   source,
		Target:   target,
		Currency: currency,
		Amount:   amount,
		MaxFee:   maxFee,
	}
}

// AddUserField appends a user field prior to signing. It panics if the
// transaction is already sealed, mirroring the "sealed after sign"
// invariant from the design notes rather than silently no-opping.
func (t *Transaction) AddUserField(f UserField) {
	if t.signed {
		panic("types: cannot mutate a sealed transaction")
	}
	t.UserFields = append(t.UserFields, f)
}

// Seal marks the transaction as signed and immutable. Called by the
// signer after Signature has been populated.
func (t *Transaction) Seal() {
	t.signed = true
}

// Sealed reports whether the transaction has been signed and is no
// longer mutable.
func (t *Transaction) Sealed() bool {
	return t.signed
}

// UserField looks up a user field by id.
func (t *Transaction) UserField(id int32) (UserField, bool) {
	for _, f := range t.UserFields {
		if f.ID == id {
			return f, true
		}
	}
	return UserField{}, false
}

// IsExecutable reports whether the transaction targets a smart
// contract address and carries either a deploy or a method-invocation
// user field.
func (t *Transaction) IsExecutable() bool {
	if !t.Target.WellFormed() {
		return false
	}
	if _, ok := t.UserField(FieldDeploy); ok {
		return true
	}
	_, ok := t.UserField(FieldMethodInvoke)
	return ok
}

// IsDeploy reports whether this transaction is a contract deployment.
func (t *Transaction) IsDeploy() bool {
	_, ok := t.UserField(FieldDeploy)
	return ok
}

// IsNewState reports whether this transaction is a contract's
// execution-result variant: it carries a FieldRefStart user field.
func (t *Transaction) IsNewState() bool {
	_, ok := t.UserField(FieldRefStart)
	return ok
}

// RefStart returns the SmartContractRef a new-state transaction
// refers to, if any.
func (t *Transaction) RefStart() (SmartContractRef, bool) {
	f, ok := t.UserField(FieldRefStart)
	if !ok || f.Tag != UserFieldBytes || len(f.Bytes) < 12 {
		return SmartContractRef{}, false
	}
	var ref SmartContractRef
	ref.Sequence = Sequence(leUint64(f.Bytes[0:8]))
	ref.Index = leUint32(f.Bytes[8:12])
	return ref, true
}

// NewStateRefField builds the FieldRefStart user field for a new-state
// transaction.
func NewStateRefField(ref SmartContractRef) UserField {
	b := ref.Bytes()
	return UserField{ID: FieldRefStart, Tag: UserFieldBytes, Bytes: b[:]}
}

// WellFormed checks the structural invariants: source != target
// (except for new-state transactions, which may share them),
// amount >= 0, both addresses well-formed.
func (t *Transaction) WellFormed() bool {
	if t.Source.Equal(t.Target) && !t.IsNewState() {
		return false
	}
	if t.Amount.Sign() < 0 {
		return false
	}
	return t.Source.WellFormed() && t.Target.WellFormed()
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}
