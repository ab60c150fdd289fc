// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import "fmt"

// Amount is a 16-byte fixed-point value: a signed 64-bit integer part
// and an unsigned 64-bit fractional part, matching the canonical wire
// encoding.
type Amount struct {
	Integer  int64
	Fraction uint64
}

// Zero is the additive identity.
var Zero = Amount{}

// Sign reports -1, 0, or 1 as the amount is negative, zero, or
// positive.
func (a Amount) Sign() int {
	if a.Integer != 0 {
		if a.Integer < 0 {
			return -1
		}
		return 1
	}
	if a.Fraction != 0 {
		return 1
	}
	return 0
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	frac := a.Fraction + b.Fraction
	carry := int64(0)
	if frac < a.Fraction { // unsigned overflow
		carry = 1
	}
	return Amount{Integer: a.Integer + b.Integer + carry, Fraction: frac}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	frac := a.Fraction - b.Fraction
	borrow := int64(0)
	if a.Fraction < b.Fraction {
		borrow = 1
	}
	return Amount{Integer: a.Integer - b.Integer - borrow, Fraction: frac}
}

// Less reports whether a < b.
func (a Amount) Less(b Amount) bool {
	if a.Integer != b.Integer {
		return a.Integer < b.Integer
	}
	return a.Fraction < b.Fraction
}

// String renders the amount for logging.
func (a Amount) String() string {
	return fmt.Sprintf("%d.%020d", a.Integer, a.Fraction)
}
