// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package utils holds small shared helpers with no better home.
package utils

import "sync/atomic"

// AtomicBool is the cooperative stop-signal shared between the node's
// loops: the signal handler flips it, and each loop head polls it in
// addition to its context. Zero value is false.
type AtomicBool struct {
	value atomic.Bool
}

// Get returns the current value.
func (a *AtomicBool) Get() bool {
	return a.value.Load()
}

// Set sets the value.
func (a *AtomicBool) Set(value bool) {
	a.value.Store(value)
}
