// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wrappers provides an error accumulator, used when a batch of
// fallible registrations (metric collectors, health checks) should
// surface every failure at once instead of stopping at the first.
package wrappers

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Errs is a collection of errors.
type Errs struct {
	mu   sync.RWMutex
	errs []error
}

// Add adds an error to the collection. Nil errors are ignored.
func (e *Errs) Add(err error) {
	if err == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// Errored returns true if any errors have been added.
func (e *Errs) Errored() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.errs) > 0
}

// Err returns the errors as a single error, or nil if none were added.
func (e *Errs) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch len(e.errs) {
	case 0:
		return nil
	case 1:
		return e.errs[0]
	default:
		return errors.New(e.stringLocked())
	}
}

// String returns a string representation of all errors.
func (e *Errs) String() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stringLocked()
}

func (e *Errs) stringLocked() string {
	if len(e.errs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d error", len(e.errs)))
	if len(e.errs) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString(" occurred:")

	for _, err := range e.errs {
		sb.WriteString("\n\t* ")
		sb.WriteString(err.Error())
	}

	return sb.String()
}
