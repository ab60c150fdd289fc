// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package set implements a generic set, used for the transport's
// advertised-packet bookkeeping and the next-round candidate pool.
package set

import "golang.org/x/exp/maps"

// Set is a set of unique elements.
type Set[T comparable] map[T]struct{}

// Of returns a Set initialized with [elts].
func Of[T comparable](elts ...T) Set[T] {
	s := make(Set[T], len(elts))
	s.Add(elts...)
	return s
}

// Add adds elements to the set.
func (s Set[T]) Add(elts ...T) {
	for _, elt := range elts {
		s[elt] = struct{}{}
	}
}

// Contains returns true if the set contains the element.
func (s Set[T]) Contains(elt T) bool {
	_, ok := s[elt]
	return ok
}

// Remove removes elements from the set.
func (s Set[T]) Remove(elts ...T) {
	for _, elt := range elts {
		delete(s, elt)
	}
}

// Len returns the number of elements in the set.
func (s Set[T]) Len() int {
	return len(s)
}

// List returns the elements of the set as a slice.
// The order is non-deterministic.
func (s Set[T]) List() []T {
	return maps.Keys(s)
}
