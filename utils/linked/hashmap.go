// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package linked provides an insertion-ordered hashmap, used by the
// transport's duplicate-suppression cache: lookups stay O(1) while
// expiry sweeps walk entries oldest-first and stop at the first entry
// still young enough to keep.
package linked

// Hashmap is a map that additionally maintains insertion order.
type Hashmap[K comparable, V any] struct {
	m    map[K]*hashmapEntry[K, V]
	list *List[*hashmapEntry[K, V]]
}

type hashmapEntry[K comparable, V any] struct {
	key   K
	value V
	node  *ListNode[*hashmapEntry[K, V]]
}

// NewHashmap returns an empty Hashmap.
func NewHashmap[K comparable, V any]() *Hashmap[K, V] {
	return &Hashmap[K, V]{
		m:    make(map[K]*hashmapEntry[K, V]),
		list: NewList[*hashmapEntry[K, V]](),
	}
}

// Put adds a key-value pair. Updating an existing key keeps its
// original position in insertion order.
func (h *Hashmap[K, V]) Put(key K, value V) {
	if entry, exists := h.m[key]; exists {
		entry.value = value
		return
	}

	entry := &hashmapEntry[K, V]{
		key:   key,
		value: value,
	}
	entry.node = h.list.PushBack(entry)
	h.m[key] = entry
}

// Get retrieves a value by key.
func (h *Hashmap[K, V]) Get(key K) (V, bool) {
	if entry, exists := h.m[key]; exists {
		return entry.value, true
	}
	var zero V
	return zero, false
}

// Delete removes a key-value pair.
func (h *Hashmap[K, V]) Delete(key K) {
	if entry, exists := h.m[key]; exists {
		h.list.Remove(entry.node)
		delete(h.m, key)
	}
}

// Len returns the number of entries.
func (h *Hashmap[K, V]) Len() int {
	return h.list.Len()
}

// OldestEntry returns the least recently inserted entry.
func (h *Hashmap[K, V]) OldestEntry() (K, V, bool) {
	node := h.list.Front()
	if node == nil {
		var zeroK K
		var zeroV V
		return zeroK, zeroV, false
	}
	entry := node.Value
	return entry.key, entry.value, true
}
