// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import "sync"

// Latest holds the most recent value of a topic. Writers overwrite; readers
// see only the newest value.
type Latest[T any] struct {
	mu      sync.Mutex
	value   T
	have    bool
	updated bool
}

// Put stores v.
func (l *Latest[T]) Put(v T) {
	l.mu.Lock()
	l.value = v
	l.have = true
	l.updated = true
	l.mu.Unlock()
}

// Poll returns the value and true if it changed since the last Poll.
func (l *Latest[T]) Poll() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.updated {
		var zero T
		return zero, false
	}
	l.updated = false
	return l.value, true
}

// Peek returns the value without consuming the update. ok is false until the
// first Put.
func (l *Latest[T]) Peek() (v T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.have
}
