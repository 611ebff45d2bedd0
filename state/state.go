// Package state owns the single mutable state cell of a store.
//
// The cell is replaced atomically; a replacement with the identical
// reference is a no-op. Change notifications are coalesced: multiple
// replacements inside one drain burst collapse to a single delivery of
// the latest value. Intermediate states remain observable through Get
// but not through the notification channel. This "notification
// coalescing" is a deliberate performance tradeoff, not a bug.
package state

import (
	"reflect"
	"sync"
)

// NotifyFunc receives the latest state value on a coalesced change
// notification.
type NotifyFunc func(newState any)

// Manager holds the current state value and its notification sinks.
type Manager struct {
	mu      sync.Mutex
	current any
	pending bool
	sinks   []NotifyFunc
}

// NewManager creates a manager holding the given initial value.
func NewManager(initial any) *Manager {
	return &Manager{current: initial}
}

// Get returns the current state value.
func (m *Manager) Get() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set replaces the state value and schedules a coalesced notification.
// Replacing with the identical reference is a no-op.
func (m *Manager) Set(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if SameRef(m.current, v) {
		return
	}
	m.current = v
	m.pending = true
}

// OnChange registers a notification sink. Sinks are invoked with the
// latest state value when pending notifications are flushed.
func (m *Manager) OnChange(fn NotifyFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, fn)
}

// Pending returns true if a notification is scheduled.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Flush delivers the pending notification, if any, to every sink.
// Sinks run outside the manager lock and see only the latest value.
func (m *Manager) Flush() {
	m.mu.Lock()
	if !m.pending {
		m.mu.Unlock()
		return
	}
	m.pending = false
	v := m.current
	sinks := make([]NotifyFunc, len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.Unlock()

	for _, fn := range sinks {
		fn(v)
	}
}

// SameRef reports whether two values are the same reference.
//
// For pointer-shaped kinds (maps, slices, pointers, channels,
// functions) it compares the underlying pointer. For comparable value
// kinds it falls back to equality, which is the closest identity
// notion value types have. Values of different dynamic kinds are never
// the same reference.
func SameRef(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	va := reflect.ValueOf(a)
	vb := reflect.ValueOf(b)
	if va.Kind() != vb.Kind() || va.Type() != vb.Type() {
		return false
	}

	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	}

	if !va.Comparable() || !vb.Comparable() {
		return false
	}
	return a == b
}
