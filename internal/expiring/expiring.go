// Package expiring provides a map whose entries forget themselves after a period of inactivity.
package expiring

import (
	"sync"
	"time"
)

type entry[V any] struct {
	val   V
	timer *time.Timer
	gen   uint64 // unique per arming, so a stale timer can tell it lost
}

// Table maps keys to values that are pruned once their ttl elapses without a Touch.
// The zero value is not usable; use New.
//
// NOTE: a value read exactly at its expiry may or may not still be present.
type Table[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	gen     uint64 // last generation handed out; never reused
	onPrune func(K, V)
}

// New returns an empty table.
// onPrune, if non-nil, is called (outside the table lock) each time an entry expires.
func New[K comparable, V any](onPrune func(K, V)) *Table[K, V] {
	return &Table[K, V]{entries: make(map[K]*entry[V]), onPrune: onPrune}
}

// Touch sets key to val and (re)starts its expiry countdown.
func (t *Table[K, V]) Touch(key K, val V, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry[V]{}
		t.entries[key] = e
	} else {
		e.timer.Stop()
	}
	e.val = val
	t.arm(key, e, ttl)
}

// Update applies fn to the current value of key (the zero V if absent), stores the result, and restarts the countdown.
// fn is called with the table locked and must not call back into the table.
func (t *Table[K, V]) Update(key K, ttl time.Duration, fn func(V) V) V {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry[V]{}
		t.entries[key] = e
	} else {
		e.timer.Stop()
	}
	e.val = fn(e.val)
	t.arm(key, e, ttl)
	return e.val
}

// arm gives e a fresh generation and starts its countdown. Caller holds t.mu.
func (t *Table[K, V]) arm(key K, e *entry[V], ttl time.Duration) {
	t.gen++
	gen := t.gen
	e.gen = gen
	e.timer = time.AfterFunc(ttl, func() { t.prune(key, gen) })
}

// prune drops key if it is still on generation gen.
// A timer whose Stop came too late finds a newer generation (or no entry) and does nothing.
func (t *Table[K, V]) prune(key K, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()
	if t.onPrune != nil {
		t.onPrune(key, e.val)
	}
}

// Load returns the value for key, if it has not expired.
func (t *Table[K, V]) Load(key K) (val V, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return val, false
	}
	return e.val, true
}

// Delete drops key and stops its countdown. Deleted keys are not passed to onPrune.
func (t *Table[K, V]) Delete(key K) (found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, key)
	return true
}

// Len returns the number of live entries.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot copies out the live entries.
func (t *Table[K, V]) Snapshot() map[K]V {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[K]V, len(t.entries))
	for k, e := range t.entries {
		out[k] = e.val
	}
	return out
}

// Clear drops every entry without calling onPrune.
func (t *Table[K, V]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, k)
	}
}
