// Package session implements the generic (peer, id)-keyed session table
// shared by the sender and receiver engines (spec.md section 4.D): TTL
// sweep, last-visit stamping on Get, and a before-destroy hook invoked
// whenever an entry is replaced, swept, or explicitly cleared.
package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/relidp/relidp/peer"
)

// Key is the (peer, transfer id) tuple every session table is keyed by.
type Key struct {
	Peer peer.Key
	ID   uint32
}

type entry[V any] struct {
	value     V
	lastVisit time.Time
}

// Table is a generic (peer, id) -> V map with TTL-based garbage collection.
// It has no opinion on what V is; the sender and receiver packages layer
// their own table-specific rules (id allocation, lazy recycling) on top.
type Table[V any] struct {
	mu              sync.Mutex
	clock           clockwork.Clock
	entries         map[Key]*entry[V]
	onBeforeDestroy func(Key, V)
}

// NewTable constructs an empty table. onBeforeDestroy may be nil; it is
// invoked (outside the table's lock) whenever an entry is replaced by Set,
// evicted by the TTL sweep, removed by Delete, or dropped by Clear.
func NewTable[V any](clock clockwork.Clock, onBeforeDestroy func(Key, V)) *Table[V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Table[V]{
		clock:           clock,
		entries:         make(map[Key]*entry[V]),
		onBeforeDestroy: onBeforeDestroy,
	}
}

// Get looks up k, stamping its last-visit time on a hit.
func (t *Table[V]) Get(k Key) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[k]
	if !ok {
		var zero V
		return zero, false
	}
	e.lastVisit = t.clock.Now()
	return e.value, true
}

// Set replaces any existing entry at k, invoking onBeforeDestroy on the
// prior value if one existed.
func (t *Table[V]) Set(k Key, v V) {
	t.mu.Lock()
	prev, had := t.entries[k]
	t.entries[k] = &entry[V]{value: v, lastVisit: t.clock.Now()}
	t.mu.Unlock()

	if had && t.onBeforeDestroy != nil {
		t.onBeforeDestroy(k, prev.value)
	}
}

// Delete removes k, invoking onBeforeDestroy on its value if present.
func (t *Table[V]) Delete(k Key) {
	t.mu.Lock()
	prev, had := t.entries[k]
	delete(t.entries, k)
	t.mu.Unlock()

	if had && t.onBeforeDestroy != nil {
		t.onBeforeDestroy(k, prev.value)
	}
}

// Clear destroys every entry through onBeforeDestroy and empties the table.
func (t *Table[V]) Clear() {
	t.mu.Lock()
	all := t.entries
	t.entries = make(map[Key]*entry[V])
	t.mu.Unlock()

	if t.onBeforeDestroy != nil {
		for k, e := range all {
			t.onBeforeDestroy(k, e.value)
		}
	}
}

// Len reports the current entry count.
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// AutoClear starts a periodic sweep (every interval) that removes entries
// unvisited for longer than ttl, invoking onBeforeDestroy for each. The
// returned func stops the sweep; it is safe to call more than once.
func (t *Table[V]) AutoClear(ttl, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := t.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				t.sweep(ttl)
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

func (t *Table[V]) sweep(ttl time.Duration) {
	now := t.clock.Now()

	var expired []Key
	var values []V

	t.mu.Lock()
	for k, e := range t.entries {
		if now.Sub(e.lastVisit) > ttl {
			expired = append(expired, k)
			values = append(values, e.value)
		}
	}
	for _, k := range expired {
		delete(t.entries, k)
	}
	t.mu.Unlock()

	if t.onBeforeDestroy == nil {
		return
	}
	for i, k := range expired {
		t.onBeforeDestroy(k, values[i])
	}
}
