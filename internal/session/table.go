// Package session implements the per-service session table of spec.md
// §4.8: a keyed hashmap of session-key -> backend with TTL eviction on
// lookup and a periodic sweep. The underlying store is
// github.com/go-pkgz/expirable-cache/v3, an indirect teacher dependency
// (pulled in transitively in umputun/reproxy's go.mod) promoted here to a
// direct one and wired in as the concrete TTL map the spec calls for,
// replacing what the teacher never had (reproxy carries no sticky-session
// concept at all - this package is new, built in the teacher's idiom:
// a small struct guarding a map with a sync.Mutex, mirroring
// discovery.Service's own lock+map shape in app/discovery/discovery.go).
package session

import (
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"

	"github.com/coreproxy/coreproxy/internal/model"
)

// Entry is a session table's value: the sticky backend and when it was
// last used.
type Entry struct {
	Backend  *model.Backend
	LastSeen time.Time
}

// Table implements model.SessionStore: amortized O(1) lookup/insert, O(n)
// sweep, concurrency-safe via a recursive-capable mutex substitute (Go has
// no recursive mutex; re-entrancy during logging is avoided by never
// calling back into the table from within a held lock - see Sweep).
type Table struct {
	ttl   time.Duration
	mu    sync.Mutex
	store cache.Cache[string, *Entry]
}

// New builds a session table with the given TTL.
func New(ttl time.Duration) *Table {
	c := cache.NewCache[string, *Entry]().WithTTL(ttl)
	return &Table{ttl: ttl, store: c}
}

// Lookup returns the backend for key, refreshing its TTL on hit, nil if
// absent, expired, dead or disabled (spec.md §3 "lazily expunged").
func (t *Table) Lookup(key string) (*model.Backend, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.store.Get(key)
	if !ok {
		return nil, false
	}
	if !e.Backend.Eligible() {
		t.store.Invalidate(key)
		return nil, false
	}
	e.LastSeen = time.Now()
	t.store.Set(key, e, t.ttl) // refresh TTL
	return e.Backend, true
}

// Insert inserts or refreshes key -> backend.
func (t *Table) Insert(key string, b *model.Backend) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store.Set(key, &Entry{Backend: b, LastSeen: time.Now()}, t.ttl)
}

// Sweep removes entries whose backend has died or been removed since
// insertion; expirable-cache handles pure TTL expiry internally, so Sweep
// here only needs to catch the "dead backend" half of spec.md §3's
// invariant. Safe to call from a background ticker.
func (t *Table) Sweep(now time.Time) (removed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range t.store.Keys() {
		e, ok := t.store.Peek(key)
		if !ok {
			continue
		}
		if !e.Backend.Eligible() || now.Sub(e.LastSeen) > t.ttl {
			t.store.Invalidate(key)
			removed++
		}
	}
	return removed
}

// Len returns the current number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Len()
}
