package model

import (
	"sync"
	"sync/atomic"
	"time"
)

// BackendKind discriminates the Backend tagged union (spec.md §3).
type BackendKind int

// enum of backend kinds
const (
	BKRegular BackendKind = iota
	BKMatrix
	BKNamedRef
	BKRedirect
	BKError
	BKAcme
	BKControl
	BKMetrics
)

// ResolveMode controls how a Matrix backend expands into Regular children.
type ResolveMode int

// enum of resolve modes
const (
	ResolveImmediate ResolveMode = iota
	ResolveFirst
	ResolveAll
	ResolveSRV
)

// AddrFamily is the resolved network family of a Regular backend.
type AddrFamily int

// enum of address families
const (
	FamUnix AddrFamily = iota
	FamINET
	FamINET6
)

// RedirectStatus enumerates the status codes a Redirect backend may use.
type RedirectStatus int

// allowed redirect statuses
const (
	Redirect301 RedirectStatus = 301
	Redirect302 RedirectStatus = 302
	Redirect303 RedirectStatus = 303
	Redirect307 RedirectStatus = 307
	Redirect308 RedirectStatus = 308
)

// Backend is a tagged union over the eight backend kinds spec.md §3 names.
// Alive is guarded by mu and the refcount is updated atomically; Priority and
// Disabled are read far more often than written and are kept alongside.
type Backend struct {
	Kind BackendKind

	// shared fields
	Priority int
	Disabled bool
	Service  *Service // non-owning back-pointer

	mu    sync.Mutex
	alive bool
	refs  int32

	// Regular
	Addr        string // socket path for FamUnix, else "host:port"
	Family      AddrFamily
	Timeout     time.Duration
	ConnTimeout time.Duration
	WSTimeout   time.Duration
	TLS         bool
	ServerName  string

	// Matrix
	Hostname     string
	Port         int
	ResolveAddrs ResolveMode
	RetryInterval time.Duration
	children     []*Backend
	removalQueue []*Backend

	// NamedRef
	RefName string

	// Redirect
	RedirectCode RedirectStatus
	URLTemplate  string
	HasURIFlag   bool

	// Error
	Status int
	Body   []byte

	// Acme
	ChallengeDir string
}

// NewRegular builds a Regular backend, alive by default.
func NewRegular(addr string, priority int) *Backend {
	return &Backend{Kind: BKRegular, Addr: addr, Priority: priority, alive: true}
}

// Alive reports the backend's current liveness under its mutex.
func (b *Backend) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive
}

// SetAlive flips liveness; callers must subsequently recompute the owning
// group's tot_pri (spec.md §3 invariants).
func (b *Backend) SetAlive(alive bool) {
	b.mu.Lock()
	b.alive = alive
	b.mu.Unlock()
}

// Eligible reports whether the backend currently participates in selection.
func (b *Backend) Eligible() bool {
	return !b.Disabled && b.Alive()
}

// AddRef / Release implement the refcount-based removal protocol described
// in spec.md §9: a removed Matrix child is parked until refs reach zero.
func (b *Backend) AddRef()  { atomic.AddInt32(&b.refs, 1) }
func (b *Backend) Release() int32 { return atomic.AddInt32(&b.refs, -1) }
func (b *Backend) RefCount() int32 { return atomic.LoadInt32(&b.refs) }

// Children returns the current Regular children of a Matrix backend.
func (b *Backend) Children() []*Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Backend, len(b.children))
	copy(out, b.children)
	return out
}

// SetChildren atomically replaces the Matrix backend's child set.
func (b *Backend) SetChildren(children []*Backend) {
	b.mu.Lock()
	b.children = children
	b.mu.Unlock()
}

// QueueRemoval parks a removed child on the removal queue until its
// refcount drops to zero (spec.md §3 "Lifecycles").
func (b *Backend) QueueRemoval(child *Backend) {
	b.mu.Lock()
	b.removalQueue = append(b.removalQueue, child)
	b.mu.Unlock()
}

// DrainRemovalQueue frees every parked child whose refcount is zero and
// returns the ones still freed this pass (for logging/testing).
func (b *Backend) DrainRemovalQueue() (freed []*Backend) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rest := b.removalQueue[:0]
	for _, c := range b.removalQueue {
		if c.RefCount() <= 0 {
			freed = append(freed, c)
			continue
		}
		rest = append(rest, c)
	}
	b.removalQueue = rest
	return freed
}
