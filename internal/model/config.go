package model

import "time"

// RegexFlavor records the configured regex dialect (spec.md §6 "RegexType
// {posix|pcre}"). The loader does not consult it: a condition without an
// explicit flavor loads as FlavorERE, and ERE and PCRE patterns compile
// the same way.
type RegexFlavor int

// enum of regex flavors
const (
	RegexPosix RegexFlavor = iota
	RegexPCRE
)

// GlobalConfig holds the top-level directives of spec.md §6's configuration
// file: process identity, worker pool sizing, logging, and the listener/ACL
// graph loaded beneath it.
type GlobalConfig struct {
	User  string
	Group string

	Daemon            bool
	WorkerMinCount    int
	WorkerMaxCount    int
	WorkerIdleTimeout time.Duration
	Grace             time.Duration

	LogFacility string
	LogLevel    int
	LogFormat   map[string]string // named format -> token string

	Control *ControlConfig

	CombineHeaders bool
	RegexType      RegexFlavor
	Resolver       string // nameserver override, empty = system resolver

	Listeners []*Listener
	ACLs      map[string]*ACL

	NamedBackends NamedBackendTable
}

// ControlConfig configures the control-plane HTTP API (spec.md §6 "Control
// endpoint").
type ControlConfig struct {
	Addr       string
	RateLimit  float64 // requests/sec, 0 disables throttling
	MetricsBind string
}

// NamedBackendTable resolves Backend.RefName for NamedRef backends,
// populated at load time from top-level `Backend "name" ... End` blocks
// (spec.md §3 "NamedRef").
type NamedBackendTable map[string]*Backend

// Resolve looks up a named backend, reporting whether it exists.
func (t NamedBackendTable) Resolve(name string) (*Backend, bool) {
	b, ok := t[name]
	return b, ok
}
