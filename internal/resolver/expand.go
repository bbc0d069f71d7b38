package resolver

import (
	"context"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/coreproxy/coreproxy/internal/model"
)

// Expander keeps a Matrix backend's Regular children in sync with DNS,
// diffing each poll's answer set against the current children: new
// addresses are added live, and a child whose address disappears is
// disabled and leaves the child set. Such a child leaves the balancer group
// at once when no request holds it, and otherwise waits on the Matrix
// backend's removal queue until its refcount drains to zero.
type Expander struct {
	Client *Client
}

// Sync resolves matrix's hostname and reconciles its children, returning the
// number of children added and the number removed (dropped from the group
// at once or queued for removal).
func (e *Expander) Sync(ctx context.Context, group *model.BalancerGroup, matrix *model.Backend) (added, removed int, err error) {
	if matrix.Kind != model.BKMatrix {
		return 0, 0, fmt.Errorf("resolver: Sync called on non-Matrix backend %s", matrix.Hostname)
	}

	answers, err := e.Client.Resolve(ctx, matrix.Hostname, matrix.Port, matrix.ResolveAddrs)
	if err != nil {
		return 0, 0, err
	}
	if matrix.ResolveAddrs == model.ResolveFirst && len(answers) > 1 {
		answers = answers[:1]
	}

	wanted := make(map[string]Answer, len(answers))
	for _, a := range answers {
		wanted[fmt.Sprintf("%s:%d", a.Host, a.Port)] = a
	}

	existing := matrix.Children()
	keep := make([]*model.Backend, 0, len(existing))
	seen := make(map[string]bool, len(existing))
	for _, child := range existing {
		seen[child.Addr] = true
		if _, ok := wanted[child.Addr]; ok {
			keep = append(keep, child)
			continue
		}
		// address dropped out of the answer set: queue for drain rather
		// than killing in-flight connections outright
		child.Disabled = true
		if child.RefCount() == 0 {
			group.Remove(child)
			removed++
			continue
		}
		matrix.QueueRemoval(child)
		removed++
	}

	for addr, a := range wanted {
		if seen[addr] {
			continue
		}
		child := model.NewRegular(addr, a.Priority)
		child.Family = model.FamINET
		child.Timeout = matrix.Timeout
		child.ConnTimeout = matrix.ConnTimeout
		child.TLS = matrix.TLS
		child.ServerName = matrix.ServerName
		child.Service = matrix.Service
		keep = append(keep, child)
		group.Add(child)
		added++
	}

	matrix.SetChildren(keep)
	group.Recompute()
	if added > 0 || removed > 0 {
		log.Printf("[INFO] matrix %s: +%d/-%d children (%d total)", matrix.Hostname, added, removed, len(keep))
	}
	return added, removed, nil
}

// Poller re-syncs every Matrix backend in a group at Interval until ctx is
// done, matching spec.md §4.5's "requery no more often than retry_interval".
type Poller struct {
	Expander *Expander
	Interval time.Duration
}

// Run polls group's Matrix backends, reconciling children and draining any
// removal queue whose refcounts have reached zero.
func (p *Poller) Run(ctx context.Context, group *model.BalancerGroup, matrices []*model.Backend) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, m := range matrices {
				if _, _, err := p.Expander.Sync(ctx, group, m); err != nil {
					log.Printf("[WARN] matrix %s resolve failed: %v", m.Hostname, err)
				}
				freed := m.DrainRemovalQueue()
				for _, f := range freed {
					group.Remove(f)
					log.Printf("[DEBUG] matrix %s: freed drained child %s", m.Hostname, f.Addr)
				}
			}
		}
	}
}
