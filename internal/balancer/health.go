package balancer

import (
	"context"
	"net"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"

	"github.com/coreproxy/coreproxy/internal/model"
)

// KillBackend sets alive=false and recomputes the owning group's tot_pri
// (spec.md §4.5 "kill_be"). group must be the BalancerGroup currently
// holding b (normal or emergency).
func KillBackend(group *model.BalancerGroup, b *model.Backend) {
	b.SetAlive(false)
	group.Recompute()
	log.Printf("[NOTICE] backend %s marked dead", b.Addr)
}

// ReviveBackend flips alive=true and restores priority participation.
func ReviveBackend(group *model.BalancerGroup, b *model.Backend) {
	b.SetAlive(true)
	group.Recompute()
	log.Printf("[INFO] backend %s revived", b.Addr)
}

// Prober checks whether a backend can currently serve traffic.
type Prober interface {
	Probe(ctx context.Context, b *model.Backend) error
}

// DialProber probes a Regular backend with a bare TCP/unix dial, the
// cheapest possible "is anything listening" check. No HTTP-level liveness
// check exists in this module.
type DialProber struct {
	Timeout time.Duration
}

// Probe implements Prober.
func (p DialProber) Probe(ctx context.Context, b *model.Backend) error {
	d := net.Dialer{Timeout: p.Timeout}
	network := "tcp"
	if b.Family == model.FamUnix {
		network = "unix"
	}
	conn, err := d.DialContext(ctx, network, b.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// RetryTicker re-tests dead backends once per Interval on a plain
// time.Ticker (spec.md §4.5 "background ticker re-tests dead backends at
// retry_interval"); each tick probes every dead backend once, with no
// retry or backoff within a tick.
type RetryTicker struct {
	Interval time.Duration
	Prober   Prober
}

// Run polls every backend in group at Interval until ctx is done, reviving
// any dead backend that answers a probe.
func (t *RetryTicker) Run(ctx context.Context, group *model.BalancerGroup) {
	if t.Prober == nil {
		t.Prober = DialProber{Timeout: time.Second}
	}
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, b := range group.Backends {
				if b.Alive() || b.Disabled {
					continue
				}
				if err := t.Prober.Probe(ctx, b); err == nil {
					ReviveBackend(group, b)
				}
			}
		}
	}
}

// ConnectWithRetry dials a backend with capped retries, per spec.md §4.6
// "CONNECT_BE: non-blocking connect with timeout; on failure kill backend
// and restart ROUTE (capped retries)". The retries are delegated to
// go-pkgz/repeater's default strategy: up to attempts tries with a fixed
// 50ms delay between them.
func ConnectWithRetry(ctx context.Context, b *model.Backend, attempts int, dial func(context.Context, *model.Backend) (net.Conn, error)) (net.Conn, error) {
	var conn net.Conn
	rep := repeater.NewDefault(attempts, 50*time.Millisecond)
	err := rep.Do(ctx, func() error {
		c, dialErr := dial(ctx, b)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	})
	return conn, err
}
