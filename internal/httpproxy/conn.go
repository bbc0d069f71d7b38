// Package httpproxy implements the per-connection HTTP/1.x state machine:
// request parsing, service/backend routing, request/response forwarding in
// content-length/chunked/RPC-streaming modes, the WebSocket upgrade tunnel,
// and the internal-backend handlers (redirect/error/acme/control/metrics)
// (spec.md §4.6). Raw net.Conn + bufio is used instead of net/http's server
// loop because the RPC_IN_DATA/RPC_OUT_DATA tunnel needs both directions of
// a connection streaming concurrently past what a single request/response
// round trip models, and the WebSocket tunnel needs the same raw duplex
// byte pump; net/http's higher-level request/response contract has no seam
// for either. Header parsing, error-body conventions and the balancer/
// rewrite wiring otherwise follow the teacher's app/proxy/{handlers,proxy}.go
// as closely as the raw-socket rewrite allows.
package httpproxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/coreproxy/coreproxy/internal/balancer"
	"github.com/coreproxy/coreproxy/internal/logging"
	"github.com/coreproxy/coreproxy/internal/match"
	"github.com/coreproxy/coreproxy/internal/model"
	"github.com/coreproxy/coreproxy/internal/rewrite"
)

// Server drives the accept-to-close lifecycle of connections on one
// listener. It holds no socket of its own; workerpool.Pool calls Serve per
// accepted connection.
type Server struct {
	Listener *model.Listener
	Eval     *match.Evaluator
	Rewrite  *rewrite.Engine
	Selector *balancer.Selector
	Dial     func(ctx context.Context, network, addr string) (net.Conn, error)

	ErrBodies   map[int][]byte // optional status -> body overrides; nil uses the defaults
	ExternalURL string         // listener's external authority, for Location rewrite
	Metrics     MetricsSink    // optional; nil disables observation
	AccessLog   AccessSink     // optional; nil disables access logging

	shuttingDown int32
}

// MetricsSink receives one observation per completed request-response
// cycle; internal/mgmt.Metrics satisfies this without either package
// importing the other.
type MetricsSink interface {
	Observe(listener string, status int, elapsed time.Duration)
}

// AccessSink receives one rendered access-log record per completed
// request-response cycle; *internal/logging.Writer satisfies this.
type AccessSink interface {
	Log(rec logging.Record)
}

// Shutdown marks the server as draining; Serve rejects further keep-alive
// reuse on connections still in flight once the current request completes.
func (s *Server) Shutdown() { atomic.StoreInt32(&s.shuttingDown, 1) }

func (s *Server) draining() bool { return atomic.LoadInt32(&s.shuttingDown) != 0 }

// Serve runs the state machine for one accepted client connection until the
// peer closes it, a fatal protocol error occurs, or the server is draining.
// It never returns an error the caller must act on: all failures are logged
// and result in the connection being closed.
func (s *Server) Serve(conn net.Conn, peer net.IP) {
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetLinger(10)
		_ = tc.SetNoDelay(true)
	}

	br := bufio.NewReader(conn)
	var tlsState *tls.ConnectionState
	if tlsConn, ok := conn.(*tls.Conn); ok {
		st := tlsConn.ConnectionState()
		tlsState = &st
	}

	for {
		if s.Listener.ClientTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.Listener.ClientTimeout))
		}

		req, rerr := readRequest(br, s.Listener)
		if rerr != nil {
			if !errors.Is(rerr, errConnClosed) {
				log.Printf("[INFO] read request from %s: %v", peer, rerr)
			}
			return
		}
		if req.parseErr != 0 {
			s.writeError(conn, req.parseErr)
			return
		}

		keepAlive := s.handleOne(conn, br, peer, req, tlsState)
		if !keepAlive || s.draining() {
			return
		}
	}
}

// handleOne runs VALIDATE..FORWARD_RESPONSE (or HANDLE_INTERNAL) for a
// single request already read off the wire, returning whether the
// connection should stay open for another request.
func (s *Server) handleOne(conn net.Conn, br *bufio.Reader, peer net.IP, pr *parsedRequest, tlsState *tls.ConnectionState) bool {
	req := pr.req
	start := time.Now()

	if err := rewriteListener(s, req); err != nil {
		log.Printf("[NOTICE] listener rewrite error: %v", err)
	}

	svc, backend, err := s.route(peer, req)
	if err != nil {
		status := statusFor(err)
		s.writeError(conn, status)
		s.observe(status, start)
		s.logAccess(peer, req, "", "", status, start, 0)
		return pr.keepAlive
	}

	switch backend.Kind {
	case model.BKRedirect:
		status := writeRedirect(conn, backend, req)
		s.observe(status, start)
		s.logAccess(peer, req, svc.Name, backend.Addr, status, start, 0)
		return pr.keepAlive
	case model.BKError:
		status := writeCannedBackend(conn, backend)
		s.observe(status, start)
		s.logAccess(peer, req, svc.Name, backend.Addr, status, start, int64(len(backend.Body)))
		return pr.keepAlive
	case model.BKAcme:
		status := serveAcme(conn, backend, req)
		s.observe(status, start)
		s.logAccess(peer, req, svc.Name, backend.Addr, status, start, 0)
		return pr.keepAlive
	}

	return s.forwardToBackend(conn, br, peer, svc, backend, req, pr, tlsState)
}

// route implements spec.md §4.3's service scan followed by §4.4's
// get_backend, in order.
func (s *Server) route(peer net.IP, req *model.Request) (*model.Service, *model.Backend, error) {
	for _, svc := range s.Listener.Services {
		if svc.Disabled {
			continue
		}
		caps := &match.Caps{}
		ok, err := s.Eval.Eval(svc.Condition, req, peer, caps)
		if err != nil || !ok {
			continue
		}
		if len(caps.Vector) > 0 {
			req.Captures = caps.Vector
		}
		if err := s.Rewrite.ApplyChain(svc.Rewrite[model.PhaseRequest], req); err != nil {
			log.Printf("[NOTICE] service rewrite error: %v", err)
		}
		b, _, err := s.Selector.GetBackend(svc, peer, req)
		if err != nil {
			return svc, nil, errNoBackend
		}
		return svc, b, nil
	}
	return nil, nil, errNoService
}

func rewriteListener(s *Server, req *model.Request) error {
	return s.Rewrite.ApplyChain(s.Listener.Rewrite[model.PhaseRequest], req)
}

// observe reports one completed response to s.Metrics, if configured
// (spec.md §4.7's "LOG" step; the control plane's /metrics surface itself
// is out of spec.md's strict scope, but the ambient observation hook is
// carried regardless, per SPEC_FULL.md's ambient-stack rule).
func (s *Server) observe(status int, start time.Time) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.Observe(s.Listener.Addr, status, time.Since(start))
}

// logAccess renders and emits one access-log record to s.AccessLog, if
// configured (spec.md §6 "Log formats"; token compilation itself lives in
// internal/logging, kept decoupled from this package the same way Metrics
// is, via a structurally-satisfied interface).
func (s *Server) logAccess(peer net.IP, req *model.Request, svcName, backendName string, status int, start time.Time, respBytes int64) {
	if s.AccessLog == nil {
		return
	}
	clientAddr := ""
	if peer != nil {
		clientAddr = peer.String()
	}
	rec := logging.Record{
		ClientAddr:   clientAddr,
		RequestLine:  fmt.Sprintf("%s %s HTTP/1.%d", req.RawMethod, req.URL.RequestURI(), req.Minor),
		Status:       status,
		ResponseSize: respBytes,
		User:         req.AuthUser,
		Service:      svcName,
		Backend:      backendName,
		Duration:     time.Since(start),
		Timestamp:    start,
		Header: func(name string) (string, bool) {
			h, ok := req.Headers.GetByName(name)
			if !ok {
				return "", false
			}
			return h.Value, true
		},
	}
	s.AccessLog.Log(rec)
}

var (
	errNoService  = errors.New("httpproxy: no matching service")
	errNoBackend  = errors.New("httpproxy: no live backend")
	errConnClosed = errors.New("httpproxy: connection closed")
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, errNoService), errors.Is(err, errNoBackend):
		return 503
	default:
		return 500
	}
}
