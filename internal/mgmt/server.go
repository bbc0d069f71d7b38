// Package mgmt implements the control-plane HTTP API: GET / for a JSON
// listing of the listener/service/backend hierarchy, PUT to toggle a
// backend's disabled flag, DELETE to remove a dynamic backend, and
// /metrics for Prometheus scraping (spec.md §6 "Control endpoint").
//
// Grounded on the teacher's app/mgmt/server.go (net/http.ServeMux +
// go-pkgz/rest middleware chain + promhttp.Handler wiring), generalized
// from reproxy's read-only /routes listing to the read-write
// GET/PUT/DELETE hierarchy spec.md's control endpoint describes.
package mgmt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coreproxy/coreproxy/internal/model"
)

// Informer exposes the currently-published configuration graph to the
// control plane, abstracting over however the caller publishes reloads
// (spec.md §9's "single root reachable via an atomic pointer swap").
type Informer interface {
	Current() *model.GlobalConfig
}

// Server is the control-plane HTTP listener.
type Server struct {
	Addr      string
	Informer  Informer
	Version   string
	RateLimit float64 // requests/sec, 0 disables throttling
	Metrics   *Metrics
}

// Run starts the control-plane HTTP server and blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log.Printf("[INFO] start control-plane server on %s", s.Addr)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.rootHandler())
	mux.HandleFunc("/listener/", s.listenerHandler())
	if s.Metrics != nil {
		mux.Handle("/metrics", promhttp.Handler())
	}

	var h http.Handler = mux
	if s.RateLimit > 0 {
		h = NewThrottler(s.RateLimit).Middleware(h)
	}
	h = handlers.CompressHandler(h)
	h = rest.Wrap(h,
		rest.Recoverer(log.Default()),
		rest.AppInfo("coreproxy-mgmt", "coreproxy", s.Version),
		rest.Ping,
	)

	httpServer := http.Server{
		Addr:              s.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if err := httpServer.Shutdown(context.Background()); err != nil {
			log.Printf("[WARN] control-plane server shutdown: %v", err)
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type listenerView struct {
	Index    int            `json:"index"`
	Addr     string         `json:"addr"`
	IsTLS    bool           `json:"tls"`
	Services []serviceView  `json:"services"`
}

type serviceView struct {
	Index    int           `json:"index"`
	Disabled bool          `json:"disabled"`
	Backends []backendView `json:"backends"`
}

type backendView struct {
	Index    int    `json:"index"`
	Kind     string `json:"kind"`
	Addr     string `json:"addr,omitempty"`
	Disabled bool   `json:"disabled"`
	Alive    bool   `json:"alive"`
	Priority int    `json:"priority"`
}

// rootHandler implements `GET /`: a JSON listing of the whole
// listener/service/backend hierarchy (spec.md §6 "mirrors the on-disk
// listener/service/backend hierarchy").
func (s *Server) rootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest.RenderJSON(w, s.snapshot())
	}
}

func (s *Server) snapshot() []listenerView {
	cfg := s.Informer.Current()
	if cfg == nil {
		return nil
	}
	out := make([]listenerView, 0, len(cfg.Listeners))
	for li, l := range cfg.Listeners {
		lv := listenerView{Index: li, Addr: l.Addr, IsTLS: l.IsTLS}
		for si, svc := range l.Services {
			sv := serviceView{Index: si, Disabled: svc.Disabled}
			for _, grp := range []*model.BalancerGroup{&svc.Backends.Normal, &svc.Backends.Emergency} {
				for bi, b := range grp.Backends {
					sv.Backends = append(sv.Backends, backendView{
						Index: bi, Kind: backendKindName(b.Kind), Addr: b.Addr,
						Disabled: b.Disabled, Alive: b.Alive(), Priority: b.Priority,
					})
				}
			}
			lv.Services = append(lv.Services, sv)
		}
		out = append(out, lv)
	}
	return out
}

func backendKindName(k model.BackendKind) string {
	names := map[model.BackendKind]string{
		model.BKRegular: "regular", model.BKMatrix: "matrix", model.BKNamedRef: "named-ref",
		model.BKRedirect: "redirect", model.BKError: "error", model.BKAcme: "acme",
		model.BKControl: "control", model.BKMetrics: "metrics",
	}
	if n, ok := names[k]; ok {
		return n
	}
	return "unknown"
}

// listenerHandler implements `PUT /listener/N/service/M/backend/K` (toggle
// disabled) and `DELETE` (remove a dynamic backend) against the path shape
// spec.md §6 specifies.
func (s *Server) listenerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		li, si, bi, err := parseHierarchyPath(r.URL.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg := s.Informer.Current()
		if cfg == nil || li < 0 || li >= len(cfg.Listeners) {
			http.Error(w, "listener not found", http.StatusNotFound)
			return
		}
		l := cfg.Listeners[li]
		if si < 0 || si >= len(l.Services) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		svc := l.Services[si]
		b, grp := findBackend(svc, bi)
		if b == nil {
			http.Error(w, "backend not found", http.StatusNotFound)
			return
		}

		switch r.Method {
		case http.MethodPut:
			var body struct {
				Disabled bool `json:"disabled"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, "bad request body", http.StatusBadRequest)
				return
			}
			b.Disabled = body.Disabled
			grp.Recompute()
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			grp.Remove(b)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func findBackend(svc *model.Service, idx int) (*model.Backend, *model.BalancerGroup) {
	for _, grp := range []*model.BalancerGroup{&svc.Backends.Normal, &svc.Backends.Emergency} {
		if idx >= 0 && idx < len(grp.Backends) {
			return grp.Backends[idx], grp
		}
	}
	return nil, nil
}

// parseHierarchyPath parses "/listener/N/service/M/backend/K".
func parseHierarchyPath(path string) (li, si, bi int, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 6 || parts[0] != "listener" || parts[2] != "service" || parts[4] != "backend" {
		return 0, 0, 0, fmt.Errorf("mgmt: malformed path %q", path)
	}
	li, e1 := strconv.Atoi(parts[1])
	si, e2 := strconv.Atoi(parts[3])
	bi, e3 := strconv.Atoi(parts[5])
	if e1 != nil || e2 != nil || e3 != nil {
		return 0, 0, 0, fmt.Errorf("mgmt: malformed path %q", path)
	}
	return li, si, bi, nil
}
