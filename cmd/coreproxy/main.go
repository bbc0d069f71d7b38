// Command coreproxy is the reverse-proxy/load-balancer process: it loads a
// configuration file, binds every listener, and drives the worker pools,
// health checks, Matrix-backend resolution and the control-plane API until
// a termination signal arrives.
//
// Orchestration shape (signal handling, goroutine-per-subsystem startup,
// config-then-run flow) follows the teacher's app/main.go; the CLI flag
// set below instead follows spec.md §6's directive list.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flags "github.com/umputun/go-flags"

	"github.com/coreproxy/coreproxy/internal/balancer"
	"github.com/coreproxy/coreproxy/internal/config"
	"github.com/coreproxy/coreproxy/internal/httpproxy"
	"github.com/coreproxy/coreproxy/internal/listenbind"
	"github.com/coreproxy/coreproxy/internal/logging"
	"github.com/coreproxy/coreproxy/internal/match"
	"github.com/coreproxy/coreproxy/internal/mgmt"
	"github.com/coreproxy/coreproxy/internal/model"
	"github.com/coreproxy/coreproxy/internal/resolver"
	"github.com/coreproxy/coreproxy/internal/rewrite"
	"github.com/coreproxy/coreproxy/internal/session"
	"github.com/coreproxy/coreproxy/internal/workerpool"
)

var revision = "unknown"

var opts struct {
	Check       bool     `short:"c" long:"check" description:"check the configuration file and exit"`
	ErrToStderr bool     `short:"e" long:"stderr" description:"send errors to stderr (implies -F)"`
	Foreground  bool     `short:"F" long:"foreground" description:"stay in the foreground, don't daemonize"`
	ConfigPath  string   `short:"f" long:"config" default:"coreproxy.yml" description:"path to the configuration file"`
	PidFile     string   `short:"p" long:"pid" description:"write the process id to this file"`
	Version     bool     `short:"V" long:"version" description:"print version and exit"`
	Verbose     bool     `short:"v" long:"verbose" description:"echo log to stdout during startup"`
	Features    []string `short:"W" long:"feature" description:"toggle a feature: dns, include-dir=PATH, warn-deprecated" env-delim:","`
}

func main() {
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); !ok || fe.Type != flags.ErrHelp {
			fmt.Fprintf(os.Stderr, "cli error: %v\n", err)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("coreproxy %s\n", revision)
		return
	}
	if opts.ErrToStderr {
		opts.Foreground = true
	}

	logging.SetupProcess(opts.Verbose)
	log.Printf("[DEBUG] options: %+v", opts)

	if err := run(); err != nil {
		log.Fatalf("[ERROR] coreproxy failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading %s: %w", opts.ConfigPath, err)
	}

	if opts.Check {
		fmt.Printf("%s: configuration OK (%d listener(s))\n", opts.ConfigPath, len(cfg.Listeners))
		return nil
	}

	if opts.PidFile != "" {
		if err := writePidFile(opts.PidFile); err != nil {
			return fmt.Errorf("writing pid file: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal received, shutting down")
		cancel()
	}()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.accessLog.Close()

	a.start(ctx)

	<-ctx.Done()
	a.shutdown(cfg.Grace)
	return nil
}

// app holds every running subsystem, so shutdown can walk it uniformly.
type app struct {
	cfg *model.GlobalConfig

	eval          *match.Evaluator
	rewrite       *rewrite.Engine
	selector      *balancer.Selector
	metrics       *mgmt.Metrics
	accessLog     io.WriteCloser
	resolveClient *resolver.Client

	proxies []listenerRuntime
	mgmtSrv *mgmt.Server
}

type listenerRuntime struct {
	listener *model.Listener
	ln       net.Listener
	server   *httpproxy.Server
	pool     *workerpool.Pool
}

func newApp(cfg *model.GlobalConfig) (*app, error) {
	accessOut := logging.AccessLogWriter(cfg.LogFacility, 100, 10)
	tokens := logging.FormatForLevel(cfg.LogLevel)
	if named, ok := cfg.LogFormat["access"]; ok && named != "" {
		tokens = named
	}
	accessWriter, err := logging.NewWriter(accessOut, tokens)
	if err != nil {
		_ = accessOut.Close()
		return nil, fmt.Errorf("building access log format: %w", err)
	}

	a := &app{
		cfg:       cfg,
		eval:      &match.Evaluator{Passwords: match.NewHtpasswdChecker()},
		selector:  &balancer.Selector{},
		metrics:   mgmt.NewMetrics(),
		accessLog: accessOut,
	}
	a.rewrite = rewrite.NewEngine(a.eval)

	if cfg.Resolver != "" {
		a.resolveClient, err = resolver.NewClient(cfg.Resolver, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("building resolver client: %w", err)
		}
	}

	for _, l := range cfg.Listeners {
		ln, berr := bindListener(l)
		if berr != nil {
			return nil, fmt.Errorf("binding %s: %w", l.Addr, berr)
		}

		for _, svc := range l.Services {
			wireService(svc)
		}

		srv := &httpproxy.Server{
			Listener:    l,
			Eval:        a.eval,
			Rewrite:     a.rewrite,
			Selector:    a.selector,
			ExternalURL: l.URLPattern,
			Metrics:     a.metrics,
			AccessLog:   accessWriter,
		}

		queueLen := cfg.WorkerMaxCount * 4
		pool := workerpool.NewPool(cfg.WorkerMinCount, cfg.WorkerMaxCount, cfg.WorkerIdleTimeout, queueLen,
			func(arg workerpool.ThreadArg) { srv.Serve(arg.Sock, arg.Peer) })

		a.proxies = append(a.proxies, listenerRuntime{listener: l, ln: ln, server: srv, pool: pool})
	}

	if cfg.Control != nil {
		informer := &staticInformer{}
		informer.cfg.Store(cfg)
		a.mgmtSrv = &mgmt.Server{
			Addr:      cfg.Control.Addr,
			Informer:  informer,
			Version:   revision,
			RateLimit: cfg.Control.RateLimit,
			Metrics:   a.metrics,
		}
	}

	return a, nil
}

// wireService attaches a session table when the service configures
// stickiness; loaders never build one themselves since the table is a
// runtime object, not config data (spec.md §4.8).
func wireService(svc *model.Service) {
	if svc.Session.Type == model.SessionNone {
		return
	}
	ttl := svc.Session.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	svc.Sessions = session.New(ttl)
}

func (a *app) start(ctx context.Context) {
	for _, pr := range a.proxies {
		pr.pool.Start()
		go pr.pool.AcceptLoop(pr.ln, pr.listener)

		for _, svc := range pr.listener.Services {
			startBackgroundWork(ctx, svc, a.resolveClient)
			if tbl, ok := svc.Sessions.(*session.Table); ok {
				go sweepSessions(ctx, tbl)
			}
		}
	}

	if a.mgmtSrv != nil {
		go func() {
			if err := a.mgmtSrv.Run(ctx); err != nil {
				log.Printf("[WARN] control-plane server: %v", err)
			}
		}()
		if a.cfg.Control.MetricsBind != "" && a.cfg.Control.MetricsBind != a.cfg.Control.Addr {
			go runMetricsServer(ctx, a.cfg.Control.MetricsBind)
		}
	}
}

func (a *app) shutdown(grace time.Duration) {
	for _, pr := range a.proxies {
		pr.server.Shutdown()
		_ = pr.ln.Close()
		pr.pool.Shutdown(grace)
	}
}

const (
	defaultRetryInterval  = 10 * time.Second
	defaultMatrixInterval = 30 * time.Second
)

// startBackgroundWork launches the dead-backend retry ticker for a
// service's two balancer groups and, when the group owns any Matrix
// backends and a resolver client is configured, the Matrix reconciliation
// poller for that group (spec.md §4.5).
func startBackgroundWork(ctx context.Context, svc *model.Service, resolveClient *resolver.Client) {
	for _, group := range []*model.BalancerGroup{&svc.Backends.Normal, &svc.Backends.Emergency} {
		retry := &balancer.RetryTicker{Interval: retryIntervalFor(group)}
		go retry.Run(ctx, group)

		if resolveClient == nil {
			continue
		}
		matrices := matrixBackends(group)
		if len(matrices) == 0 {
			continue
		}
		poller := &resolver.Poller{Expander: &resolver.Expander{Client: resolveClient}, Interval: defaultMatrixInterval}
		go poller.Run(ctx, group, matrices)
	}
}

func retryIntervalFor(group *model.BalancerGroup) time.Duration {
	longest := time.Duration(0)
	for _, b := range group.Backends {
		if b.RetryInterval > longest {
			longest = b.RetryInterval
		}
	}
	if longest == 0 {
		return defaultRetryInterval
	}
	return longest
}

func matrixBackends(group *model.BalancerGroup) []*model.Backend {
	var out []*model.Backend
	for _, b := range group.Backends {
		if b.Kind == model.BKMatrix {
			out = append(out, b)
		}
	}
	return out
}

func sweepSessions(ctx context.Context, tbl *session.Table) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := tbl.Sweep(now); n > 0 {
				log.Printf("[DEBUG] session table: swept %d stale entries", n)
			}
		}
	}
}

// staticInformer implements mgmt.Informer over a configuration graph that
// never changes after load; this module does not implement config reload.
type staticInformer struct {
	cfg atomic.Pointer[model.GlobalConfig]
}

func (s *staticInformer) Current() *model.GlobalConfig { return s.cfg.Load() }

func runMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("[WARN] metrics server on %s: %v", addr, err)
	}
}

func bindListener(l *model.Listener) (net.Listener, error) {
	ln, err := listenbind.Bind(l.Addr)
	if err != nil {
		return nil, err
	}
	if !l.IsTLS {
		return ln, nil
	}
	tlsCfg, err := buildTLSConfig(l)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return tls.NewListener(ln, tlsCfg), nil
}

// buildTLSConfig wires SNI dispatch through Listener.PickTLSContext and
// client-certificate verification through the listener's configured
// ClientCert mode (spec.md §6 "TLS").
func buildTLSConfig(l *model.Listener) (*tls.Config, error) {
	if len(l.TLSCtxs) == 0 {
		return nil, fmt.Errorf("listener %s: tls enabled with no certificates configured", l.Addr)
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	cfg.GetCertificate = func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		tc := l.PickTLSContext(hello.ServerName)
		if tc == nil {
			return nil, fmt.Errorf("no TLS context for %s", hello.ServerName)
		}
		return &tc.Cert, nil
	}
	switch l.TLSCtxs[0].VerifyMode {
	case 1:
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	case 2, 3:
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	default:
		cfg.ClientAuth = tls.NoClientCert
	}
	return cfg, nil
}

func writePidFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
