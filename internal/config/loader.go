package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coreproxy/coreproxy/internal/model"
)

// Load reads and parses a YAML configuration file into a GlobalConfig,
// resolving ACL references and NamedRef backends as it goes (spec.md §3
// "Config error ... unresolved named backend ... Fatal at load").
func Load(path string) (*model.GlobalConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var doc docConfig
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return build(&doc)
}

func build(doc *docConfig) (*model.GlobalConfig, error) {
	cfg := &model.GlobalConfig{
		User:           doc.User,
		Group:          doc.Group,
		Daemon:         doc.Daemon,
		WorkerMinCount: doc.WorkerMinCount,
		WorkerMaxCount: doc.WorkerMaxCount,
		LogFacility:    doc.LogFacility,
		LogLevel:       doc.LogLevel,
		LogFormat:      doc.LogFormat,
		CombineHeaders: doc.CombineHeaders,
		Resolver:       doc.Resolver,
		NamedBackends:  model.NamedBackendTable{},
	}

	var err error
	if cfg.WorkerIdleTimeout, err = parseDuration(doc.WorkerIdleTimeout, 60*time.Second); err != nil {
		return nil, fmt.Errorf("config: worker_idle_timeout: %w", err)
	}
	if cfg.Grace, err = parseDuration(doc.Grace, 10*time.Second); err != nil {
		return nil, fmt.Errorf("config: grace: %w", err)
	}
	cfg.RegexType = parseRegexFlavor(doc.RegexType)

	if doc.Control != nil {
		cfg.Control = &model.ControlConfig{
			Addr:        doc.Control.Addr,
			RateLimit:   doc.Control.RateLimit,
			MetricsBind: doc.Control.MetricsBind,
		}
	}

	cfg.ACLs = map[string]*model.ACL{}
	for name, cidrs := range doc.ACLs {
		acl := &model.ACL{Name: name}
		for _, cidr := range cidrs {
			entry, aerr := model.NewACLEntry(cidr)
			if aerr != nil {
				return nil, fmt.Errorf("config: acl %q entry %q: %w", name, cidr, aerr)
			}
			acl.Entries = append(acl.Entries, entry)
		}
		cfg.ACLs[name] = acl
	}

	for _, db := range doc.Backends {
		b, berr := buildBackend(&db)
		if berr != nil {
			return nil, fmt.Errorf("config: backend %q: %w", db.Name, berr)
		}
		if db.Name != "" {
			cfg.NamedBackends[db.Name] = b
		}
	}

	for _, dl := range doc.Listeners {
		l, lerr := buildListener(&dl, cfg)
		if lerr != nil {
			return nil, fmt.Errorf("config: listener %s: %w", dl.Addr, lerr)
		}
		cfg.Listeners = append(cfg.Listeners, l)
	}

	return cfg, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func parseRegexFlavor(s string) model.RegexFlavor {
	if s == "pcre" {
		return model.RegexPCRE
	}
	return model.RegexPosix
}

func buildBackend(db *docBackend) (*model.Backend, error) {
	b := &model.Backend{Priority: db.Priority, Disabled: db.Disabled}
	if b.Priority == 0 {
		b.Priority = 1
	}

	switch db.Kind {
	case "", "regular":
		b.Kind = model.BKRegular
		b.Addr = db.Addr
		b.Family = parseFamily(db.Family)
		b.TLS = db.TLS
		b.ServerName = db.ServerName
		var err error
		if b.Timeout, err = parseDuration(db.Timeout, 30*time.Second); err != nil {
			return nil, err
		}
		if b.ConnTimeout, err = parseDuration(db.ConnTimeout, 5*time.Second); err != nil {
			return nil, err
		}
		if b.WSTimeout, err = parseDuration(db.WSTimeout, 60*time.Second); err != nil {
			return nil, err
		}
		b.SetAlive(true)

	case "matrix":
		b.Kind = model.BKMatrix
		b.Hostname = db.Hostname
		b.Port = db.Port
		b.ResolveAddrs = parseResolveMode(db.ResolveAddrs)
		var err error
		if b.RetryInterval, err = parseDuration(db.RetryInterval, 30*time.Second); err != nil {
			return nil, err
		}

	case "redirect":
		b.Kind = model.BKRedirect
		b.RedirectCode = parseRedirectStatus(db.RedirectCode)
		b.URLTemplate = db.URLTemplate
		b.HasURIFlag = db.HasURIFlag
		b.SetAlive(true)

	case "error":
		b.Kind = model.BKError
		b.Status = db.Status
		b.Body = []byte(db.Body)
		b.SetAlive(true)

	case "acme":
		b.Kind = model.BKAcme
		b.ChallengeDir = db.ChallengeDir
		b.SetAlive(true)

	default:
		return nil, fmt.Errorf("unknown backend kind %q", db.Kind)
	}
	return b, nil
}

func parseFamily(s string) model.AddrFamily {
	switch s {
	case "unix":
		return model.FamUnix
	case "inet6":
		return model.FamINET6
	default:
		return model.FamINET
	}
}

func parseResolveMode(s string) model.ResolveMode {
	switch s {
	case "first":
		return model.ResolveFirst
	case "all":
		return model.ResolveAll
	case "srv":
		return model.ResolveSRV
	default:
		return model.ResolveImmediate
	}
}

func parseRedirectStatus(code int) model.RedirectStatus {
	switch code {
	case 301, 302, 303, 307, 308:
		return model.RedirectStatus(code)
	default:
		return model.Redirect302
	}
}

func buildListener(dl *docListener, cfg *model.GlobalConfig) (*model.Listener, error) {
	l := &model.Listener{
		Addr:               dl.Addr,
		IsTLS:              dl.TLS,
		URLPattern:         dl.URLPattern,
		MaxReqSize:         dl.MaxReqSize,
		MaxURILength:       dl.MaxURILength,
		ForwardedHeader:    dl.ForwardedHeader,
		LogLevel:           dl.LogLevel,
		RewriteLocation:    model.RewriteLocationMode(dl.RewriteLocation),
		RewriteDestination: dl.RewriteDestination,
		Verb:               model.VerbMax(dl.Verb),
		NoHTTPS11:          model.NoHTTPS11Mode(dl.NoHTTPS11),
		AllowClientReneg:   model.RenegMode(dl.AllowClientReneg),
		HTTPErr:            dl.HTTPErr,
	}
	if dl.SSLHeaders {
		l.HeaderOptions |= model.HdrOptSSLHeaders
	}
	if dl.ForwardedForHeader {
		l.HeaderOptions |= model.HdrOptForwardedFor
	}
	var err error
	if l.ClientTimeout, err = parseDuration(dl.ClientTimeout, 30*time.Second); err != nil {
		return nil, err
	}
	if dl.TrustedIPs != "" {
		acl, ok := cfg.ACLs[dl.TrustedIPs]
		if !ok {
			return nil, fmt.Errorf("trusted_ips references unknown acl %q", dl.TrustedIPs)
		}
		l.TrustedIPs = acl
	}
	if l.Rewrite, err = buildRewrite(&dl.Rewrite, cfg); err != nil {
		return nil, err
	}

	for _, ds := range dl.Services {
		svc, serr := buildService(&ds, cfg)
		if serr != nil {
			return nil, fmt.Errorf("service %q: %w", ds.Name, serr)
		}
		l.Services = append(l.Services, svc)
	}
	return l, nil
}

func buildService(ds *docService, cfg *model.GlobalConfig) (*model.Service, error) {
	svc := &model.Service{Name: ds.Name, Disabled: ds.Disabled, ForwardedHeader: ds.ForwardedHeader}

	var err error
	if svc.Condition, err = buildCondition(ds.Condition, cfg); err != nil {
		return nil, err
	}
	if svc.Rewrite, err = buildRewrite(&ds.Rewrite, cfg); err != nil {
		return nil, err
	}
	if ds.TrustedIPs != "" {
		acl, ok := cfg.ACLs[ds.TrustedIPs]
		if !ok {
			return nil, fmt.Errorf("trusted_ips references unknown acl %q", ds.TrustedIPs)
		}
		svc.TrustedIPs = acl
	}
	if ds.Session != nil {
		svc.Session.Type = parseSessionType(ds.Session.Type)
		svc.Session.IDString = ds.Session.IDString
		if svc.Session.TTL, err = parseDuration(ds.Session.TTL, 5*time.Minute); err != nil {
			return nil, err
		}
	}

	if err = buildBalancer(&svc.Backends.Normal, &ds.Normal, cfg); err != nil {
		return nil, fmt.Errorf("normal group: %w", err)
	}
	if err = buildBalancer(&svc.Backends.Emergency, &ds.Emergency, cfg); err != nil {
		return nil, fmt.Errorf("emergency group: %w", err)
	}
	return svc, nil
}

func parseSessionType(s string) model.SessionType {
	switch s {
	case "ip":
		return model.SessionIP
	case "cookie":
		return model.SessionCookie
	case "url":
		return model.SessionURL
	case "parm":
		return model.SessionParm
	case "basic":
		return model.SessionBasic
	case "header":
		return model.SessionHeader
	default:
		return model.SessionNone
	}
}

func buildBalancer(group *model.BalancerGroup, db *docBalancer, cfg *model.GlobalConfig) error {
	if db.Algo == "iwrr" {
		group.Algo = model.AlgoIWRR
	}
	for _, m := range db.Members {
		var b *model.Backend
		switch {
		case m.Ref != "":
			var ok bool
			b, ok = cfg.NamedBackends.Resolve(m.Ref)
			if !ok {
				return fmt.Errorf("unresolved named backend %q", m.Ref)
			}
		case m.Inline != nil:
			var berr error
			b, berr = buildBackend(m.Inline)
			if berr != nil {
				return berr
			}
		default:
			return fmt.Errorf("balancer member has neither ref nor inline backend")
		}
		group.Add(b)
	}
	return nil
}

func buildCondition(dc *docCond, cfg *model.GlobalConfig) (*model.Condition, error) {
	if dc == nil {
		return nil, nil
	}
	switch {
	case len(dc.And) > 0:
		children, err := buildConditionList(dc.And, cfg)
		if err != nil {
			return nil, err
		}
		return model.And(children...), nil
	case len(dc.Or) > 0:
		children, err := buildConditionList(dc.Or, cfg)
		if err != nil {
			return nil, err
		}
		return model.Or(children...), nil
	case dc.Not != nil:
		child, err := buildCondition(dc.Not, cfg)
		if err != nil {
			return nil, err
		}
		return model.Not(child), nil
	}

	leaf := &model.Condition{
		Kind:    parseLeafKind(dc.Kind),
		Pattern: dc.Pattern,
		Flavor:  parseFlavor(dc.Flavor),
		Flags:   model.LeafFlags{ICase: dc.ICase, Multiline: dc.Multiline},
		Name:    dc.Name,
		PwFile:  dc.PwFile,
	}
	if dc.ACL != "" {
		acl, ok := cfg.ACLs[dc.ACL]
		if !ok {
			return nil, fmt.Errorf("condition references unknown acl %q", dc.ACL)
		}
		leaf.ACL = acl
	}
	return leaf, nil
}

func buildConditionList(docs []docCond, cfg *model.GlobalConfig) ([]*model.Condition, error) {
	out := make([]*model.Condition, 0, len(docs))
	for i := range docs {
		c, err := buildCondition(&docs[i], cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func parseLeafKind(s string) model.LeafKind {
	switch s {
	case "path":
		return model.LeafPath
	case "query":
		return model.LeafQuery
	case "query_param":
		return model.LeafQueryParam
	case "header":
		return model.LeafHeader
	case "host":
		return model.LeafHost
	case "string":
		return model.LeafString
	case "acl":
		return model.LeafACL
	case "basic_auth":
		return model.LeafBasicAuth
	default:
		return model.LeafURL
	}
}

func parseFlavor(s string) model.PatternFlavor {
	switch s {
	case "pcre":
		return model.FlavorPCRE
	case "exact":
		return model.FlavorExact
	case "prefix":
		return model.FlavorPrefix
	case "suffix":
		return model.FlavorSuffix
	case "contain":
		return model.FlavorContain
	default:
		return model.FlavorERE
	}
}

func buildRewrite(dr *docRewrite, cfg *model.GlobalConfig) (map[model.Phase][]*model.RewriteRule, error) {
	out := map[model.Phase][]*model.RewriteRule{}
	req, err := buildRules(dr.Request, cfg)
	if err != nil {
		return nil, err
	}
	if len(req) > 0 {
		out[model.PhaseRequest] = req
	}
	resp, err := buildRules(dr.Response, cfg)
	if err != nil {
		return nil, err
	}
	if len(resp) > 0 {
		out[model.PhaseResponse] = resp
	}
	return out, nil
}

func buildRules(docs []docRule, cfg *model.GlobalConfig) ([]*model.RewriteRule, error) {
	out := make([]*model.RewriteRule, 0, len(docs))
	for i := range docs {
		r, err := buildRule(&docs[i], cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func buildRule(dr *docRule, cfg *model.GlobalConfig) (*model.RewriteRule, error) {
	cond, err := buildCondition(dr.Condition, cfg)
	if err != nil {
		return nil, err
	}
	rule := &model.RewriteRule{Condition: cond}
	for _, op := range dr.Ops {
		mop, operr := buildOp(&op, cfg)
		if operr != nil {
			return nil, operr
		}
		rule.Ops = append(rule.Ops, mop)
	}
	if dr.Else != nil {
		elseRule, eerr := buildRule(dr.Else, cfg)
		if eerr != nil {
			return nil, eerr
		}
		rule.Else = elseRule
	}
	return rule, nil
}

func buildOp(op *docOp, cfg *model.GlobalConfig) (model.RewriteOp, error) {
	mop := model.RewriteOp{Line: op.Line, Template: op.Template, Name: op.Name}
	switch op.Kind {
	case "delete_header":
		mop.Kind = model.OpDeleteHeader
	case "set_url":
		mop.Kind = model.OpSetURL
	case "set_path":
		mop.Kind = model.OpSetPath
	case "set_query":
		mop.Kind = model.OpSetQuery
	case "set_query_param":
		mop.Kind = model.OpSetQueryParam
	case "sub_rewrite":
		mop.Kind = model.OpSubRewrite
		if op.Sub != nil {
			sub, err := buildRule(op.Sub, cfg)
			if err != nil {
				return mop, err
			}
			mop.Sub = sub
		}
	default:
		mop.Kind = model.OpSetHeader
	}
	return mop, nil
}
