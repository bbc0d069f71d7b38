package config

// docConfig is the root YAML document shape. Field names mirror spec.md §6
// directives in snake_case, YAML's idiomatic casing.
type docConfig struct {
	User  string `yaml:"user"`
	Group string `yaml:"group"`

	Daemon            bool   `yaml:"daemon"`
	WorkerMinCount    int    `yaml:"worker_min_count"`
	WorkerMaxCount    int    `yaml:"worker_max_count"`
	WorkerIdleTimeout string `yaml:"worker_idle_timeout"`
	Grace             string `yaml:"grace"`

	LogFacility string            `yaml:"log_facility"`
	LogLevel    int               `yaml:"log_level"`
	LogFormat   map[string]string `yaml:"log_format"`

	Control *docControl `yaml:"control"`

	CombineHeaders bool   `yaml:"combine_headers"`
	RegexType      string `yaml:"regex_type"` // "posix" | "pcre"
	Resolver       string `yaml:"resolver"`

	ACLs      map[string][]string `yaml:"acls"`
	Backends  []docBackend        `yaml:"backends"`
	Listeners []docListener       `yaml:"listeners"`
}

type docControl struct {
	Addr        string  `yaml:"addr"`
	RateLimit   float64 `yaml:"rate_limit"`
	MetricsBind string  `yaml:"metrics_bind"`
}

// docBackend is a top-level named Backend block (spec.md §6 `Backend
// "name" ... End`). Kind-specific fields are optional and ignored when
// irrelevant to Kind.
type docBackend struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // regular|matrix|redirect|error|acme
	Priority int    `yaml:"priority"`
	Disabled bool   `yaml:"disabled"`

	// regular
	Addr        string `yaml:"addr"`
	Family      string `yaml:"family"` // unix|inet|inet6
	Timeout     string `yaml:"timeout"`
	ConnTimeout string `yaml:"conn_timeout"`
	WSTimeout   string `yaml:"ws_timeout"`
	TLS         bool   `yaml:"tls"`
	ServerName  string `yaml:"server_name"`

	// matrix
	Hostname      string `yaml:"hostname"`
	Port          int    `yaml:"port"`
	ResolveAddrs  string `yaml:"resolve_addrs"` // immediate|first|all|srv
	RetryInterval string `yaml:"retry_interval"`

	// redirect
	RedirectCode int    `yaml:"redirect_code"`
	URLTemplate  string `yaml:"url_template"`
	HasURIFlag   bool   `yaml:"has_uri_flag"`

	// error
	Status int    `yaml:"status"`
	Body   string `yaml:"body"`

	// acme
	ChallengeDir string `yaml:"challenge_dir"`
}

type docListener struct {
	Addr  string `yaml:"addr"`
	TLS   bool   `yaml:"tls"`

	URLPattern         string   `yaml:"url_pattern"`
	SSLHeaders         bool     `yaml:"ssl_headers"`
	ForwardedForHeader bool     `yaml:"forwarded_for_header"`
	MaxReqSize         int64    `yaml:"max_req_size"`
	MaxURILength       int      `yaml:"max_uri_length"`
	TrustedIPs         string   `yaml:"trusted_ips"` // ACL name
	ForwardedHeader    string   `yaml:"forwarded_header"`
	LogLevel           int      `yaml:"log_level"`
	ClientTimeout      string   `yaml:"client_timeout"`
	RewriteLocation    int      `yaml:"rewrite_location"` // 0|1|2
	RewriteDestination bool     `yaml:"rewrite_destination"`
	Verb               int      `yaml:"verb"`
	NoHTTPS11          int      `yaml:"no_https11"`
	AllowClientReneg   int      `yaml:"allow_client_reneg"`
	HTTPErr            map[int]string `yaml:"http_err"`

	Rewrite  docRewrite    `yaml:"rewrite"`
	Services []docService  `yaml:"services"`
}

type docService struct {
	Name      string     `yaml:"name"`
	Disabled  bool       `yaml:"disabled"`
	Condition *docCond   `yaml:"condition"`
	Rewrite   docRewrite `yaml:"rewrite"`

	Session   *docSession  `yaml:"session"`
	Normal    docBalancer  `yaml:"normal"`
	Emergency docBalancer  `yaml:"emergency"`

	ForwardedHeader string `yaml:"forwarded_header"`
	TrustedIPs      string `yaml:"trusted_ips"`
}

type docBalancer struct {
	Algo    string         `yaml:"algo"` // random|iwrr
	Members []docBalMember `yaml:"members"`
}

type docBalMember struct {
	Ref     string      `yaml:"ref"`     // reference into top-level Backends
	Inline  *docBackend `yaml:"inline"`  // or an inline anonymous backend
}

type docSession struct {
	Type     string `yaml:"type"` // none|ip|cookie|url|parm|basic|header
	TTL      string `yaml:"ttl"`
	IDString string `yaml:"id_string"`
}

// docCond mirrors model.Condition: either a boolean combinator with
// children, or a leaf with kind/pattern/flags.
type docCond struct {
	// boolean
	And []docCond `yaml:"and"`
	Or  []docCond `yaml:"or"`
	Not *docCond  `yaml:"not"`

	// leaf
	Kind    string `yaml:"kind"` // url|path|query|query_param|header|host|string|acl|basic_auth
	Pattern string `yaml:"pattern"`
	Flavor  string `yaml:"flavor"` // ere|pcre|exact|prefix|suffix|contain
	ICase   bool   `yaml:"icase"`
	Multiline bool `yaml:"multiline"`
	Name    string `yaml:"name"` // header/query-param name
	ACL     string `yaml:"acl"`  // ACL name for kind=acl
	PwFile  string `yaml:"pwfile"` // for kind=basic_auth
}

type docRewrite struct {
	Request  []docRule `yaml:"request"`
	Response []docRule `yaml:"response"`
}

type docRule struct {
	Condition *docCond `yaml:"condition"`
	Ops       []docOp  `yaml:"ops"`
	Else      *docRule `yaml:"else"`
}

type docOp struct {
	Kind     string   `yaml:"kind"` // set_header|delete_header|set_url|set_path|set_query|set_query_param|sub_rewrite
	Line     string   `yaml:"line"`
	Template string   `yaml:"template"`
	Name     string   `yaml:"name"`
	Sub      *docRule `yaml:"sub"`
}
