// Package logging implements the two loggers SPEC_FULL.md §3.2 calls for:
// a request/access-log token compiler (spec.md §6 "Log formats") and the
// process/diagnostic logger setup built on the teacher's own stack
// (github.com/go-pkgz/lgr + gopkg.in/natefinch/lumberjack.v2).
//
// The token language mirrors Apache's LogFormat directives: %a (client
// address), %r (request line), %>s/%s (final/response status, identical
// here since this proxy never pipelines more than one in-flight response
// per connection), %{name}i (request header, raw), %{name}I (same, "-" if
// absent), %u (authenticated user), %t (Apache common-log timestamp), %b
// (response byte count), %{service}N/%{backend}N (matched service/backend
// name) and %{f}T (request duration in seconds).
package logging

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record holds everything one completed request/response cycle can report
// through the token language. Header looks up a request header by name;
// it may be nil if none is available (an internally-handled request that
// never reached header parsing, for instance).
type Record struct {
	ClientAddr   string
	RequestLine  string
	Status       int
	ResponseSize int64
	User         string
	Service      string
	Backend      string
	Duration     time.Duration
	Timestamp    time.Time
	Header       func(name string) (string, bool)
}

func (r Record) header(name string) (string, bool) {
	if r.Header == nil {
		return "", false
	}
	return r.Header(name)
}

// apacheTimeLayout matches Apache's common-log "%t" token, e.g.
// "10/Oct/2023:13:55:36 -0700".
const apacheTimeLayout = "02/Jan/2006:15:04:05 -0700"

// Format is a compiled token string ready to render Records without
// re-parsing on every request.
type Format struct {
	segments []func(Record) string
}

// Render produces the formatted log line for one record. A nil Format, and
// the empty Format that the "null" canned format (log level 0) compiles
// to, both render the empty string.
func (f *Format) Render(r Record) string {
	if f == nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range f.segments {
		b.WriteString(seg(r))
	}
	return b.String()
}

// Compile parses a token string into a Format. An empty string compiles to
// a Format that always renders "".
func Compile(tokens string) (*Format, error) {
	if tokens == "" {
		return &Format{}, nil
	}
	var segs []func(Record) string
	i := 0
	for i < len(tokens) {
		if tokens[i] != '%' {
			j := strings.IndexByte(tokens[i:], '%')
			if j < 0 {
				lit := tokens[i:]
				segs = append(segs, func(Record) string { return lit })
				break
			}
			lit := tokens[i : i+j]
			segs = append(segs, func(Record) string { return lit })
			i += j
			continue
		}
		i++ // consume '%'
		if i >= len(tokens) {
			return nil, fmt.Errorf("logging: dangling %%%% at end of format")
		}
		switch tokens[i] {
		case '%':
			segs = append(segs, func(Record) string { return "%" })
			i++
		case '>':
			i++
			if i >= len(tokens) || tokens[i] != 's' {
				return nil, fmt.Errorf("logging: expected %%>s in format %q", tokens)
			}
			segs = append(segs, func(r Record) string { return strconv.Itoa(r.Status) })
			i++
		case '{':
			end := strings.IndexByte(tokens[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("logging: unterminated %%{ in format %q", tokens)
			}
			name := tokens[i+1 : i+end]
			i += end + 1
			if i >= len(tokens) {
				return nil, fmt.Errorf("logging: missing verb after %%{%s} in format %q", name, tokens)
			}
			verb := tokens[i]
			i++
			seg, err := namedSegment(name, verb)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
		default:
			seg, err := simpleSegment(tokens[i])
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
			i++
		}
	}
	return &Format{segments: segs}, nil
}

func namedSegment(name string, verb byte) (func(Record) string, error) {
	switch verb {
	case 'i':
		return func(r Record) string {
			v, ok := r.header(name)
			if !ok {
				return ""
			}
			return v
		}, nil
	case 'I':
		return func(r Record) string {
			v, ok := r.header(name)
			if !ok || v == "" {
				return "-"
			}
			return v
		}, nil
	case 'N':
		switch strings.ToLower(name) {
		case "service":
			return func(r Record) string { return r.Service }, nil
		case "backend":
			return func(r Record) string { return r.Backend }, nil
		default:
			return nil, fmt.Errorf("logging: unknown %%{%s}N name", name)
		}
	case 'T':
		return func(r Record) string {
			return strconv.FormatFloat(r.Duration.Seconds(), 'f', 3, 64)
		}, nil
	default:
		return nil, fmt.Errorf("logging: unknown verb %%{%s}%c", name, verb)
	}
}

func simpleSegment(verb byte) (func(Record) string, error) {
	switch verb {
	case 'a':
		return func(r Record) string { return r.ClientAddr }, nil
	case 'r':
		return func(r Record) string { return r.RequestLine }, nil
	case 'u':
		return func(r Record) string {
			if r.User == "" {
				return "-"
			}
			return r.User
		}, nil
	case 't':
		return func(r Record) string { return "[" + r.Timestamp.Format(apacheTimeLayout) + "]" }, nil
	case 's':
		return func(r Record) string { return strconv.Itoa(r.Status) }, nil
	case 'b':
		return func(r Record) string { return strconv.FormatInt(r.ResponseSize, 10) }, nil
	default:
		return nil, fmt.Errorf("logging: unknown verb %%%c", verb)
	}
}

// CannedFormats are the named token strings spec.md §6 declares.
var CannedFormats = map[string]string{
	"null":           "",
	"regular":        `%a %u %t "%r" %s %b`,
	"extended":       `%a %u %t "%r" %s %b "%{Referer}i" "%{User-Agent}i"`,
	"vhost_combined": `%{Host}i %a %u %t "%r" %s %b "%{Referer}i" "%{User-Agent}i"`,
	"combined":       `%a %u %t "%r" %s %b "%{Referer}i" "%{User-Agent}i"`,
	"detailed":       `%a %u %t "%r" %s %b "%{Referer}i" "%{User-Agent}i" %{service}N %{backend}N %{f}T`,
}

// levelNames maps LogLevel 0..5 to the canned format names, in the order
// spec.md §6 lists them ("correspond to log levels 0..5").
var levelNames = []string{"null", "regular", "extended", "vhost_combined", "combined", "detailed"}

// FormatForLevel returns the canned token string for a LogLevel 0..5,
// clamped to the valid range.
func FormatForLevel(level int) string {
	if level < 0 {
		level = 0
	}
	if level >= len(levelNames) {
		level = len(levelNames) - 1
	}
	return CannedFormats[levelNames[level]]
}
