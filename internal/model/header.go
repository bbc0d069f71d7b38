// Package model holds the request/response/backend/service/listener data
// model shared by the matching engine, rewrite engine, balancer and HTTP
// state machine.
package model

import "strings"

// HeaderTag classifies a header by its canonical meaning regardless of the
// case used on the wire (spec.md §3 "Header classification is canonical").
type HeaderTag int

// enum of recognized header tags
const (
	HOther HeaderTag = iota
	HConnection
	HContentLength
	HTransferEncoding
	HHost
	HUpgrade
	HExpect
	HLocation
	HContentLocation
	HDestination
	HAuthorization
	HReferer
	HUserAgent
	HIllegal
)

var tagByName = map[string]HeaderTag{
	"connection":        HConnection,
	"content-length":    HContentLength,
	"transfer-encoding":  HTransferEncoding,
	"host":              HHost,
	"upgrade":           HUpgrade,
	"expect":            HExpect,
	"location":          HLocation,
	"content-location":  HContentLocation,
	"destination":       HDestination,
	"authorization":     HAuthorization,
	"referer":           HReferer,
	"user-agent":        HUserAgent,
}

// ClassifyHeaderName returns the canonical tag for a header name, ICASE.
func ClassifyHeaderName(name string) HeaderTag {
	if name == "" {
		return HIllegal
	}
	if t, ok := tagByName[strings.ToLower(name)]; ok {
		return t
	}
	return HOther
}

// Header is a single parsed header line.
type Header struct {
	Raw   string // raw "Name: Value" text as received
	Name  string
	Value string
	Tag   HeaderTag

	owned   string
	hasOwn  bool
}

// NewHeader parses "Name: Value" (without trailing CRLF) into a Header.
func NewHeader(line string) Header {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return Header{Raw: line, Tag: HIllegal}
	}
	name := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])
	if name == "" {
		return Header{Raw: line, Tag: HIllegal}
	}
	return Header{Raw: line, Name: name, Value: value, Tag: ClassifyHeaderName(name)}
}

// OwnedValue returns a copy of Value the caller may mutate freely; computed
// lazily and cached, mirroring spec.md's "lazily-computed owned value string".
func (h *Header) OwnedValue() string {
	if !h.hasOwn {
		h.owned = strings.Clone(h.Value)
		h.hasOwn = true
	}
	return h.owned
}

// HeaderList is an ordered, insertion-preserving list of headers.
type HeaderList struct {
	items []Header
}

// Add appends a header to the list.
func (l *HeaderList) Add(h Header) { l.items = append(l.items, h) }

// AddLine parses and appends a raw header line.
func (l *HeaderList) AddLine(line string) { l.Add(NewHeader(line)) }

// All returns the headers in insertion order.
func (l *HeaderList) All() []Header { return l.items }

// Get returns the first header matching tag, if any.
func (l *HeaderList) Get(tag HeaderTag) (Header, bool) {
	for _, h := range l.items {
		if h.Tag == tag {
			return h, true
		}
	}
	return Header{}, false
}

// GetByName returns the first header matching name (ICASE), if any.
func (l *HeaderList) GetByName(name string) (Header, bool) {
	lname := strings.ToLower(name)
	for _, h := range l.items {
		if strings.ToLower(h.Name) == lname {
			return h, true
		}
	}
	return Header{}, false
}

// AllByName returns every header matching name (ICASE), preserving order.
func (l *HeaderList) AllByName(name string) []Header {
	lname := strings.ToLower(name)
	var res []Header
	for _, h := range l.items {
		if strings.ToLower(h.Name) == lname {
			res = append(res, h)
		}
	}
	return res
}

// DeleteMatching removes every header whose raw text matches pred.
func (l *HeaderList) DeleteMatching(pred func(raw string) bool) {
	out := l.items[:0]
	for _, h := range l.items {
		if !pred(h.Raw) {
			out = append(out, h)
		}
	}
	l.items = out
}

// Set appends line as a new header, per SetHeader semantics the rewrite
// engine uses (append, not replace - spec.md §4.2); existing headers of the
// same name are left in place.
func (l *HeaderList) Set(line string) { l.AddLine(line) }

// JoinedText renders all headers as "Name: Value\r\n..." used by
// Header-match's multiline regex evaluation (spec.md §4.1).
func (l *HeaderList) JoinedText() string {
	var b strings.Builder
	for _, h := range l.items {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	return b.String()
}

// Len returns number of headers.
func (l *HeaderList) Len() int { return len(l.items) }
