package httpproxy

import (
	"bufio"
	"encoding/base64"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/coreproxy/coreproxy/internal/model"
)

// parsedRequest is the outcome of READ_REQUEST + VALIDATE: either a usable
// model.Request, or a parseErr status to send back immediately.
type parsedRequest struct {
	req       *model.Request
	keepAlive bool
	parseErr  int // 0 = ok
	clHeader  int64
	bodyMode  bodyMode
}

type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyContentLength
	bodyChunked
	bodyRPCStream
)

// readRequest implements READ_REQUEST (request line + headers up to
// CRLF-CRLF) followed by VALIDATE (spec.md §4.6).
func readRequest(br *bufio.Reader, l *model.Listener) (*parsedRequest, error) {
	line, err := readLine(br)
	if err != nil {
		if err == io.EOF {
			return nil, errConnClosed
		}
		return nil, err
	}
	if line == "" {
		// tolerate a leading blank line before the request line, as real
		// HTTP/1.1 clients occasionally send one after a prior response
		line, err = readLine(br)
		if err != nil {
			return nil, err
		}
	}

	method, rawURL, minor, ok := parseRequestLine(line)
	if !ok {
		return &parsedRequest{parseErr: 400}, nil
	}

	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return &parsedRequest{parseErr: 400}, nil
	}
	if l.MaxURILength > 0 && len(rawURL) > l.MaxURILength {
		return &parsedRequest{parseErr: 414}, nil
	}

	req := &model.Request{
		Method:    model.ParseMethod(method),
		RawMethod: method,
		URL:       u,
		Minor:     minor,
	}

	var clValues []string
	var teChunked bool
	for {
		hline, herr := readLine(br)
		if herr != nil {
			return nil, herr
		}
		if hline == "" {
			break
		}
		h := model.NewHeader(hline)
		if h.Tag == model.HIllegal {
			return &parsedRequest{parseErr: 400}, nil
		}
		req.Headers.Add(h)
		switch h.Tag {
		case model.HHost:
			req.Host = h.Value
		case model.HContentLength:
			clValues = append(clValues, h.Value)
		case model.HTransferEncoding:
			if strings.EqualFold(strings.TrimSpace(h.Value), "chunked") {
				teChunked = true
			}
		}
	}
	if req.Host == "" {
		req.Host = u.Host
	}

	// the authenticated user name is part of the per-request fingerprint
	// (spec.md §3) independent of whether a BasicAuth-match condition is
	// configured anywhere on this listener: %u access logging and the
	// BASIC session policy both read req.AuthUser directly.
	if h, ok := req.Headers.Get(model.HAuthorization); ok {
		if user, ok := decodeBasicAuthUser(h.Value); ok {
			req.AuthUser = user
		}
	}

	pr := &parsedRequest{req: req}

	// request-smuggling guard: simultaneous Content-Length + chunked, or
	// multiple conflicting Content-Length values, or a malformed/negative
	// length, are all rejected outright (spec.md §4.6, SPEC_FULL.md §5).
	switch {
	case teChunked && len(clValues) > 0:
		return &parsedRequest{parseErr: 400}, nil
	case teChunked:
		pr.bodyMode = bodyChunked
	case len(clValues) > 0:
		cl, clOK := uniformContentLength(clValues)
		if !clOK || cl < 0 {
			return &parsedRequest{parseErr: 400}, nil
		}
		pr.clHeader = cl
		if cl > 0 {
			pr.bodyMode = bodyContentLength
		}
		if l.MaxReqSize > 0 && cl > l.MaxReqSize && model.MethodGroup(req.Method) != 4 {
			return &parsedRequest{parseErr: 413}, nil
		}
	}
	if model.MethodGroup(req.Method) == 4 {
		pr.bodyMode = bodyRPCStream
	}

	if l.Verb > 0 && model.MethodGroup(req.Method) > int(l.Verb) {
		return &parsedRequest{parseErr: 501}, nil
	}

	// Expect: 100-continue is silently stripped, no interim response synthesized
	req.Headers.DeleteMatching(func(raw string) bool {
		return model.NewHeader(raw).Tag == model.HExpect
	})

	pr.keepAlive = computeKeepAlive(req, l)
	return pr, nil
}

// decodeBasicAuthUser extracts the user name from an Authorization: Basic
// header value, if present and decodable (spec.md §3). Unlike
// match.matchBasicAuth, this does not verify the password against any
// pwfile -- it only recovers the identity for fingerprinting/stickiness, and
// is run unconditionally regardless of whether a BasicAuth-match condition
// is configured on the service.
func decodeBasicAuthUser(value string) (user string, ok bool) {
	const prefix = "basic "
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(value[len(prefix):])
	if err != nil {
		return "", false
	}
	idx := strings.IndexByte(string(raw), ':')
	if idx < 0 {
		return "", false
	}
	return string(raw[:idx]), true
}

// uniformContentLength parses every Content-Length value seen and requires
// them to agree (spec.md §4.6 "Multiple conflicting Content-Length -> 400").
func uniformContentLength(values []string) (int64, bool) {
	var first int64 = -1
	for i, v := range values {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		if i == 0 {
			first = n
			continue
		}
		if n != first {
			return 0, false
		}
	}
	return first, true
}

func computeKeepAlive(req *model.Request, l *model.Listener) bool {
	if req.Minor < 1 {
		return false
	}
	if h, ok := req.Headers.Get(model.HConnection); ok && strings.EqualFold(strings.TrimSpace(h.Value), "close") {
		return false
	}
	if !l.IsTLS {
		return true
	}
	switch l.NoHTTPS11 {
	case model.NoHTTPS11AlwaysOnTLS:
		return false
	case model.NoHTTPS11MSIEOnTLS:
		if ua, ok := req.Headers.GetByName("User-Agent"); ok && strings.Contains(ua.Value, "MSIE") {
			return false
		}
	}
	return true
}

// parseRequestLine splits "METHOD SP request-target SP HTTP/1.x" without
// the trailing CRLF.
func parseRequestLine(line string) (method, target string, minor int, ok bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", 0, false
	}
	method, target, version := parts[0], parts[1], parts[2]
	switch version {
	case "HTTP/1.1":
		minor = 1
	case "HTTP/1.0":
		minor = 0
	default:
		return "", "", 0, false
	}
	return method, target, minor, true
}

// readLine reads one CRLF- or LF-terminated line, with the terminator
// stripped.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
