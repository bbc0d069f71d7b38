package httpproxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/coreproxy/coreproxy/internal/balancer"
	"github.com/coreproxy/coreproxy/internal/model"
)

const connectRetryAttempts = 3

// forwardToBackend implements CONNECT_BE, FORWARD_REQUEST, FORWARD_BODY,
// READ_RESPONSE, FORWARD_RESPONSE and, when applicable, WEBSOCKET_TUNNEL
// (spec.md §4.6). Returns whether the client connection should be kept
// alive for another request.
func (s *Server) forwardToBackend(clientConn net.Conn, clientBR *bufio.Reader, peer net.IP, svc *model.Service, b *model.Backend, req *model.Request, pr *parsedRequest, tlsState *tls.ConnectionState) bool {
	start := time.Now()
	dial := func(ctx context.Context, _ *model.Backend) (net.Conn, error) {
		network := "tcp"
		if b.Family == model.FamUnix {
			network = "unix"
		}
		var conn net.Conn
		var err error
		if s.Dial != nil {
			conn, err = s.Dial(ctx, network, b.Addr)
		} else {
			d := net.Dialer{Timeout: b.ConnTimeout}
			conn, err = d.DialContext(ctx, network, b.Addr)
		}
		if err != nil || !b.TLS {
			return conn, err
		}
		tc := tls.Client(conn, &tls.Config{ServerName: b.ServerName, MinVersion: tls.VersionTLS12})
		if hsErr := tc.HandshakeContext(ctx); hsErr != nil {
			_ = conn.Close()
			return nil, hsErr
		}
		return tc, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), maxDuration(b.ConnTimeout, time.Second))
	defer cancel()

	beConn, err := balancer.ConnectWithRetry(ctx, b, connectRetryAttempts, dial)
	if err != nil {
		log.Printf("[NOTICE] connect to backend %s failed: %v", b.Addr, err)
		b.SetAlive(false)
		svc.Backends.Normal.Recompute()
		svc.Backends.Emergency.Recompute()
		s.writeError(clientConn, 503)
		s.observe(503, start)
		s.logAccess(peer, req, svc.Name, b.Addr, 503, start, 0)
		return false
	}
	defer beConn.Close()

	if b.Timeout > 0 {
		_ = beConn.SetDeadline(time.Now().Add(b.Timeout))
	}

	applyDestinationRewrite(s.Listener, req, b)
	applySSLHeaders(s.Listener, req, tlsState)
	applyForwardedFor(req, peer)

	beBW := bufio.NewWriter(beConn)
	if err := writeRequestHead(beBW, req); err != nil {
		log.Printf("[WARN] writing request to backend %s: %v", b.Addr, err)
		s.writeError(clientConn, 500)
		s.observe(500, start)
		s.logAccess(peer, req, svc.Name, b.Addr, 500, start, 0)
		return false
	}

	if err := forwardRequestBody(beBW, clientBR, pr); err != nil {
		log.Printf("[NOTICE] forwarding request body to %s: %v", b.Addr, err)
		s.writeError(clientConn, 500)
		s.observe(500, start)
		s.logAccess(peer, req, svc.Name, b.Addr, 500, start, 0)
		return false
	}
	if err := beBW.Flush(); err != nil {
		s.writeError(clientConn, 500)
		s.observe(500, start)
		s.logAccess(peer, req, svc.Name, b.Addr, 500, start, 0)
		return false
	}

	beBR := bufio.NewReader(beConn)
	respLine, respHeaders, status, err := readResponseHead(beBR)
	if err != nil {
		log.Printf("[WARN] reading response from %s: %v", b.Addr, err)
		s.writeError(clientConn, 500)
		s.observe(500, start)
		s.logAccess(peer, req, svc.Name, b.Addr, 500, start, 0)
		return false
	}

	if isWebSocketUpgrade(req, status, respHeaders) {
		if err := writeResponseHead(clientConn, respLine, respHeaders); err != nil {
			s.observe(status, start)
			s.logAccess(peer, req, svc.Name, b.Addr, status, start, 0)
			return false
		}
		s.observe(status, start)
		s.logAccess(peer, req, svc.Name, b.Addr, status, start, 0)
		runWebSocketTunnel(clientConn, clientBR, beConn, beBR, b.WSTimeout)
		return false
	}

	applyLocationRewrite(s, req, b, &respHeaders)
	if svc.Session.Type == model.SessionCookie || svc.Session.Type == model.SessionHeader {
		insertStatefulSession(svc, b, &respHeaders)
	}

	cw := &countingWriter{w: clientConn}
	if err := writeResponseHead(cw, respLine, respHeaders); err != nil {
		s.observe(status, start)
		s.logAccess(peer, req, svc.Name, b.Addr, status, start, cw.n)
		return false
	}
	if err := forwardResponseBody(cw, beBR, respHeaders); err != nil {
		log.Printf("[NOTICE] forwarding response body from %s: %v", b.Addr, err)
		s.observe(status, start)
		s.logAccess(peer, req, svc.Name, b.Addr, status, start, cw.n)
		return false
	}

	s.observe(status, start)
	s.logAccess(peer, req, svc.Name, b.Addr, status, start, cw.n)
	return pr.keepAlive && !connectionCloseRequested(respHeaders)
}

// countingWriter tallies bytes written to the client for the access log's
// %b token; forwardResponseBody/writeResponseHead only need io.Writer.
type countingWriter struct {
	w net.Conn
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func maxDuration(d, floor time.Duration) time.Duration {
	if d > floor {
		return d
	}
	return floor
}

// writeRequestHead emits the request line, headers, X-Forwarded-For and SSL
// headers already injected into req.Headers, then the blank line (spec.md
// §4.6 FORWARD_REQUEST).
func writeRequestHead(w *bufio.Writer, req *model.Request) error {
	target := req.URL.RequestURI()
	if _, err := fmt.Fprintf(w, "%s %s HTTP/1.%d\r\n", req.RawMethod, target, req.Minor); err != nil {
		return err
	}
	for _, h := range req.Headers.All() {
		if h.Tag == model.HIllegal {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", h.Name, h.Value); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}

func forwardRequestBody(dst *bufio.Writer, src *bufio.Reader, pr *parsedRequest) error {
	switch pr.bodyMode {
	case bodyContentLength:
		_, err := copyContentLength(dst, src, pr.clHeader)
		return err
	case bodyChunked:
		_, err := copyChunked(dst, src)
		return err
	case bodyRPCStream:
		_, err := copyRPCStream(dst, src, pr.clHeader)
		return err
	default:
		return nil
	}
}

// readResponseHead implements READ_RESPONSE: read the status line and
// headers, skipping (but not forwarding) 1xx informational responses other
// than 101, which is forwarded to trigger the WebSocket tunnel.
func readResponseHead(br *bufio.Reader) (statusLine string, headers model.HeaderList, status int, err error) {
	for {
		line, lerr := readLine(br)
		if lerr != nil {
			return "", model.HeaderList{}, 0, lerr
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			return "", model.HeaderList{}, 0, fmt.Errorf("httpproxy: malformed status line %q", line)
		}
		status, err = strconv.Atoi(parts[1])
		if err != nil {
			return "", model.HeaderList{}, 0, fmt.Errorf("httpproxy: bad status code %q", parts[1])
		}

		var hl model.HeaderList
		for {
			hline, herr := readLine(br)
			if herr != nil {
				return "", model.HeaderList{}, 0, herr
			}
			if hline == "" {
				break
			}
			hl.AddLine(hline)
		}
		if status >= 100 && status < 200 && status != 101 {
			continue // skip 100-continue and other 1xx, loop to next status line
		}
		return line, hl, status, nil
	}
}

func writeResponseHead(w io.Writer, statusLine string, headers model.HeaderList) error {
	parts := strings.SplitN(statusLine, " ", 2)
	reason := ""
	if len(parts) == 2 {
		reason = parts[1]
	}
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %s\r\n", reason); err != nil {
		return err
	}
	for _, h := range headers.All() {
		if h.Tag == model.HIllegal {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", h.Name, h.Value); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

func forwardResponseBody(dst io.Writer, src *bufio.Reader, headers model.HeaderList) error {
	if te, ok := headers.Get(model.HTransferEncoding); ok && strings.EqualFold(strings.TrimSpace(te.Value), "chunked") {
		_, err := copyChunked(dst, src)
		return err
	}
	if cl, ok := headers.Get(model.HContentLength); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl.Value), 10, 64)
		if err != nil {
			return fmt.Errorf("httpproxy: malformed response content-length %q", cl.Value)
		}
		_, err = copyContentLength(dst, src, n)
		return err
	}
	return nil
}

func connectionCloseRequested(headers model.HeaderList) bool {
	h, ok := headers.Get(model.HConnection)
	return ok && strings.EqualFold(strings.TrimSpace(h.Value), "close")
}

// applyForwardedFor appends/sets X-Forwarded-For with the client peer
// address (spec.md §4.6 FORWARD_REQUEST).
func applyForwardedFor(req *model.Request, peer net.IP) {
	if peer == nil {
		return
	}
	if existing, ok := req.Headers.GetByName("X-Forwarded-For"); ok {
		req.Headers.DeleteMatching(func(raw string) bool {
			return strings.EqualFold(strings.TrimSpace(strings.SplitN(raw, ":", 2)[0]), "X-Forwarded-For")
		})
		req.Headers.Set("X-Forwarded-For: " + existing.Value + ", " + peer.String())
		return
	}
	req.Headers.Set("X-Forwarded-For: " + peer.String())
}

// applySSLHeaders injects the X-SSL-* headers when the listener requests
// them and the connection is TLS with a presented client certificate
// (spec.md §4.6 "SSL header injection").
func applySSLHeaders(l *model.Listener, req *model.Request, tlsState *tls.ConnectionState) {
	if l.HeaderOptions&model.HdrOptSSLHeaders == 0 || tlsState == nil || len(tlsState.PeerCertificates) == 0 {
		return
	}
	cert := tlsState.PeerCertificates[0]
	cs := tls.CipherSuiteName(tlsState.CipherSuite)
	req.Headers.Set("X-SSL-cipher: " + cs)
	req.Headers.Set("X-SSL-Subject: " + cert.Subject.String())
	req.Headers.Set("X-SSL-Issuer: " + cert.Issuer.String())
	req.Headers.Set("X-SSL-notBefore: " + cert.NotBefore.UTC().Format(time.RFC3339))
	req.Headers.Set("X-SSL-notAfter: " + cert.NotAfter.UTC().Format(time.RFC3339))
	req.Headers.Set("X-SSL-serial: " + cert.SerialNumber.String())
	req.Headers.Set("X-SSL-certificate: " + base64.StdEncoding.EncodeToString(cert.Raw))
}

// applyDestinationRewrite rewrites a WebDAV Destination header's authority
// to the chosen backend when rewrite_destination is enabled and the
// header's authority matches (spec.md §4.6).
func applyDestinationRewrite(l *model.Listener, req *model.Request, b *model.Backend) {
	if !l.RewriteDestination {
		return
	}
	h, ok := req.Headers.Get(model.HDestination)
	if !ok {
		return
	}
	rewritten := rewriteAuthority(h.Value, b.Addr)
	req.Headers.DeleteMatching(func(raw string) bool { return model.NewHeader(raw).Tag == model.HDestination })
	req.Headers.Set("Destination: " + rewritten)
}

func rewriteAuthority(rawURL, newAuthority string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return rawURL[:idx+3] + newAuthority
	}
	return rawURL[:idx+3] + newAuthority + rest[slash:]
}

// applyLocationRewrite rewrites Location/Content-Location on the response
// when rewrite_location is enabled and the URL's authority matches the
// backend just used (spec.md §4.6).
func applyLocationRewrite(s *Server, req *model.Request, b *model.Backend, headers *model.HeaderList) {
	if s.Listener.RewriteLocation == model.RewriteLocationOff || s.ExternalURL == "" {
		return
	}
	for _, tag := range []model.HeaderTag{model.HLocation, model.HContentLocation} {
		h, ok := headers.Get(tag)
		if !ok {
			continue
		}
		if !strings.Contains(h.Value, b.Addr) {
			continue
		}
		if s.Listener.RewriteLocation == model.RewriteLocationSameAuthorityAndPath && s.Listener.URLPattern != "" {
			if !strings.Contains(h.Value, req.URL.Path) {
				continue
			}
		}
		headers.DeleteMatching(func(raw string) bool { return model.NewHeader(raw).Tag == tag })
		headers.Set(h.Name + ": " + rewriteAuthority(h.Value, s.ExternalURL))
	}
}

// insertStatefulSession implements spec.md §4.4 step 4: on COOKIE/HEADER
// policies, the session mapping is only known once the response carries the
// session ID, unlike IP/BASIC which are inserted at selection time.
func insertStatefulSession(svc *model.Service, b *model.Backend, headers *model.HeaderList) {
	if svc.Sessions == nil {
		return
	}
	key := ""
	switch svc.Session.Type {
	case model.SessionCookie:
		for _, v := range headers.AllByName("Set-Cookie") {
			if k, ok := extractCookieValue(v.Value, svc.Session.IDString); ok {
				key = k
				break
			}
		}
	case model.SessionHeader:
		if h, ok := headers.GetByName(svc.Session.IDString); ok {
			key = h.Value
		}
	}
	if key == "" {
		return
	}
	svc.Sessions.Insert(key, b)
}

func extractCookieValue(headerValue, name string) (string, bool) {
	for _, part := range strings.Split(headerValue, ";") {
		part = strings.TrimSpace(part)
		if i := strings.IndexByte(part, '='); i >= 0 && part[:i] == name {
			return part[i+1:], true
		}
	}
	return "", false
}
