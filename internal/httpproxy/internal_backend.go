package httpproxy

import (
	"errors"
	"net"
	"os"
	"regexp"

	"github.com/coreproxy/coreproxy/internal/acme"
	"github.com/coreproxy/coreproxy/internal/model"
	"github.com/coreproxy/coreproxy/internal/rewrite"
)

// writeRedirect implements a Redirect backend: expand URLTemplate against
// the request's capture vector and emit a Location response (spec.md §3
// "Redirect" kind).
func writeRedirect(conn net.Conn, b *model.Backend, req *model.Request) int {
	loc := rewrite.Expand(b.URLTemplate, req.Captures)
	if b.HasURIFlag {
		loc += req.URL.RequestURI()
	}
	status := int(b.RedirectCode)
	resp := "HTTP/1.1 " + statusLine(status) + "\r\n" +
		"Location: " + loc + "\r\n" +
		"Content-Length: 0\r\n" +
		"Expires: now\r\n" +
		"Cache-Control: no-cache,no-store\r\n" +
		"Connection: close\r\n\r\n"
	_, _ = conn.Write([]byte(resp))
	return status
}

func statusLine(status int) string {
	names := map[int]string{301: "301 Moved Permanently", 302: "302 Found", 303: "303 See Other",
		307: "307 Temporary Redirect", 308: "308 Permanent Redirect"}
	if s, ok := names[status]; ok {
		return s
	}
	return "302 Found"
}

// writeCannedBackend implements an Error backend: a fixed status + body
// pair served verbatim (spec.md §3 "Error" kind).
func writeCannedBackend(conn net.Conn, b *model.Backend) int {
	writeStatusResponse(conn, b.Status, statusText[b.Status], b.Body, "text/html")
	return b.Status
}

var acmePathRe = regexp.MustCompile(`^/\.well-known/acme-challenge/(.+)$`)

// serveAcme implements the ACME-01 (http-01) challenge responder: the
// capture group names a file within the backend's challenge directory
// (spec.md §4.9). Only the challenge-file responder is implemented; no
// issuance or DNS-01 flow exists anywhere in this module.
func serveAcme(conn net.Conn, b *model.Backend, req *model.Request) int {
	m := acmePathRe.FindStringSubmatch(req.URL.Path)
	if m == nil {
		writeStatusResponse(conn, 404, "Not Found", builtinBody(404), "text/html")
		return 404
	}
	store := acme.NewChallengeStore(b.ChallengeDir)
	data, err := store.Get(m[1])
	if err != nil {
		if !errors.Is(err, acme.ErrInvalidToken) && !os.IsNotExist(err) {
			writeStatusResponse(conn, 500, "Internal Server Error", builtinBody(500), "text/html")
			return 500
		}
		writeStatusResponse(conn, 404, "Not Found", builtinBody(404), "text/html")
		return 404
	}
	writeStatusResponse(conn, 200, "OK", data, "text/plain")
	return 200
}
