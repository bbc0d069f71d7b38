package httpproxy

import (
	"fmt"
	"net"
)

var statusText = map[int]string{
	400: "Bad Request",
	404: "Not Found",
	413: "Request Entity Too Large",
	414: "Request-URI Too Long",
	500: "Internal Server Error",
	501: "Not Implemented",
	503: "Service Unavailable",
}

// builtinBody renders the default HTML body for status, used when the
// listener has no configured body for that status (spec.md §4.6 "Error
// responses").
func builtinBody(status int) []byte {
	text := statusText[status]
	if text == "" {
		text = "Error"
	}
	return []byte(fmt.Sprintf("<html><head><title>%d %s</title></head><body><h1>%d %s</h1></body></html>", status, text, status, text))
}

// writeError emits one of the listener's configured error-table bodies, or
// the builtin HTML body, with the fixed headers spec.md §4.6 requires for
// every error response.
func (s *Server) writeError(conn net.Conn, status int) {
	body := s.ErrBodies[status]
	if body == nil {
		if custom, ok := s.Listener.HTTPErr[status]; ok && custom != "" {
			body = []byte(custom)
		} else {
			body = builtinBody(status)
		}
	}
	writeStatusResponse(conn, status, statusText[status], body, "text/html")
}

func writeStatusResponse(conn net.Conn, status int, reason string, body []byte, contentType string) {
	if reason == "" {
		reason = "Error"
	}
	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\n"+
		"Content-Type: %s\r\n"+
		"Content-Length: %d\r\n"+
		"Expires: now\r\n"+
		"Cache-Control: no-cache,no-store\r\n"+
		"Connection: close\r\n"+
		"\r\n", status, reason, contentType, len(body))
	_, _ = conn.Write([]byte(resp))
	_, _ = conn.Write(body)
}
