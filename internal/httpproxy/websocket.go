package httpproxy

import (
	"bufio"
	"io"
	"net"
	"strings"
	"time"

	"github.com/coreproxy/coreproxy/internal/model"
)

// isWebSocketUpgrade reports whether this exchange should enter
// WEBSOCKET_TUNNEL: the request carried Upgrade: websocket + Connection:
// upgrade on a GET, and the response is 101 with the upgrade mirrored back
// (spec.md §4.6 "WEBSOCKET_TUNNEL").
func isWebSocketUpgrade(req *model.Request, status int, respHeaders model.HeaderList) bool {
	if req.Method != model.MGET || status != 101 {
		return false
	}
	up, ok := req.Headers.Get(model.HUpgrade)
	if !ok || !strings.EqualFold(strings.TrimSpace(up.Value), "websocket") {
		return false
	}
	conn, ok := req.Headers.Get(model.HConnection)
	if !ok || !strings.Contains(strings.ToLower(conn.Value), "upgrade") {
		return false
	}
	rup, ok := respHeaders.Get(model.HUpgrade)
	return ok && strings.EqualFold(strings.TrimSpace(rup.Value), "websocket")
}

// runWebSocketTunnel pumps bytes in both directions between the client and
// backend connections until either side closes or idles past timeout
// (spec.md §4.6 "bi-directional byte pump using poll with ws_timeout").
// Any buffered-but-unread bytes left in the bufio.Readers from header
// parsing are drained first so no data is dropped at the handoff.
func runWebSocketTunnel(client net.Conn, clientBR *bufio.Reader, backend net.Conn, backendBR *bufio.Reader, idleTimeout time.Duration) {
	done := make(chan struct{}, 2)
	pump := func(dst net.Conn, src io.Reader, srcConn net.Conn) {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 32*1024)
		for {
			if idleTimeout > 0 {
				_ = srcConn.SetReadDeadline(time.Now().Add(idleTimeout))
			}
			n, err := src.Read(buf)
			if n > 0 {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}

	go pump(backend, clientBR, client)
	go pump(client, backendBR, backend)
	<-done
	_ = client.Close()
	_ = backend.Close()
	<-done
}
