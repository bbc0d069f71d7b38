package httpproxy

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreproxy/coreproxy/internal/model"
)

func TestWriteStatusResponse_Headers(t *testing.T) {
	server, client := net.Pipe()
	go func() {
		writeStatusResponse(server, 404, "Not Found", []byte("nope"), "text/plain")
		_ = server.Close()
	}()

	br := bufio.NewReader(client)
	raw, err := io.ReadAll(br)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "HTTP/1.1 404 Not Found\r\n")
	assert.Contains(t, text, "Content-Length: 4\r\n")
	assert.Contains(t, text, "Expires: now\r\n")
	assert.Contains(t, text, "Cache-Control: no-cache,no-store\r\n")
	assert.True(t, strings.HasSuffix(text, "nope"))
}

func TestWriteError_PrefersConfiguredBody(t *testing.T) {
	s := &Server{Listener: &model.Listener{}, ErrBodies: map[int][]byte{404: []byte("custom 404")}}
	server, client := net.Pipe()
	go func() {
		s.writeError(server, 404)
		_ = server.Close()
	}()
	raw, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "custom 404")
}

func TestWriteError_FallsBackToBuiltin(t *testing.T) {
	s := &Server{Listener: &model.Listener{}}
	server, client := net.Pipe()
	go func() {
		s.writeError(server, 500)
		_ = server.Close()
	}()
	raw, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Internal Server Error")
}

func TestBuiltinBody_UnknownStatusStillRenders(t *testing.T) {
	body := builtinBody(599)
	assert.Contains(t, string(body), "599")
}
