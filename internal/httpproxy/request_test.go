package httpproxy

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreproxy/coreproxy/internal/model"
)

func newListener() *model.Listener {
	return &model.Listener{MaxURILength: 0, MaxReqSize: 0}
}

func TestReadRequest_Simple(t *testing.T) {
	raw := "GET /foo?x=1 HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	pr, err := readRequest(br, newListener())
	require.NoError(t, err)
	require.Equal(t, 0, pr.parseErr)
	assert.Equal(t, model.MGET, pr.req.Method)
	assert.Equal(t, "/foo", pr.req.URL.Path)
	assert.Equal(t, "example.com", pr.req.Host)
	assert.True(t, pr.keepAlive)
}

func TestReadRequest_SmugglingGuard_ChunkedAndContentLength(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	pr, err := readRequest(br, newListener())
	require.NoError(t, err)
	assert.Equal(t, 400, pr.parseErr)
}

func TestReadRequest_ConflictingContentLength(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	pr, err := readRequest(br, newListener())
	require.NoError(t, err)
	assert.Equal(t, 400, pr.parseErr)
}

func TestReadRequest_NegativeContentLength(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: h\r\nContent-Length: -5\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	pr, err := readRequest(br, newListener())
	require.NoError(t, err)
	assert.Equal(t, 400, pr.parseErr)
}

func TestReadRequest_MaxURILength(t *testing.T) {
	l := newListener()
	l.MaxURILength = 5
	raw := "GET /much/too/long HTTP/1.1\r\nHost: h\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	pr, err := readRequest(br, l)
	require.NoError(t, err)
	assert.Equal(t, 414, pr.parseErr)
}

func TestReadRequest_MaxReqSize(t *testing.T) {
	l := newListener()
	l.MaxReqSize = 3
	raw := "POST / HTTP/1.1\r\nHost: h\r\nContent-Length: 100\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	pr, err := readRequest(br, l)
	require.NoError(t, err)
	assert.Equal(t, 413, pr.parseErr)
}

func TestReadRequest_ExpectHeaderStripped(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: h\r\nExpect: 100-continue\r\nContent-Length: 0\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	pr, err := readRequest(br, newListener())
	require.NoError(t, err)
	_, ok := pr.req.Headers.Get(model.HExpect)
	assert.False(t, ok)
}

func TestReadRequest_HTTP10NoKeepAlive(t *testing.T) {
	raw := "GET / HTTP/1.0\r\nHost: h\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	pr, err := readRequest(br, newListener())
	require.NoError(t, err)
	assert.False(t, pr.keepAlive)
}
