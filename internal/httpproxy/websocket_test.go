package httpproxy

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreproxy/coreproxy/internal/model"
)

func newUpgradeRequest() *model.Request {
	req := &model.Request{Method: model.MGET}
	req.Headers.AddLine("Upgrade: websocket")
	req.Headers.AddLine("Connection: Upgrade")
	return req
}

func TestIsWebSocketUpgrade_True(t *testing.T) {
	req := newUpgradeRequest()
	var resp model.HeaderList
	resp.AddLine("Upgrade: websocket")
	assert.True(t, isWebSocketUpgrade(req, 101, resp))
}

func TestIsWebSocketUpgrade_WrongStatus(t *testing.T) {
	req := newUpgradeRequest()
	var resp model.HeaderList
	resp.AddLine("Upgrade: websocket")
	assert.False(t, isWebSocketUpgrade(req, 200, resp))
}

func TestIsWebSocketUpgrade_NotGet(t *testing.T) {
	req := newUpgradeRequest()
	req.Method = model.MPOST
	var resp model.HeaderList
	resp.AddLine("Upgrade: websocket")
	assert.False(t, isWebSocketUpgrade(req, 101, resp))
}

func TestIsWebSocketUpgrade_ResponseMissingUpgrade(t *testing.T) {
	req := newUpgradeRequest()
	var resp model.HeaderList
	assert.False(t, isWebSocketUpgrade(req, 101, resp))
}

func TestRunWebSocketTunnel_PumpsBothDirections(t *testing.T) {
	clientA, clientB := net.Pipe()
	backendA, backendB := net.Pipe()

	clientBR := bufio.NewReader(clientB)
	backendBR := bufio.NewReader(backendB)

	done := make(chan struct{})
	go func() {
		runWebSocketTunnel(clientB, clientBR, backendB, backendBR, time.Second)
		close(done)
	}()

	go func() { _, _ = clientA.Write([]byte("ping")) }()
	buf := make([]byte, 4)
	_, err := backendA.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	_ = clientA.Close()
	_ = backendA.Close()
	<-done
}
