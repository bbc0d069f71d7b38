package listenbind

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBind_TCP(t *testing.T) {
	ln, err := Bind("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	require.NotEmpty(t, ln.Addr().String())
}

func TestBind_Unix(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "listener.sock")
	ln, err := Bind(sock)
	require.NoError(t, err)
	defer ln.Close()
	require.Equal(t, "unix", ln.Addr().Network())
}

func TestSocketFrom_RoundTrip(t *testing.T) {
	real, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer real.Close()

	ctrlPath := filepath.Join(t.TempDir(), "ctrl.sock")
	ctrl, err := net.ListenUnix("unix", &net.UnixAddr{Name: ctrlPath, Net: "unix"})
	require.NoError(t, err)
	defer ctrl.Close()

	go func() { _ = SendSocket(ctrl, real) }()

	received, err := Bind("socketfrom:" + ctrlPath)
	require.NoError(t, err)
	defer received.Close()

	// the received listener should accept connections dialed against the
	// real listener's address, proving it is the same underlying socket
	go func() {
		c, aerr := received.Accept()
		if aerr == nil {
			_, _ = c.Write([]byte("ok"))
			_ = c.Close()
		}
	}()

	conn, err := net.DialTimeout("tcp", real.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 2)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ok", string(buf[:n]))
}
