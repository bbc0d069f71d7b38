// Package listenbind binds a model.Listener's configured address to an
// accept-ready net.Listener: plain TCP (IPv4/IPv6), a UNIX-domain socket
// path, or the "SocketFrom" mode where a pre-bound listening file
// descriptor is received from another process over SCM_RIGHTS ancillary
// data on a UNIX socket (spec.md §6 "Listener bind").
//
// Grounded on the teacher's own net.Listen/tls.NewListener call shape in
// app/mgmt/server.go and app/proxy/proxy.go (bind-then-Serve), generalized
// with the fork+exec FD-inheritance pattern from the retrieval pack's
// fasthttp-style prefork listener (other_examples), adapted from passing
// the FD as ExtraFiles across exec to passing it live over a UNIX socket
// via SCM_RIGHTS, since reproxy has no privilege-separated bind step of
// its own to borrow directly.
package listenbind

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/sys/unix"
)

const socketFromPrefix = "socketfrom:"

// Bind turns addr into an accept-ready net.Listener. addr is one of:
//
//   - "host:port"        -> TCP listener (IPv4 or IPv6, per net.Listen)
//   - "/path/to.sock"     -> UNIX-domain stream listener at that path
//   - "socketfrom:/path"  -> connect to the UNIX socket at /path and
//     receive one pre-bound listening FD via SCM_RIGHTS (spec.md's
//     "SocketFrom" directive)
func Bind(addr string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(addr, socketFromPrefix):
		return ReceiveSocket(strings.TrimPrefix(addr, socketFromPrefix))
	case strings.HasPrefix(addr, "/"):
		return net.Listen("unix", addr)
	default:
		return net.Listen("tcp", addr)
	}
}

// ReceiveSocket implements the client side of SocketFrom: dial the control
// UNIX socket at path, send one byte to request a descriptor, and read back
// exactly one file descriptor carried as SCM_RIGHTS ancillary data, wrapped
// as a net.Listener.
func ReceiveSocket(path string) (net.Listener, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listenbind: dial socketfrom %s: %w", path, err)
	}
	uconn, ok := conn.(*net.UnixConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("listenbind: socketfrom %s: not a unix socket", path)
	}
	defer uconn.Close()

	if _, err := uconn.Write([]byte{0}); err != nil {
		return nil, fmt.Errorf("listenbind: socketfrom %s: request: %w", path, err)
	}

	raw, err := uconn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("listenbind: socketfrom %s: %w", path, err)
	}

	var fd int
	var recvErr error
	oob := make([]byte, unix.CmsgSpace(4))
	buf := make([]byte, 1)
	ctrlErr := raw.Read(func(rawFD uintptr) bool {
		n, oobn, _, _, err := unix.Recvmsg(int(rawFD), buf, oob, 0)
		if err != nil {
			recvErr = err
			return true
		}
		if n == 0 && oobn == 0 {
			recvErr = fmt.Errorf("socketfrom %s: peer closed without sending a descriptor", path)
			return true
		}
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			recvErr = err
			return true
		}
		for _, c := range cmsgs {
			fds, err := unix.ParseUnixRights(&c)
			if err != nil {
				continue
			}
			if len(fds) > 0 {
				fd = fds[0]
				return true
			}
		}
		recvErr = fmt.Errorf("socketfrom %s: no descriptor in SCM_RIGHTS message", path)
		return true
	})
	if ctrlErr != nil {
		return nil, fmt.Errorf("listenbind: socketfrom %s: %w", path, ctrlErr)
	}
	if recvErr != nil {
		return nil, fmt.Errorf("listenbind: %w", recvErr)
	}

	return net.FileListener(fdFile(fd, path))
}

// SendSocket implements the server side of SocketFrom: listens on a UNIX
// control socket at path and, for every connecting client, sends ln's
// underlying file descriptor as SCM_RIGHTS ancillary data. Intended for a
// privileged bind-helper process that owns a low-numbered port and hands
// the already-bound socket to unprivileged workers; runs until ctrl is
// closed.
func SendSocket(ctrl *net.UnixListener, ln net.Listener) error {
	f, err := fileOf(ln)
	if err != nil {
		return fmt.Errorf("listenbind: socketfrom source: %w", err)
	}
	defer f.Close()

	for {
		client, err := ctrl.AcceptUnix()
		if err != nil {
			return err
		}
		if err := sendFD(client, f); err != nil {
			_ = client.Close()
			continue
		}
		_ = client.Close()
	}
}

func sendFD(client *net.UnixConn, f fileLike) error {
	raw, err := client.SyscallConn()
	if err != nil {
		return err
	}
	rights := unix.UnixRights(int(f.Fd()))
	var sendErr error
	ctrlErr := raw.Write(func(rawFD uintptr) bool {
		sendErr = unix.Sendmsg(int(rawFD), []byte{0}, rights, nil, 0)
		return true
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sendErr
}

type fileLike interface {
	Fd() uintptr
}
