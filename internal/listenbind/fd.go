package listenbind

import (
	"fmt"
	"net"
	"os"
)

// fdFile wraps a raw file descriptor received from another process as an
// *os.File suitable for net.FileListener. name is cosmetic only (used in
// error messages net.FileListener may produce).
func fdFile(fd int, name string) *os.File {
	return os.NewFile(uintptr(fd), "socketfrom:"+name)
}

// fileOf returns the underlying *os.File of a bound listener, for the
// SendSocket server side. Only TCP and UNIX-domain listeners are
// supported, matching what Bind can itself produce.
func fileOf(ln net.Listener) (*os.File, error) {
	switch t := ln.(type) {
	case *net.TCPListener:
		return t.File()
	case *net.UnixListener:
		return t.File()
	default:
		return nil, fmt.Errorf("listenbind: unsupported listener type %T", ln)
	}
}
