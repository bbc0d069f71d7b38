package httpproxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// copyContentLength forwards exactly n bytes from src to dst, the
// content-length body mode of spec.md §4.6 FORWARD_BODY.
func copyContentLength(dst io.Writer, src *bufio.Reader, n int64) (int64, error) {
	return io.CopyN(dst, src, n)
}

// copyChunked forwards a chunked-encoded body verbatim, chunk-size lines,
// chunk data and the terminating zero-chunk plus trailers, returning the
// number of body (non-framing) bytes copied.
func copyChunked(dst io.Writer, src *bufio.Reader) (int64, error) {
	var total int64
	for {
		sizeLine, err := readLine(src)
		if err != nil {
			return total, err
		}
		sizeHex := sizeLine
		if i := strings.IndexByte(sizeLine, ';'); i >= 0 {
			sizeHex = sizeLine[:i] // chunk-extension, forwarded verbatim below
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeHex), 16, 64)
		if err != nil {
			return total, fmt.Errorf("httpproxy: malformed chunk size %q: %w", sizeLine, err)
		}
		if _, err := fmt.Fprintf(dst, "%s\r\n", sizeLine); err != nil {
			return total, err
		}
		if size == 0 {
			// trailer section, CRLF-terminated, ending on a bare CRLF
			for {
				tline, terr := readLine(src)
				if terr != nil {
					return total, terr
				}
				if _, werr := fmt.Fprintf(dst, "%s\r\n", tline); werr != nil {
					return total, werr
				}
				if tline == "" {
					return total, nil
				}
			}
		}
		n, err := io.CopyN(dst, src, size)
		total += n
		if err != nil {
			return total, err
		}
		// trailing CRLF after chunk data
		if _, err := readLine(src); err != nil {
			return total, err
		}
		if _, err := dst.Write([]byte("\r\n")); err != nil {
			return total, err
		}
	}
}

// copyRPCStream forwards an RPC_IN_DATA/RPC_OUT_DATA body: streamed until
// EOF, bounded by the client-declared length (spec.md §4.6 "RPC-in-
// streaming forces HTTP/1.0 semantics and streams until EOF"). Framing is
// opaque bytes, no chunk/length re-encoding, copied in small increments so
// neither side waits for the whole body to buffer.
func copyRPCStream(dst io.Writer, src *bufio.Reader, bound int64) (int64, error) {
	if bound <= 0 {
		return 0, nil
	}
	lr := io.LimitReader(src, bound)
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, rerr := lr.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}
