package logging

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
)

// GorillaFormatter adapts a compiled Format to gorilla/handlers.LogFormatter,
// so the same token compiler can back handlers.CustomLoggingHandler on the
// net/http-based control plane (internal/mgmt), matching the teacher's own
// use of gorilla/handlers.CombinedLoggingHandler in app/proxy/handlers.go
// but with the token-driven format instead of the fixed Apache-combined one.
//
// internal/httpproxy's raw-socket state machine has no *http.Request to feed
// this adapter, so it builds Records directly and calls Format.Render
// itself; this adapter exists for the one real net/http surface in the
// module that can use gorilla/handlers the way the teacher does.
func GorillaFormatter(f *Format) handlers.LogFormatter {
	return func(w io.Writer, params handlers.LogFormatterParams) {
		rec := Record{
			ClientAddr:   params.Request.RemoteAddr,
			RequestLine:  params.Request.Method + " " + params.URL.RequestURI() + " " + params.Request.Proto,
			Status:       params.StatusCode,
			ResponseSize: int64(params.Size),
			Timestamp:    params.TimeStamp,
			Header: func(name string) (string, bool) {
				v := params.Request.Header.Get(name)
				return v, v != ""
			},
		}
		if u, _, ok := params.Request.BasicAuth(); ok {
			rec.User = u
		}
		_, _ = io.WriteString(w, f.Render(rec)+"\n")
	}
}

// WrapControlPlane builds an access-logging http.Handler around next using
// the given canned or custom token format, writing to out.
func WrapControlPlane(out io.Writer, next http.Handler, tokens string) (http.Handler, error) {
	f, err := Compile(tokens)
	if err != nil {
		return nil, err
	}
	return handlers.CustomLoggingHandler(out, next, GorillaFormatter(f)), nil
}
