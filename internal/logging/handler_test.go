package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapControlPlane_LogsOneLinePerRequest(t *testing.T) {
	var buf bytes.Buffer
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short body"))
	})

	h, err := WrapControlPlane(&buf, inner, `%>s %b`)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "418 10")
}

func TestWrapControlPlane_RejectsBadFormat(t *testing.T) {
	_, err := WrapControlPlane(&bytes.Buffer{}, http.NotFoundHandler(), "%q")
	assert.Error(t, err)
}
