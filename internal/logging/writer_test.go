package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_LogRendersLine(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, `%a "%r" %s`)
	require.NoError(t, err)

	w.Log(Record{ClientAddr: "1.2.3.4", RequestLine: "GET / HTTP/1.1", Status: 200})
	assert.Equal(t, "1.2.3.4 \"GET / HTTP/1.1\" 200\n", buf.String())
}

func TestWriter_NullFormatWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, "")
	require.NoError(t, err)

	w.Log(Record{ClientAddr: "1.2.3.4"})
	assert.Empty(t, buf.String())
}

func TestWriter_NilWriterIsNoOp(t *testing.T) {
	var w *Writer
	w.Log(Record{}) // must not panic
}

func TestNewWriter_RejectsBadFormat(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, "%z")
	assert.Error(t, err)
}
