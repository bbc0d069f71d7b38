package httpproxy

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyContentLength_ExactBytes(t *testing.T) {
	src := bufio.NewReader(strings.NewReader("hello world, extra"))
	var dst bytes.Buffer
	n, err := copyContentLength(&dst, src, 11)
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)
	assert.Equal(t, "hello world", dst.String())
}

func TestCopyChunked_ForwardsFramingVerbatim(t *testing.T) {
	raw := "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	src := bufio.NewReader(strings.NewReader(raw))
	var dst bytes.Buffer
	n, err := copyChunked(&dst, src)
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)
	assert.Equal(t, raw, dst.String())
}

func TestCopyChunked_WithTrailer(t *testing.T) {
	raw := "3\r\nabc\r\n0\r\nX-Trailer: v\r\n\r\n"
	src := bufio.NewReader(strings.NewReader(raw))
	var dst bytes.Buffer
	_, err := copyChunked(&dst, src)
	require.NoError(t, err)
	assert.Equal(t, raw, dst.String())
}

func TestCopyRPCStream_StopsAtBound(t *testing.T) {
	src := bufio.NewReader(strings.NewReader("0123456789extra"))
	var dst bytes.Buffer
	n, err := copyRPCStream(&dst, src, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)
	assert.Equal(t, "0123456789", dst.String())
}

func TestCopyRPCStream_ZeroBoundNoOp(t *testing.T) {
	src := bufio.NewReader(strings.NewReader("abc"))
	var dst bytes.Buffer
	n, err := copyRPCStream(&dst, src, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	assert.Equal(t, "", dst.String())
}
