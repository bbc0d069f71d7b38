package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessLogWriter_NoneDiscards(t *testing.T) {
	w := AccessLogWriter("none", 10, 3)
	n, err := w.Write([]byte("line\n"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.NoError(t, w.Close())
}

func TestAccessLogWriter_EmptyDiscards(t *testing.T) {
	w := AccessLogWriter("", 10, 3)
	assert.NotNil(t, w)
	assert.NoError(t, w.Close())
}

func TestSetupProcess_DoesNotPanic(t *testing.T) {
	SetupProcess(false)
	SetupProcess(true)
}
