package acme

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeStore_PutGetRemove(t *testing.T) {
	dir := t.TempDir()
	s := NewChallengeStore(dir)

	require.NoError(t, s.Put("abc123", "abc123.keyauth"))

	data, err := s.Get("abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123.keyauth", string(data))

	require.NoError(t, s.Remove("abc123"))
	_, err = s.Get("abc123")
	assert.True(t, os.IsNotExist(err))
}

func TestChallengeStore_RemoveMissingIsNotError(t *testing.T) {
	s := NewChallengeStore(t.TempDir())
	assert.NoError(t, s.Remove("never-existed"))
}

func TestChallengeStore_RejectsTraversalTokens(t *testing.T) {
	s := NewChallengeStore(t.TempDir())
	for _, tok := range []string{"../etc/passwd", "a/b", ".."} {
		err := s.Put(tok, "x")
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}

func TestChallengeStore_StoresUnderDir(t *testing.T) {
	dir := t.TempDir()
	s := NewChallengeStore(dir)
	require.NoError(t, s.Put("tok", "val"))
	_, err := os.Stat(filepath.Join(dir, "tok"))
	assert.NoError(t, err)
}
