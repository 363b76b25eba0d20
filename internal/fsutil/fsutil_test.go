package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomicReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "value.json")

	require.NoError(t, WriteFileAtomic(path, []byte("old"), 0o600, ".test-*.tmp"))
	require.NoError(t, WriteFileAtomic(path, []byte("new"), 0o600, ".test-*.tmp"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are cleaned up")
	assert.Equal(t, "value.json", entries[0].Name())
}

func TestWriteFileAtomicMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "value.json")
	require.Error(t, WriteFileAtomic(path, []byte("x"), 0o600, ".test-*.tmp"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
