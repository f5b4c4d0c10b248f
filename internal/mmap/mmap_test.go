package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestOpenReadClose(t *testing.T) {
	content := []byte("mapped region contents")
	m, err := Open(writeFile(t, content))
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), m.Size())
	assert.Equal(t, content, m.Bytes())

	buf := make([]byte, 8)
	n, err := m.ReadAt(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "region c", string(buf))

	n, err = m.ReadAt(buf, int64(len(content))-3)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, n)

	_, err = m.ReadAt(buf, -1)
	assert.ErrorIs(t, err, ErrInvalidOffset)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())
	_, err = m.ReadAt(buf, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEmptyFile(t *testing.T) {
	m, err := Open(writeFile(t, nil))
	require.NoError(t, err)
	defer m.Close()

	assert.Zero(t, m.Size())
	assert.NoError(t, m.Advise(AccessWillNeed))
}

func TestAdviseRange(t *testing.T) {
	data := make([]byte, 3*os.Getpagesize())
	m, err := Open(writeFile(t, data))
	require.NoError(t, err)
	defer m.Close()

	assert.NoError(t, m.AdviseRange(100, 5000, AccessWillNeed))
	assert.NoError(t, m.Advise(AccessSequential))
	assert.ErrorIs(t, m.AdviseRange(0, int64(len(data))+1, AccessRandom), ErrOutOfBounds)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
