package arena

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	a, b uint64
}

func TestArena_New(t *testing.T) {
	t.Run("default chunk size", func(t *testing.T) {
		a := New[payload]()
		assert.Equal(t, 8, a.chunkBits) // 256 slots
		assert.Equal(t, 0, a.Len())
	})

	t.Run("chunk size rounds up", func(t *testing.T) {
		a := New[payload](WithChunkSize(100))
		assert.Equal(t, 7, a.chunkBits) // 128 slots
	})
}

func TestArena_AllocGetFree(t *testing.T) {
	a := New[payload](WithChunkSize(4))

	h, p, err := a.Alloc()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, h.IsNil())
	assert.Equal(t, payload{}, *p)

	p.a = 42
	got := a.Get(h)
	require.NotNil(t, got)
	assert.Equal(t, uint64(42), got.a)
	assert.Same(t, p, got)

	assert.True(t, a.Free(h))
	assert.Nil(t, a.Get(h), "freed handle must be stale")
	assert.False(t, a.Free(h), "double free must be rejected")

	h2, p2, err := a.Alloc()
	require.NoError(t, err)
	assert.Equal(t, h.Index, h2.Index, "slot is recycled")
	assert.NotEqual(t, h.Gen, h2.Gen, "generation advances on reuse")
	assert.Equal(t, payload{}, *p2, "recycled slot is zeroed")
	assert.Nil(t, a.Get(h))
}

func TestArena_NilHandle(t *testing.T) {
	a := New[payload]()
	assert.Nil(t, a.Get(Nil))
	assert.Nil(t, a.Get(Handle{Index: 12345}))
}

func TestArena_PointersStableAcrossGrowth(t *testing.T) {
	a := New[payload](WithChunkSize(2))

	h0, p0, err := a.Alloc()
	require.NoError(t, err)
	p0.a = 7

	for i := 0; i < 64; i++ {
		_, _, err := a.Alloc()
		require.NoError(t, err)
	}

	assert.Same(t, p0, a.Get(h0))
	assert.Equal(t, uint64(7), a.Get(h0).a)
	assert.Greater(t, a.Stats().Chunks, uint64(30))
}

func TestArena_MaxSlots(t *testing.T) {
	a := New[payload](WithMaxSlots(2))

	h, _, err := a.Alloc()
	require.NoError(t, err)
	_, _, err = a.Alloc()
	require.NoError(t, err)

	_, _, err = a.Alloc()
	assert.ErrorIs(t, err, ErrMaxSlotsExceeded)
	assert.Equal(t, 0, a.Cap())
	assert.Equal(t, uint64(1), a.Stats().Failures)

	a.Free(h)
	_, _, err = a.Alloc()
	assert.NoError(t, err)
}

type budget struct {
	left     int64
	released int64
}

func (b *budget) AcquireMemory(n int64) error {
	if n > b.left {
		return errors.New("budget exhausted")
	}
	b.left -= n
	return nil
}

func (b *budget) ReleaseMemory(n int64) {
	b.left += n
	b.released += n
}

func TestArena_MemoryAcquirer(t *testing.T) {
	b := &budget{}
	a := New[payload](WithChunkSize(2), WithMemoryAcquirer(b))

	_, _, err := a.Alloc()
	assert.ErrorIs(t, err, ErrAllocationFailed)

	b.left = a.chunkBytes
	_, _, err = a.Alloc()
	require.NoError(t, err)
	_, _, err = a.Alloc() // index 2 needs a second chunk
	assert.ErrorIs(t, err, ErrAllocationFailed)

	a.Reset()
	assert.Equal(t, a.chunkBytes, b.released)
	assert.Equal(t, 0, a.Len())
}

func TestHandle_PackUnpack(t *testing.T) {
	h := Handle{Gen: 3, Index: 99}
	assert.Equal(t, h, Unpack(h.Pack()))
	assert.True(t, Unpack(0).IsNil())
}
