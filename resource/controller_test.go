package resource

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_OvercommitNever(t *testing.T) {
	c := NewController(Config{Mode: OvercommitNever, CommitLimitPages: 100})

	require.NoError(t, c.Reserve(60))
	require.NoError(t, c.Reserve(40))
	assert.ErrorIs(t, c.Reserve(1), ErrOvercommit)
	assert.Equal(t, int64(100), c.Committed())
	assert.Equal(t, int64(1), c.Rejected())

	c.Release(40)
	require.NoError(t, c.Reserve(30))
	assert.Equal(t, int64(90), c.Committed())
}

func TestController_OvercommitGuess(t *testing.T) {
	c := NewController(Config{Mode: OvercommitGuess, CommitLimitPages: 100})

	require.NoError(t, c.Reserve(80))
	require.NoError(t, c.Reserve(80))
	assert.ErrorIs(t, c.Reserve(101), ErrOvercommit)
	assert.Equal(t, int64(160), c.Committed())
}

func TestController_OvercommitAlways(t *testing.T) {
	c := NewController(Config{Mode: OvercommitAlways, CommitLimitPages: 1})
	require.NoError(t, c.Reserve(1<<40))
	c.Release(1 << 40)
	assert.Zero(t, c.Committed())
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	assert.NoError(t, c.Reserve(10))
	c.Release(10)
	assert.NoError(t, c.AcquirePopulate(context.Background(), 10))
	assert.NoError(t, c.AcquireMemory(10))
	c.ReleaseMemory(10)
	assert.Zero(t, c.Committed())
	assert.Zero(t, c.MemoryUsage())
}

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(50))
	require.NoError(t, c.AcquireMemory(40))
	assert.ErrorIs(t, c.AcquireMemory(20), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	require.NoError(t, c.AcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
}

func TestController_Populate(t *testing.T) {
	c := NewController(Config{PopulatePagesPerSec: 4})

	ctx := context.Background()
	require.NoError(t, c.AcquirePopulate(ctx, 4))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := c.AcquirePopulate(ctx, 16)
	assert.Error(t, err)
}

func TestRateLimitedReader(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	data := bytes.Repeat([]byte("x"), 4096)

	r := NewRateLimitedReader(context.Background(), bytes.NewReader(data), c)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	plain := NewRateLimitedReader(context.Background(), bytes.NewReader(data), nil)
	got, err = io.ReadAll(plain)
	require.NoError(t, err)
	assert.Len(t, got, len(data))
}
