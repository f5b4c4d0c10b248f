package rmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

func TestPrepareLinkUnlink(t *testing.T) {
	var mu sync.RWMutex
	g := lockorder.LockMap(&mu)
	defer g.Unlock()

	m := New()
	r := &region.Region{ID: 1}
	require.NoError(t, m.Prepare(g, r))
	require.NotNil(t, r.Anon)
	grp := r.Anon

	require.NoError(t, m.Prepare(g, r))
	assert.Same(t, grp, r.Anon)

	m.Link(g, r)
	split := &region.Region{ID: 2, Anon: r.Anon}
	m.Link(g, split)
	assert.Equal(t, 2, r.Anon.(*Group).Len())
	assert.Equal(t, 1, m.Groups())

	m.Unlink(g, r)
	assert.Equal(t, 1, m.Groups())
	m.Unlink(g, split)
	assert.Zero(t, m.Groups())
}

func TestMaxGroups(t *testing.T) {
	var mu sync.RWMutex
	g := lockorder.LockMap(&mu)
	defer g.Unlock()

	m := New()
	m.MaxGroups = 1
	require.NoError(t, m.Prepare(g, &region.Region{ID: 1}))
	assert.ErrorIs(t, m.Prepare(g, &region.Region{ID: 2}), ErrTooManyGroups)
}

func TestRelease(t *testing.T) {
	var mu sync.RWMutex
	g := lockorder.LockMap(&mu)
	defer g.Unlock()

	m := New()
	r := &region.Region{ID: 1}
	require.NoError(t, m.Prepare(g, r))
	m.Release(r)
	assert.Zero(t, m.Groups())
	assert.Nil(t, r.Anon)

	// A group with members survives.
	require.NoError(t, m.Prepare(g, r))
	m.Link(g, r)
	m.Release(r)
	assert.Equal(t, 1, m.Groups())
	assert.NotNil(t, r.Anon)
}

func TestMerge(t *testing.T) {
	var mu sync.RWMutex
	g := lockorder.LockMap(&mu)
	defer g.Unlock()

	m := New()
	dst := &region.Region{ID: 1}
	src := &region.Region{ID: 2}
	require.NoError(t, m.Prepare(g, src))
	m.Link(g, src)

	assert.True(t, Compatible(dst.Anon, src.Anon))
	m.Merge(g, dst, src)
	assert.Same(t, src.Anon, dst.Anon)
	assert.Equal(t, 1, dst.Anon.(*Group).Len())
	assert.Equal(t, 1, m.Groups())

	other := &region.Region{ID: 3}
	require.NoError(t, m.Prepare(g, other))
	assert.False(t, Compatible(dst.Anon, other.Anon))
}

func TestLinkThroughMappingGuard(t *testing.T) {
	var mu sync.RWMutex
	var fmu sync.Mutex
	g := lockorder.LockMap(&mu)

	m := New()
	r := &region.Region{ID: 1}
	require.NoError(t, m.Prepare(g, r))

	f := g.LockMapping(&fmu)
	m.Link(f, r)
	f.Unlock()
	g.Unlock()

	assert.Equal(t, 1, r.Anon.(*Group).Len())
}
