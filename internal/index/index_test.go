package index

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmspace/internal/arena"
	"github.com/hupe1980/vmspace/region"
)

func page(n uint64) region.Addr {
	return region.Addr(n * region.PageSize)
}

func insert(t *testing.T, ix *Index, start, end uint64) Handle {
	t.Helper()
	h, r, err := ix.Alloc()
	require.NoError(t, err)
	r.Start, r.End = page(start), page(end)
	r.Prot = region.ProtRead
	require.NoError(t, ix.Insert(h))
	return h
}

func starts(ix *Index) []uint64 {
	var out []uint64
	for _, r := range ix.All() {
		out = append(out, uint64(r.Start)/region.PageSize)
	}
	return out
}

func TestInsertAndOrder(t *testing.T) {
	ix := New()
	for _, s := range []uint64{50, 10, 30, 70, 20, 60, 40} {
		insert(t, ix, s, s+5)
	}
	require.NoError(t, ix.Validate())
	assert.Equal(t, 7, ix.Len())
	assert.Equal(t, []uint64{10, 20, 30, 40, 50, 60, 70}, starts(ix))
	assert.Equal(t, page(10), ix.Get(ix.First()).Start)
	assert.Equal(t, page(70), ix.Get(ix.Last()).Start)
}

func TestInsertOverlap(t *testing.T) {
	ix := New()
	insert(t, ix, 10, 20)

	for _, tc := range []struct {
		name       string
		start, end uint64
	}{
		{"inside", 12, 14},
		{"straddle low", 5, 11},
		{"straddle high", 19, 25},
		{"cover", 5, 25},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h, r, err := ix.Alloc()
			require.NoError(t, err)
			r.Start, r.End = page(tc.start), page(tc.end)
			assert.ErrorIs(t, ix.Insert(h), ErrOverlap)
			ix.Discard(h)
		})
	}

	insert(t, ix, 20, 30)
	insert(t, ix, 0, 10)
	require.NoError(t, ix.Validate())
}

func TestFind(t *testing.T) {
	ix := New()
	a := insert(t, ix, 10, 20)
	b := insert(t, ix, 30, 40)

	t.Run("below first", func(t *testing.T) {
		assert.Equal(t, a, ix.Find(page(1)))
		assert.True(t, ix.Lookup(page(1)).IsNil())
	})
	t.Run("inside", func(t *testing.T) {
		assert.Equal(t, a, ix.Find(page(15)))
		assert.Equal(t, a, ix.Lookup(page(15)))
	})
	t.Run("end is exclusive", func(t *testing.T) {
		assert.Equal(t, b, ix.Find(page(20)))
		assert.True(t, ix.Lookup(page(20)).IsNil())
	})
	t.Run("above last", func(t *testing.T) {
		assert.True(t, ix.Find(page(40)).IsNil())
		h, prev := ix.FindPrev(page(40))
		assert.True(t, h.IsNil())
		assert.Equal(t, b, prev)
	})
	t.Run("prev", func(t *testing.T) {
		h, prev := ix.FindPrev(page(35))
		assert.Equal(t, b, h)
		assert.Equal(t, a, prev)
	})
	t.Run("intersection", func(t *testing.T) {
		assert.Equal(t, b, ix.FindIntersection(region.Range{Start: page(25), End: page(31)}))
		assert.True(t, ix.FindIntersection(region.Range{Start: page(20), End: page(30)}).IsNil())
	})
}

func TestFindCache(t *testing.T) {
	ix := New()
	h := insert(t, ix, 10, 20)
	insert(t, ix, 30, 40)

	ix.Find(page(12))
	before := ix.Stats()
	assert.Equal(t, h, ix.Find(page(13)))
	after := ix.Stats()
	assert.Equal(t, before.CacheHits+1, after.CacheHits)

	ix.Unlink(h)
	ix.Discard(h)
	assert.Equal(t, ix.Find(page(30)), ix.Find(page(13)))
	assert.Equal(t, page(30), ix.Get(ix.Find(page(13))).Start)
	require.NoError(t, ix.Validate())
}

func TestInsertionPoint(t *testing.T) {
	ix := New()
	a := insert(t, ix, 10, 20)
	b := insert(t, ix, 40, 50)

	p := ix.FindInsertionPoint(page(25))
	assert.Equal(t, a, p.Prev)
	assert.Equal(t, b, p.Next)

	h, r, err := ix.Alloc()
	require.NoError(t, err)
	r.Start, r.End = page(25), page(30)
	ix.Link(h, p)
	require.NoError(t, ix.Validate())
	assert.Equal(t, h, ix.Next(a))
	assert.Equal(t, h, ix.Prev(b))
}

func TestDetachRange(t *testing.T) {
	for _, tc := range []struct{ n, total int }{{2, 40}, {40, 100}} {
		n := tc.n
		ix := New()
		var hs []Handle
		for i := 0; i < tc.total; i++ {
			hs = append(hs, insert(t, ix, uint64(i*10), uint64(i*10+5)))
		}
		run := ix.DetachRange(hs[3], hs[3+n-1])
		require.Len(t, run, n)
		require.NoError(t, ix.Validate())
		assert.Equal(t, tc.total-n, ix.Len())
		for _, h := range run {
			assert.False(t, ix.Linked(h))
			ix.Discard(h)
		}
		assert.Equal(t, hs[3+n], ix.Next(hs[2]))
	}
}

func TestDetachAll(t *testing.T) {
	ix := New()
	for i := 0; i < 100; i++ {
		insert(t, ix, uint64(i*3), uint64(i*3+2))
	}
	run := ix.DetachAll()
	assert.Len(t, run, 100)
	assert.Zero(t, ix.Len())
	assert.True(t, ix.First().IsNil())
	assert.True(t, ix.Last().IsNil())
	require.NoError(t, ix.Validate())
	assert.Nil(t, ix.DetachAll())
}

func TestRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ix := New(arena.WithChunkSize(16))
	live := map[uint64]Handle{}

	for i := 0; i < 4000; i++ {
		slot := uint64(rng.Intn(512))
		if h, ok := live[slot]; ok {
			ix.Unlink(h)
			ix.Discard(h)
			delete(live, slot)
		} else {
			live[slot] = insert(t, ix, slot*4, slot*4+1+uint64(rng.Intn(3)))
		}
		if i%250 == 0 {
			require.NoError(t, ix.Validate())
		}
	}
	require.NoError(t, ix.Validate())
	assert.Equal(t, len(live), ix.Len())

	for slot, h := range live {
		assert.Equal(t, h, ix.Lookup(page(slot*4)))
	}
}

func TestHandleOf(t *testing.T) {
	ix := New()
	h := insert(t, ix, 1, 2)
	assert.Equal(t, h, HandleOf(ix.Get(h).ID))
}

func TestReset(t *testing.T) {
	ix := New()
	insert(t, ix, 1, 2)
	ix.Reset()
	assert.Zero(t, ix.Len())
	require.NoError(t, ix.Validate())
	insert(t, ix, 1, 2)
	assert.Equal(t, 1, ix.Len())
}
