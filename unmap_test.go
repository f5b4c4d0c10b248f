package vmspace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmspace"
	"github.com/hupe1980/vmspace/region"
)

func TestUnmapAcrossRegions(t *testing.T) {
	ctx := context.Background()
	as := newSpace(t)
	mapAnon(t, as, p(0), 4, rw)
	mapAnon(t, as, p(4), 4, region.ProtRead)
	mapAnon(t, as, p(10), 4, rw)
	mapAnon(t, as, p(16), 4, region.ProtRead)

	require.NoError(t, as.Unmap(ctx, p(2), 16*pg))
	assert.Equal(t, []region.Range{rng(0, 2), rng(18, 20)}, ranges(as))
	assert.Equal(t, uint64(4), as.Stats().TotalPages)
	require.NoError(t, as.Validate())
}

func TestUnmapValidation(t *testing.T) {
	ctx := context.Background()
	as := newSpace(t)

	require.ErrorIs(t, as.Unmap(ctx, p(0)+1, pg), vmspace.ErrInvalidArgument)
	require.ErrorIs(t, as.Unmap(ctx, p(0), 0), vmspace.ErrInvalidArgument)
	require.ErrorIs(t, as.Unmap(ctx, 1<<47, pg), vmspace.ErrInvalidArgument)
	require.ErrorIs(t, as.Unmap(ctx, p(0), ^uint64(0)-pg), vmspace.ErrInvalidArgument)
}

func TestUnmapFailureLeavesRegionsIntact(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		opt  vmspace.Option
		want error
	}{
		{"region count", vmspace.WithLimits(vmspace.Limits{MaxRegions: 1}), vmspace.ErrResourceLimit},
		{"node allocation", vmspace.WithMaxNodes(2), vmspace.ErrOutOfMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			as := newSpace(t, tt.opt)
			mapAnon(t, as, p(0), 6, rw)
			before := capture(as)

			require.ErrorIs(t, as.Unmap(ctx, p(2), 2*pg), tt.want)
			requireUnchanged(t, as, before)

			// Trimming an end needs no new region.
			require.NoError(t, as.Unmap(ctx, p(4), 2*pg))
			assert.Equal(t, []region.Range{rng(0, 4)}, ranges(as))
		})
	}
}

func TestUnmapCanceledContext(t *testing.T) {
	as := newSpace(t)
	mapAnon(t, as, p(0), 4, rw)
	before := capture(as)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, as.Unmap(ctx, p(0), 4*pg), context.Canceled)
	requireUnchanged(t, as, before)
}

func TestFreeHint(t *testing.T) {
	ctx := context.Background()

	t.Run("advances past each scanned mapping", func(t *testing.T) {
		as := newSpace(t)
		a, err := as.Map(ctx, vmspace.MapRequest{Length: 4 * pg, Prot: rw, Flags: anonFlags})
		require.NoError(t, err)
		assert.Equal(t, p(0), a)
		assert.Equal(t, p(4), as.Stats().FreeHint)

		b, err := as.Map(ctx, vmspace.MapRequest{Length: 2 * pg, Prot: region.ProtRead, Flags: anonFlags})
		require.NoError(t, err)
		assert.Equal(t, p(4), b)
		assert.Equal(t, p(6), as.Stats().FreeHint)
	})

	t.Run("retracts when a lower region is unmapped", func(t *testing.T) {
		as := newSpace(t)
		a, err := as.Map(ctx, vmspace.MapRequest{Length: 4 * pg, Prot: rw, Flags: anonFlags})
		require.NoError(t, err)
		_, err = as.Map(ctx, vmspace.MapRequest{Length: 4 * pg, Prot: region.ProtRead, Flags: anonFlags})
		require.NoError(t, err)

		require.NoError(t, as.Unmap(ctx, a, 4*pg))
		assert.Equal(t, a, as.Stats().FreeHint)

		again, err := as.Map(ctx, vmspace.MapRequest{Length: 4 * pg, Prot: rw, Flags: anonFlags})
		require.NoError(t, err)
		assert.Equal(t, a, again)
	})

	t.Run("fixed mappings leave it alone", func(t *testing.T) {
		as := newSpace(t)
		mapAnon(t, as, p(0), 4, rw)
		assert.Equal(t, p(0), as.Stats().FreeHint)

		addr, err := as.Map(ctx, vmspace.MapRequest{Length: pg, Prot: rw, Flags: anonFlags})
		require.NoError(t, err)
		assert.Equal(t, p(4), addr)
	})

	t.Run("a free hint address is honoured", func(t *testing.T) {
		as := newSpace(t)
		addr, err := as.Map(ctx, vmspace.MapRequest{Addr: p(100) + 10, Length: pg, Prot: rw, Flags: anonFlags})
		require.NoError(t, err)
		assert.Equal(t, p(101), addr)

		// An occupied hint falls back to the scan.
		addr, err = as.Map(ctx, vmspace.MapRequest{Addr: p(101), Length: pg, Prot: region.ProtRead, Flags: anonFlags})
		require.NoError(t, err)
		assert.Equal(t, p(0), addr)
	})
}

func TestScanRestartsFromBase(t *testing.T) {
	ctx := context.Background()
	as := newSpace(t, vmspace.WithLayout(vmspace.Layout{Min: p(0), Base: p(0), Ceiling: p(16)}))
	alloc := func(pages uint64, prot region.Prot) (region.Addr, error) {
		return as.Map(ctx, vmspace.MapRequest{Length: pages * pg, Prot: prot, Flags: anonFlags})
	}

	x, err := alloc(4, rw)
	require.NoError(t, err)
	_, err = alloc(4, region.ProtRead)
	require.NoError(t, err)
	require.NoError(t, as.Unmap(ctx, x, 4*pg))

	// Leaves a two-page hole at [2, 4).
	a, err := alloc(2, region.ProtExec)
	require.NoError(t, err)
	assert.Equal(t, p(0), a)

	a, err = alloc(6, rw)
	require.NoError(t, err)
	assert.Equal(t, p(8), a)
	a, err = alloc(2, region.ProtExec)
	require.NoError(t, err)
	assert.Equal(t, p(14), a)
	assert.Equal(t, p(16), as.Stats().FreeHint)

	// Nothing fits above the hint; the hole below it does.
	a, err = alloc(2, rw)
	require.NoError(t, err)
	assert.Equal(t, p(2), a)

	_, err = alloc(1, rw)
	require.ErrorIs(t, err, vmspace.ErrOutOfMemory)
	require.NoError(t, as.Validate())
}

func TestReservedZones(t *testing.T) {
	ctx := context.Background()
	layout := vmspace.DefaultLayout()
	layout.Reserved = []region.Range{rng(0, 2), rng(3, 4)}
	as := newSpace(t, vmspace.WithLayout(layout))

	addr, err := as.Map(ctx, vmspace.MapRequest{Length: 2 * pg, Prot: rw, Flags: anonFlags})
	require.NoError(t, err)
	assert.Equal(t, p(4), addr)

	addr, err = as.Map(ctx, vmspace.MapRequest{Length: pg, Prot: region.ProtRead, Flags: anonFlags})
	require.NoError(t, err)
	assert.Equal(t, p(6), addr, "scan continues above the hint")

	_, err = as.Map(ctx, vmspace.MapRequest{Addr: p(1), Length: pg, Prot: rw, Flags: anonFlags | vmspace.MapFixed})
	require.ErrorIs(t, err, vmspace.ErrInvalidArgument)

	addr, err = as.Map(ctx, vmspace.MapRequest{Addr: p(3), Length: pg, Prot: rw, Flags: anonFlags})
	require.NoError(t, err)
	assert.NotEqual(t, p(3), addr, "a reserved hint is not honoured")
}
