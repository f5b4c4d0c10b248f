package vmspace_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmspace"
	"github.com/hupe1980/vmspace/backing"
	"github.com/hupe1980/vmspace/blobstore"
	"github.com/hupe1980/vmspace/policy"
	"github.com/hupe1980/vmspace/region"
	"github.com/hupe1980/vmspace/resource"
)

// populated builds a space with one region of every kind.
func populated(t *testing.T, f *backing.File) *vmspace.AddressSpace {
	t.Helper()
	ctx := context.Background()
	as := newSpace(t, vmspace.WithDataSegment(dataStart))

	require.NoError(t, as.Grow(ctx, d(3)+5))

	pol, err := policy.New(policy.Interleave, 0, 2)
	require.NoError(t, err)
	requests := []vmspace.MapRequest{
		{Length: 4 * pg, Prot: rw, Flags: anonFlags, Policy: pol},
		{Length: 3 * pg, Prot: rw, Flags: vmspace.MapShared | vmspace.MapAnonymous},
		{Length: 4 * pg, Prot: region.ProtRead, Flags: vmspace.MapPrivate, Object: f, Offset: 4 * pg},
		{Addr: p(40), Length: 8 * pg, Prot: rw, Flags: anonFlags | vmspace.MapFixed | vmspace.MapGrowsDown},
	}
	for _, req := range requests {
		_, err := as.Map(ctx, req)
		require.NoError(t, err)
	}
	require.NoError(t, as.Unmap(ctx, p(5), pg))
	require.NoError(t, as.InstallSpecial(ctx, p(60), pg, rx, "vdso"))
	return as
}

// shmemNames blanks the names of shared anonymous objects, which are
// recreated on restore.
var shmemNames = cmp.Transformer("shmemNames", func(v region.View) region.View {
	if v.Kind == region.KindAnonShared {
		v.Object = ""
	}
	return v
})

func TestCheckpointRestore(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, "libc.so", 16)
	resolve := func(_ context.Context, name string) (region.Mappable, error) {
		if name != "libc.so" {
			return nil, errors.New("unknown object")
		}
		return f, nil
	}

	for _, c := range []vmspace.Compression{vmspace.CompressionNone, vmspace.CompressionLZ4, vmspace.CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			src := populated(t, f)
			store := blobstore.NewMemoryStore()
			require.NoError(t, src.Checkpoint(ctx, store, "ckpt", vmspace.WithCompression(c)))

			dst := newSpace(t)
			require.NoError(t, dst.Restore(ctx, store, "ckpt", resolve))
			require.NoError(t, dst.Validate())

			if diff := cmp.Diff(src.Regions(), dst.Regions(), shmemNames); diff != "" {
				t.Errorf("regions (-src +dst):\n%s", diff)
			}
			if diff := cmp.Diff(src.Stats(), dst.Stats(), ignoreVolatile); diff != "" {
				t.Errorf("stats (-src +dst):\n%s", diff)
			}
			assert.Equal(t, d(3)+5, dst.Brk())

			// The restored space keeps working.
			require.NoError(t, dst.Grow(ctx, d(5)))
			require.NoError(t, dst.ExpandStack(ctx, p(39)))
			require.NoError(t, dst.Unmap(ctx, p(0), 80*pg))
			require.NoError(t, dst.Validate())
		})
	}
}

func TestRestoreSharedAnonymousKeepsSharing(t *testing.T) {
	ctx := context.Background()
	src := newSpace(t)
	_, err := src.Map(ctx, vmspace.MapRequest{Addr: p(0), Length: 6 * pg, Prot: rw, Flags: vmspace.MapShared | vmspace.MapAnonymous | vmspace.MapFixed})
	require.NoError(t, err)
	require.NoError(t, src.Unmap(ctx, p(2), 2*pg))

	store := blobstore.NewMemoryStore()
	require.NoError(t, src.Checkpoint(ctx, store, "shm"))

	dst := newSpace(t)
	require.NoError(t, dst.Restore(ctx, store, "shm", nil))
	views := dst.Regions()
	require.Len(t, views, 2)
	assert.Equal(t, views[0].Object, views[1].Object)
	assert.Equal(t, uint64(4*pg), views[1].Offset)
	require.NoError(t, dst.Validate())
}

func TestRestoreThrottledByController(t *testing.T) {
	ctx := context.Background()
	src := newSpace(t)
	mapAnon(t, src, p(0), 4, rw)
	store := blobstore.NewMemoryStore()
	require.NoError(t, src.Checkpoint(ctx, store, "ckpt", vmspace.WithCompression(vmspace.CompressionNone)))

	ctl := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20, CommitLimitPages: 100, Mode: resource.OvercommitNever})
	dst := newSpace(t, vmspace.WithAdmission(ctl))
	require.NoError(t, dst.Restore(ctx, store, "ckpt", nil))
	assert.Equal(t, ranges(src), ranges(dst))
	assert.Equal(t, int64(4), ctl.Committed())
}

func TestRestoreErrors(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, "libc.so", 16)
	store := blobstore.NewMemoryStore()
	require.NoError(t, populated(t, f).Checkpoint(ctx, store, "ckpt"))
	require.NoError(t, store.Put(ctx, "garbage", []byte("not a checkpoint")))
	resolve := func(context.Context, string) (region.Mappable, error) { return f, nil }

	t.Run("missing", func(t *testing.T) {
		as := newSpace(t)
		require.ErrorIs(t, as.Restore(ctx, store, "nope", nil), vmspace.ErrNotFound)
	})

	t.Run("corrupt", func(t *testing.T) {
		as := newSpace(t)
		require.ErrorIs(t, as.Restore(ctx, store, "garbage", nil), vmspace.ErrInvalidArgument)
	})

	t.Run("not empty", func(t *testing.T) {
		as := newSpace(t)
		mapAnon(t, as, p(100), 1, rw)
		require.ErrorIs(t, as.Restore(ctx, store, "ckpt", resolve), vmspace.ErrInvalidArgument)
	})

	t.Run("unresolved object", func(t *testing.T) {
		as := newSpace(t)
		require.ErrorIs(t, as.Restore(ctx, store, "ckpt", nil), vmspace.ErrNotFound)
		assert.Empty(t, as.Regions())
	})

	t.Run("region limit", func(t *testing.T) {
		as := newSpace(t, vmspace.WithLimits(vmspace.Limits{MaxRegions: 2}))
		err := as.Restore(ctx, store, "ckpt", resolve)
		var le *vmspace.LimitError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, vmspace.LimitRegions, le.Limit)
	})

	t.Run("address space limit rolls back", func(t *testing.T) {
		ctl := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})
		as := newSpace(t, vmspace.WithLimits(vmspace.Limits{AddressSpace: 8 * pg}), vmspace.WithNodeBudget(ctl))
		refs := f.Refs()

		require.ErrorIs(t, as.Restore(ctx, store, "ckpt", resolve), vmspace.ErrResourceLimit)
		assert.Empty(t, as.Regions())
		assert.Zero(t, ctl.MemoryUsage())
		assert.Zero(t, as.Stats().TotalPages)
		assert.Equal(t, refs, f.Refs())
		require.NoError(t, as.Validate())
	})
}
