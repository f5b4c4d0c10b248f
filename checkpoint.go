package vmspace

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/vmspace/backing"
	"github.com/hupe1980/vmspace/blobstore"
	"github.com/hupe1980/vmspace/internal/snapshot"
	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/policy"
	"github.com/hupe1980/vmspace/region"
	"github.com/hupe1980/vmspace/resource"
)

// Compression selects how checkpoints are compressed.
type Compression = snapshot.Compression

const (
	CompressionNone = snapshot.CompressionNone
	CompressionLZ4  = snapshot.CompressionLZ4
	CompressionZSTD = snapshot.CompressionZSTD
)

type checkpointOptions struct {
	compression Compression
}

// CheckpointOption configures Checkpoint.
type CheckpointOption func(*checkpointOptions)

// WithCompression selects the checkpoint codec. The default is zstd.
func WithCompression(c Compression) CheckpointOption {
	return func(o *checkpointOptions) {
		o.compression = c
	}
}

// ObjectResolver returns the backing object recorded under name.
type ObjectResolver func(ctx context.Context, name string) (region.Mappable, error)

// Checkpoint writes the region layout, the data segment and the free hint to
// store under name. Page contents are not recorded.
func (as *AddressSpace) Checkpoint(ctx context.Context, store blobstore.Store, name string, optFns ...CheckpointOption) (err error) {
	o := checkpointOptions{compression: CompressionZSTD}
	for _, fn := range optFns {
		fn(&o)
	}

	var regions int
	defer func() {
		as.logger.LogCheckpoint(ctx, "checkpoint", name, regions, err)
	}()

	l, err := as.layoutSnapshot()
	if err != nil {
		return err
	}
	regions = len(l.Records)

	var buf bytes.Buffer
	if err := snapshot.Encode(&buf, l, o.compression); err != nil {
		return err
	}
	return store.Put(ctx, name, buf.Bytes())
}

func (as *AddressSpace) layoutSnapshot() (*snapshot.Layout, error) {
	g := lockorder.RLockMap(&as.mu)
	defer g.Unlock()
	if as.closed {
		return nil, ErrClosed
	}

	l := &snapshot.Layout{
		StartBrk: uint64(as.startBrk),
		Brk:      uint64(as.brk),
		FreeHint: uint64(as.freeHint),
		Records:  make([]snapshot.Record, 0, as.idx.Len()),
	}
	for _, r := range as.idx.All() {
		rec := snapshot.Record{
			Start:  uint64(r.Start),
			End:    uint64(r.End),
			Prot:   uint8(r.Prot),
			Flags:  uint32(r.Flags),
			Kind:   uint8(r.Kind()),
			Offset: r.Offset(),
		}
		switch b := r.Backing.(type) {
		case region.File:
			rec.Object = b.Object.Name()
		case region.AnonShared:
			rec.Object = b.Object.Name()
		case region.Special:
			rec.Object = b.Name
		}
		if p, ok := r.Policy.(*policy.Policy); ok && p != nil {
			rec.PolicyMode = uint8(p.Mode())
			rec.PolicyNodes = p.Nodes()
		}
		l.Records = append(l.Records, rec)
	}
	return l, nil
}

// Restore rebuilds the layout recorded under name into an empty address
// space. File-backed regions get their objects from resolve; each distinct
// shared anonymous object is recreated empty. If anything fails the space
// is left empty.
func (as *AddressSpace) Restore(ctx context.Context, store blobstore.Store, name string, resolve ObjectResolver) (err error) {
	var regions int
	defer func() {
		as.logger.LogCheckpoint(ctx, "restore", name, regions, err)
	}()

	l, err := as.readLayout(ctx, store, name)
	if err != nil {
		return err
	}
	objs, err := resolveObjects(ctx, l, resolve)
	if err != nil {
		return err
	}

	g := lockorder.LockMap(&as.mu)
	defer g.Unlock()
	if as.closed {
		return ErrClosed
	}
	if as.idx.Len() != 0 {
		return invalidf("restore into a non-empty address space")
	}
	if len(l.Records) > as.limits.MaxRegions {
		return limitError(LimitRegions, uint64(len(l.Records)), uint64(as.limits.MaxRegions)) //nolint:gosec // non-negative counts
	}

	for i := range l.Records {
		if err := as.restoreRecord(g, &l.Records[i], objs); err != nil {
			hs := as.idx.DetachAll()
			as.unlinkAll(g, hs)
			as.releaseRegions(g, hs, 0, 0)
			as.idx.Reset()
			return err
		}
	}
	as.startBrk = region.Addr(l.StartBrk)
	as.brk = region.Addr(l.Brk)
	if l.FreeHint != 0 {
		as.freeHint = region.Addr(l.FreeHint)
	}
	regions = len(l.Records)
	return nil
}

func (as *AddressSpace) readLayout(ctx context.Context, store blobstore.Store, name string) (*snapshot.Layout, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, translateError(err)
	}
	defer b.Close()

	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return nil, translateError(err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if ctl, ok := as.admission.(*resource.Controller); ok {
		r = resource.NewRateLimitedReader(ctx, rc, ctl)
	}
	l, err := snapshot.Decode(r)
	if err != nil {
		return nil, translateError(err)
	}
	return l, nil
}

// resolveObjects maps every object name in l to a backing object.
func resolveObjects(ctx context.Context, l *snapshot.Layout, resolve ObjectResolver) (map[string]region.Mappable, error) {
	shmemSize := make(map[string]uint64)
	for _, rec := range l.Records {
		if region.Kind(rec.Kind) == region.KindAnonShared {
			shmemSize[rec.Object] = max(shmemSize[rec.Object], rec.Offset+rec.End-rec.Start)
		}
	}

	objs := make(map[string]region.Mappable)
	for name, size := range shmemSize {
		objs[name] = backing.NewShmem(size)
	}
	for _, rec := range l.Records {
		if region.Kind(rec.Kind) != region.KindFile {
			continue
		}
		if _, ok := objs[rec.Object]; ok {
			continue
		}
		if resolve == nil {
			return nil, fmt.Errorf("%w: no resolver for object %s", ErrNotFound, rec.Object)
		}
		obj, err := resolve(ctx, rec.Object)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", rec.Object, translateError(err))
		}
		if obj == nil {
			return nil, fmt.Errorf("%w: object %s", ErrNotFound, rec.Object)
		}
		objs[rec.Object] = obj
	}
	return objs, nil
}

func (as *AddressSpace) restoreRecord(g *lockorder.Map, rec *snapshot.Record, objs map[string]region.Mappable) error {
	rng := region.Range{Start: region.Addr(rec.Start), End: region.Addr(rec.End)}
	if !rng.IsPageAligned() || !as.layout.contains(rng) {
		return invalidf("recorded region %v", rng)
	}
	prot := region.Prot(rec.Prot)
	if !prot.Valid() {
		return invalidf("recorded protection %#x", rec.Prot)
	}

	var b region.Backing
	switch region.Kind(rec.Kind) {
	case region.KindAnonPrivate:
		b = region.AnonPrivate{}
	case region.KindAnonShared:
		b = region.AnonShared{Object: objs[rec.Object], Offset: rec.Offset}
	case region.KindFile:
		b = region.File{Object: objs[rec.Object], Offset: rec.Offset}
	case region.KindSpecial:
		b = region.Special{Name: rec.Object}
	default:
		return invalidf("recorded kind %d", rec.Kind)
	}

	var pol region.Policy
	if rec.PolicyMode != 0 || len(rec.PolicyNodes) > 0 {
		p, err := policy.New(policy.Mode(rec.PolicyMode), rec.PolicyNodes...)
		if err != nil {
			return translateError(err)
		}
		if pol, err = as.policies.Copy(p); err != nil {
			return translateError(err)
		}
	}

	flags := region.Flags(rec.Flags)
	pages := rng.Pages()
	var locked uint64
	if flags.Has(region.FlagLocked) {
		locked = pages
	}
	if err := as.checkGrowth(pages, 0, locked, 0); err != nil {
		as.policies.Release(pol)
		return err
	}

	h, r, err := as.idx.Alloc()
	if err != nil {
		as.policies.Release(pol)
		return translateError(err)
	}
	r.Start, r.End = rng.Start, rng.End
	r.Prot = prot
	r.Flags = flags
	r.Backing = b
	r.Policy = pol

	if flags.Has(region.FlagAccounted) {
		if err := as.charge(pages); err != nil {
			as.policies.Release(pol)
			as.idx.Discard(h)
			return err
		}
	}
	if err := as.idx.Insert(h); err != nil {
		if flags.Has(region.FlagAccounted) {
			as.uncharge(pages)
		}
		as.policies.Release(pol)
		as.idx.Discard(h)
		return invalidf("recorded region %v: %v", rng, err)
	}

	if obj := r.Object(); obj != nil {
		obj.Open(r)
		m := obj.LockMappings(g)
		obj.Link(m, r)
		m.Unlock()
	}
	as.acct.add(r, pages)
	return nil
}
