package vmspace

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

// Grow moves the end of the data segment to newEnd. Shrinking unmaps the
// pages above the new end. Growing fails with ErrOutOfMemory if the
// extension would run into another mapping, and with a LimitError if the
// segment would exceed the data limit. The extension joins the region
// below it when their attributes match.
func (as *AddressSpace) Grow(ctx context.Context, newEnd region.Addr) (err error) {
	began := time.Now()
	defer func() {
		as.metrics.RecordGrow(time.Since(began), err)
		as.logger.LogGrow(ctx, "data", newEnd, err)
	}()

	if err = ctx.Err(); err != nil {
		return err
	}

	g := lockorder.LockMap(&as.mu)
	populate, err := as.growLocked(g, newEnd)
	g.Unlock()
	if err != nil {
		return err
	}
	if populate.Start < populate.End {
		as.populate(ctx, populate)
	}
	return nil
}

// growLocked returns the range to populate when the segment is locked.
func (as *AddressSpace) growLocked(g *lockorder.Map, newEnd region.Addr) (region.Range, error) {
	if as.closed {
		return region.Range{}, ErrClosed
	}
	if as.startBrk == 0 {
		return region.Range{}, invalidf("address space has no data segment")
	}
	if newEnd < as.startBrk {
		return region.Range{}, invalidf("break %v below the segment start %v", newEnd, as.startBrk)
	}
	if size := uint64(newEnd - as.startBrk); size > as.limits.Data {
		return region.Range{}, limitError(LimitData, size, as.limits.Data)
	}

	newTop, ok := newEnd.RoundUp()
	if !ok || newTop > as.layout.Ceiling {
		return region.Range{}, fmt.Errorf("%w: break %v beyond the address space", ErrOutOfMemory, newEnd)
	}
	oldTop, _ := as.brk.RoundUp()

	switch {
	case newTop == oldTop:
		as.brk = newEnd
		return region.Range{}, nil
	case newTop < oldTop:
		if _, _, err := as.unmapLocked(g, region.Range{Start: newTop, End: oldTop}); err != nil {
			return region.Range{}, err
		}
		as.brk = newEnd
		return region.Range{}, nil
	}

	// One page of clearance above the new break.
	guard := region.Range{Start: oldTop, End: newTop}
	if end, ok := newTop.AddLength(region.PageSize); ok {
		guard.End = end
	}
	if h := as.idx.FindIntersection(guard); !h.IsNil() {
		return region.Range{}, fmt.Errorf("%w: break %v collides with %v", ErrOutOfMemory, newEnd, as.idx.Get(h).Range())
	}

	rng := region.Range{Start: oldTop, End: newTop}
	if zone, ok := as.layout.reservedOverlap(rng); ok {
		return region.Range{}, fmt.Errorf("%w: break %v reaches reserved %v", ErrOutOfMemory, newEnd, zone)
	}
	if err := as.extendData(g, rng); err != nil {
		return region.Range{}, err
	}
	as.brk = newEnd
	if as.defFlags.Has(region.FlagLocked) {
		return rng, nil
	}
	return region.Range{}, nil
}

// extendData maps rng as anonymous private read-write memory, joining the
// region below when possible.
func (as *AddressSpace) extendData(g *lockorder.Map, rng region.Range) error {
	pages := rng.Pages()

	nh, n, err := as.idx.Alloc()
	if err != nil {
		return translateError(err)
	}
	n.Start, n.End = rng.Start, rng.End
	n.Prot = region.ProtRead | region.ProtWrite
	n.Flags = as.defFlags
	n.Backing = region.AnonPrivate{}
	if accountable(n.Prot, n.Flags, n.Kind(), false) {
		n.Flags |= region.FlagAccounted
	}

	if next := as.idx.Len() + as.predictDelta(n, region.Range{}); next > as.idx.Len() {
		if err := as.checkRegions(next); err != nil {
			as.idx.Discard(nh)
			return err
		}
	}
	var locked uint64
	if n.Flags.Has(region.FlagLocked) {
		locked = pages
	}
	if err := as.checkGrowth(pages, 0, locked, 0); err != nil {
		as.idx.Discard(nh)
		return err
	}
	if n.Flags.Has(region.FlagAccounted) {
		if err := as.charge(pages); err != nil {
			as.idx.Discard(nh)
			return err
		}
	}

	as.acct.add(n, pages)
	if _, merged := as.mergeInsert(g, nh); merged {
		as.idx.Discard(nh)
	}
	return nil
}
