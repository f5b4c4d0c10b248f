package vmspace

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

// ExpandStack extends the grows-down region directly above addr so that it
// covers addr. It returns ErrNotFound if there is no such region. An addr
// that is already mapped is left alone.
func (as *AddressSpace) ExpandStack(ctx context.Context, addr region.Addr) (err error) {
	began := time.Now()
	defer func() {
		as.metrics.RecordGrow(time.Since(began), err)
		as.logger.LogGrow(ctx, "stack", addr, err)
	}()

	if err = ctx.Err(); err != nil {
		return err
	}

	g := lockorder.LockMap(&as.mu)
	defer g.Unlock()
	if as.closed {
		return ErrClosed
	}
	return as.expandStackLocked(g, addr.RoundDown())
}

func (as *AddressSpace) expandStackLocked(g *lockorder.Map, addr region.Addr) error {
	h := as.idx.Find(addr)
	if h.IsNil() {
		return fmt.Errorf("%w: no region above %v", ErrNotFound, addr)
	}
	r := as.idx.Get(h)
	if r.Start <= addr {
		return nil
	}
	if !r.Flags.Has(region.FlagGrowsDown) {
		return fmt.Errorf("%w: region %v above %v does not grow down", ErrNotFound, r.Range(), addr)
	}
	if addr < as.layout.Min {
		return fmt.Errorf("%w: stack below %v", ErrPermission, as.layout.Min)
	}
	if zone, ok := as.layout.reservedOverlap(region.Range{Start: addr, End: r.Start}); ok {
		return fmt.Errorf("%w: stack would grow into reserved %v", ErrOutOfMemory, zone)
	}

	grow := uint64(r.Start - addr)
	pages := grow >> region.PageShift
	if size := r.Length() + grow; size > as.limits.Stack {
		return limitError(LimitStack, size, as.limits.Stack)
	}
	var locked uint64
	if r.Flags.Has(region.FlagLocked) {
		locked = pages
	}
	if err := as.checkGrowth(pages, 0, locked, 0); err != nil {
		return err
	}
	hadGroup := r.Anon != nil
	if err := as.rmap.Prepare(g, r); err != nil {
		return translateError(err)
	}
	if r.Flags.Has(region.FlagAccounted) {
		if err := as.charge(pages); err != nil {
			if !hadGroup {
				as.rmap.Release(r)
			}
			return err
		}
	}

	m, locker := lockMappings(g, r.Object())
	r.Start = addr
	r.Backing = region.Unshift(r.Backing, grow)
	if !hadGroup {
		as.rmap.Link(locker, r)
	}
	if m != nil {
		m.Unlock()
	}
	as.acct.add(r, pages)
	return nil
}

// FindExtend returns the region containing addr, growing a stack region
// down to it if addr lies just below one.
func (as *AddressSpace) FindExtend(ctx context.Context, addr region.Addr) (region.View, error) {
	if v, ok := as.Lookup(addr); ok {
		return v, nil
	}
	if err := as.ExpandStack(ctx, addr); err != nil {
		return region.View{}, err
	}
	if v, ok := as.Lookup(addr); ok {
		return v, nil
	}
	return region.View{}, fmt.Errorf("%w: %v", ErrNotFound, addr)
}
