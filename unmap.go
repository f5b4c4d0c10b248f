package vmspace

import (
	"context"
	"time"

	"github.com/hupe1980/vmspace/internal/index"
	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

// teardownPlan is everything removing a range needs decided and allocated
// before the first region is touched.
type teardownPlan struct {
	rng    region.Range
	first  index.Handle
	low    *splitPrep
	high   *splitPrep
	after  int
	pages  uint64
	locked uint64
}

func (p *teardownPlan) empty() bool {
	return p.first.IsNil()
}

// planTeardown inspects the regions intersecting rng, checks the region
// count the removal leaves and reserves the boundary splits. On error
// nothing has been changed.
func (as *AddressSpace) planTeardown(rng region.Range) (teardownPlan, error) {
	p := teardownPlan{rng: rng, after: as.idx.Len()}
	if rng.Start >= rng.End {
		return p, nil
	}
	first := as.idx.Find(rng.Start)
	if first.IsNil() || as.idx.Get(first).Start >= rng.End {
		return p, nil
	}

	removed, kept := 0, 0
	var last *region.Region
	for h := first; !h.IsNil(); h = as.idx.Next(h) {
		r := as.idx.Get(h)
		if r.Start >= rng.End {
			break
		}
		part := r.Range().Intersect(rng).Pages()
		p.pages += part
		if r.Flags.Has(region.FlagLocked) {
			p.locked += part
		}
		removed++
		if r.Start < rng.Start {
			kept++
		}
		if r.End > rng.End {
			kept++
		}
		last = r
	}
	p.after = as.idx.Len() - removed + kept
	if p.after > as.idx.Len() {
		if err := as.checkRegions(p.after); err != nil {
			return teardownPlan{}, err
		}
	}

	if fr := as.idx.Get(first); fr.Start < rng.Start {
		sp, err := as.prepareSplit(fr)
		if err != nil {
			return teardownPlan{}, err
		}
		p.low = &sp
	}
	if last.End > rng.End {
		sp, err := as.prepareSplit(last)
		if err != nil {
			if p.low != nil {
				as.abortSplit(*p.low)
			}
			return teardownPlan{}, err
		}
		p.high = &sp
	}
	p.first = first
	return p, nil
}

func (as *AddressSpace) abortTeardown(p teardownPlan) {
	if p.low != nil {
		as.abortSplit(*p.low)
	}
	if p.high != nil {
		as.abortSplit(*p.high)
	}
}

// commitTeardown splits at the boundaries of p.rng and detaches every
// region inside it from the index, the object collections and the reverse
// map. It returns the detached regions in address order.
func (as *AddressSpace) commitTeardown(g *lockorder.Map, p teardownPlan) []index.Handle {
	if p.empty() {
		return nil
	}

	first := p.first
	if p.low != nil {
		first = as.commitSplit(g, *p.low, first, p.rng.Start, false)
	}
	last := first
	for nx := as.idx.Next(last); !nx.IsNil() && as.idx.Get(nx).Start < p.rng.End; nx = as.idx.Next(nx) {
		last = nx
	}
	if p.high != nil {
		single := first == last
		last = as.commitSplit(g, *p.high, last, p.rng.End, true)
		if single {
			first = last
		}
	}

	hs := as.idx.DetachRange(first, last)
	as.unlinkAll(g, hs)
	return hs
}

// unlinkAll removes detached regions from their object collections and
// reverse-map groups.
func (as *AddressSpace) unlinkAll(g *lockorder.Map, hs []index.Handle) {
	for _, h := range hs {
		r := as.idx.Get(h)
		obj := r.Object()
		m, locker := lockMappings(g, obj)
		if obj != nil && !obj.Unlink(m, r) {
			panic("vmspace: region " + r.Range().String() + " missing from " + obj.Name())
		}
		as.rmap.Unlink(locker, r)
		if m != nil {
			m.Unlock()
		}
	}
}

// releaseRegions is the second teardown phase. Under the page-table lock it
// clears the pages of every region and frees the top-level directories
// left empty between floor and ceiling; then it runs the close hooks,
// releases policies and commit, and frees the nodes. It returns the number
// of pages removed.
func (as *AddressSpace) releaseRegions(g *lockorder.Map, hs []index.Handle, floor, ceiling region.Addr) uint64 {
	if len(hs) == 0 {
		return 0
	}

	var unwound uint64
	ptg := g.LockPageTable(&as.ptl)
	for _, h := range hs {
		unwound += as.pt.UnmapPages(ptg, as.idx.Get(h).Range())
	}
	as.pt.FreeEmpty(ptg, floor, ceiling)
	ptg.Unlock()
	if unwound > 0 {
		as.resident.Add(^(unwound - 1))
	}

	var pages uint64
	for _, h := range hs {
		r := as.idx.Get(h)
		n := r.Pages()
		pages += n
		as.acct.sub(r, n)
		if r.Flags.Has(region.FlagAccounted) {
			as.uncharge(n)
		}
		as.dropRegion(h)
	}
	return pages
}

// neighbours returns the end of the region below rng and the start of the
// region above it. Zero means there is none.
func (as *AddressSpace) neighbours(rng region.Range) (floor, ceiling region.Addr) {
	next, prev := as.idx.FindPrev(rng.Start)
	if !prev.IsNil() {
		floor = as.idx.Get(prev).End
	}
	if !next.IsNil() {
		ceiling = as.idx.Get(next).Start
	}
	return floor, ceiling
}

// removeRange tears down everything inside rng. The caller has already
// planned it.
func (as *AddressSpace) removeRange(g *lockorder.Map, p teardownPlan) (pages uint64, removed int) {
	hs := as.commitTeardown(g, p)
	if len(hs) == 0 {
		return 0, 0
	}
	starts := make([]region.Addr, len(hs))
	for i, h := range hs {
		starts[i] = as.idx.Get(h).Start
	}
	as.retractHint(starts)
	floor, ceiling := as.neighbours(p.rng)
	return as.releaseRegions(g, hs, floor, ceiling), len(hs)
}

// unmapLocked removes rng. Nothing is changed if it fails.
func (as *AddressSpace) unmapLocked(g *lockorder.Map, rng region.Range) (uint64, int, error) {
	p, err := as.planTeardown(rng)
	if err != nil {
		return 0, 0, err
	}
	pages, removed := as.removeRange(g, p)
	return pages, removed, nil
}

// checkRange validates a page-aligned address and a length and returns the
// page-rounded range.
func (as *AddressSpace) checkRange(addr region.Addr, length uint64) (region.Range, error) {
	if !addr.IsPageAligned() {
		return region.Range{}, invalidf("address %v is not page aligned", addr)
	}
	if length == 0 {
		return region.Range{}, invalidf("zero length")
	}
	rounded, ok := region.Addr(length).RoundUp()
	if !ok {
		return region.Range{}, invalidf("length %d overflows", length)
	}
	rng, ok := addr.ToRange(uint64(rounded))
	if !ok || rng.End > as.layout.Ceiling {
		return region.Range{}, invalidf("range at %v of %d bytes exceeds the address space", addr, length)
	}
	return rng, nil
}

// Unmap removes every mapping in [addr, addr+length). Regions that
// straddle either end are split. Unmapping a range with nothing in it
// succeeds and changes nothing.
//
// Once the regions have been detached the call runs to completion; ctx is
// consulted only before that.
func (as *AddressSpace) Unmap(ctx context.Context, addr region.Addr, length uint64) (err error) {
	began := time.Now()
	var (
		pages   uint64
		removed int
	)
	defer func() {
		as.metrics.RecordUnmap(time.Since(began), pages, err)
		as.logger.LogUnmap(ctx, addr, length, removed, err)
	}()

	rng, err := as.checkRange(addr, length)
	if err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	g := lockorder.LockMap(&as.mu)
	defer g.Unlock()
	if as.closed {
		return ErrClosed
	}
	pages, removed, err = as.unmapLocked(g, rng)
	return err
}
