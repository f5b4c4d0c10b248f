package vmspace

import (
	"github.com/hupe1980/vmspace/internal/index"
	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

// compatible reports whether r and o may become one region if they touch.
func (as *AddressSpace) compatible(r, o *region.Region) bool {
	if r.Prot != o.Prot || r.Flags != o.Flags {
		return false
	}
	if r.Flags.Has(region.FlagSpecial) {
		return false
	}
	if r.Kind() != o.Kind() || r.Object() != o.Object() {
		return false
	}
	if !as.policies.Equal(r.Policy, o.Policy) {
		return false
	}
	return as.rmap.Compatible(r.Anon, o.Anon)
}

// contiguous reports whether hi starts where lo ends, in the address space
// and in the backing object.
func contiguous(lo, hi *region.Region) bool {
	if lo.End != hi.Start {
		return false
	}
	if lo.Object() == nil {
		return true
	}
	return lo.Offset()+lo.Length() == hi.Offset()
}

// mergeCase decides which neighbours n joins. When both qualify but their
// reverse-map groups differ, only the previous region is joined.
func (as *AddressSpace) mergeCase(prev, n, next *region.Region) (joinPrev, joinNext bool) {
	joinPrev = prev != nil && contiguous(prev, n) && as.compatible(prev, n)
	joinNext = next != nil && contiguous(n, next) && as.compatible(next, n)
	if joinPrev && joinNext && !as.rmap.Compatible(prev.Anon, next.Anon) {
		joinNext = false
	}
	return joinPrev, joinNext
}

// predictDelta returns how the region count changes when cand is inserted
// once overlap has been removed: 1 for a new region, 0 when it extends one
// neighbour, -1 when it joins both.
func (as *AddressSpace) predictDelta(cand *region.Region, overlap region.Range) int {
	joinPrev, joinNext := as.mergeCase(as.virtualPrev(cand.Start, overlap), cand, as.virtualNext(cand.End, overlap))
	switch {
	case joinPrev && joinNext:
		return -1
	case joinPrev || joinNext:
		return 0
	default:
		return 1
	}
}

// virtualPrev returns a copy of the region that will precede addr once
// overlap is gone.
func (as *AddressSpace) virtualPrev(addr region.Addr, overlap region.Range) *region.Region {
	for h := as.idx.FindInsertionPoint(addr).Prev; !h.IsNil(); h = as.idx.Prev(h) {
		r := *as.idx.Get(h)
		if !r.Range().Overlaps(overlap) {
			return &r
		}
		if r.Start < overlap.Start {
			r.End = overlap.Start
			return &r
		}
	}
	return nil
}

// virtualNext returns a copy of the region that will follow addr once overlap
// is gone.
func (as *AddressSpace) virtualNext(addr region.Addr, overlap region.Range) *region.Region {
	for h := as.idx.Find(addr); !h.IsNil(); h = as.idx.Next(h) {
		r := *as.idx.Get(h)
		if !r.Range().Overlaps(overlap) {
			return &r
		}
		if r.End > overlap.End {
			r.Backing = region.Shift(r.Backing, uint64(overlap.End-r.Start))
			r.Start = overlap.End
			return &r
		}
	}
	return nil
}

// mergeInsert places the unlinked region nh, extending a neighbour where
// possible. It returns the handle that now covers the range and whether nh
// was absorbed; an absorbed nh is left for the caller to release.
func (as *AddressSpace) mergeInsert(g *lockorder.Map, nh index.Handle) (index.Handle, bool) {
	n := as.idx.Get(nh)
	pt := as.idx.FindInsertionPoint(n.Start)
	prev, next := as.idx.Get(pt.Prev), as.idx.Get(pt.Next)
	joinPrev, joinNext := as.mergeCase(prev, n, next)

	switch {
	case joinPrev && joinNext:
		obj := prev.Object()
		m, locker := lockMappings(g, obj)
		prev.End = next.End
		as.rmap.Merge(locker, prev, next)
		if obj != nil && !obj.Unlink(m, next) {
			panic("vmspace: merged region " + next.Range().String() + " missing from " + obj.Name())
		}
		if m != nil {
			m.Unlock()
		}
		as.idx.Unlink(pt.Next)
		as.dropRegion(pt.Next)
		as.metrics.RecordMerge(MergeBoth)
		return pt.Prev, true

	case joinPrev:
		m, _ := lockMappings(g, prev.Object())
		prev.End = n.End
		if m != nil {
			m.Unlock()
		}
		as.metrics.RecordMerge(MergePrev)
		return pt.Prev, true

	case joinNext:
		m, _ := lockMappings(g, next.Object())
		next.Start = n.Start
		next.Backing = n.Backing
		if m != nil {
			m.Unlock()
		}
		as.metrics.RecordMerge(MergeNext)
		return pt.Next, true
	}

	as.idx.Link(nh, pt)
	obj := n.Object()
	m, locker := lockMappings(g, obj)
	if obj != nil {
		obj.Link(m, n)
	}
	as.rmap.Link(locker, n)
	if m != nil {
		m.Unlock()
	}
	return nh, false
}

// dropRegion releases an unlinked region that has been absorbed or torn
// down: its object reference, its policy and its node.
func (as *AddressSpace) dropRegion(h index.Handle) {
	r := as.idx.Get(h)
	if obj := r.Object(); obj != nil {
		obj.Close(r)
	}
	as.policies.Release(r.Policy)
	as.idx.Discard(h)
}
