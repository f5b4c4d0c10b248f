package vmspace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/vmspace/backing"
	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

// MapFlags select the kind of mapping Map creates.
type MapFlags uint32

const (
	// MapShared makes writes visible to every mapping of the object.
	MapShared MapFlags = 1 << iota
	// MapPrivate makes the mapping copy-on-write.
	MapPrivate
	// MapAnonymous maps zero-filled memory with no object.
	MapAnonymous
	// MapFixed places the mapping exactly at Addr, replacing what is there.
	MapFixed
	// MapPopulate makes every page present once the mapping exists.
	MapPopulate
	// MapGrowsDown marks a stack that ExpandStack may extend downwards.
	MapGrowsDown
	// MapLocked locks the mapping; it counts against the locked limit and
	// is populated.
	MapLocked
	// MapNoReserve skips the commit charge.
	MapNoReserve
	// MapDenyWrite marks the mapping as denying writes to the object.
	MapDenyWrite
	// MapNonLinear files a shared mapping in the object's non-linear
	// collection.
	MapNonLinear
)

var mapFlagNames = []string{
	"shared", "private", "anonymous", "fixed", "populate",
	"growsdown", "locked", "noreserve", "denywrite", "nonlinear",
}

func (f MapFlags) String() string {
	var parts []string
	for i, name := range mapFlagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// MapRequest describes a new mapping.
type MapRequest struct {
	// Addr is the fixed address with MapFixed and a hint otherwise. Zero
	// lets the allocator choose.
	Addr region.Addr
	// Length is rounded up to whole pages.
	Length uint64
	Prot   region.Prot
	Flags  MapFlags
	// Object backs a non-anonymous mapping.
	Object region.Mappable
	// Offset into Object; page aligned.
	Offset uint64
	// Policy is copied into the new region; nil is the default policy.
	Policy region.Policy
}

// validateMap checks the request and returns its page-rounded length.
func validateMap(req MapRequest) (uint64, error) {
	if req.Length == 0 {
		return 0, invalidf("zero length")
	}
	rounded, ok := region.Addr(req.Length).RoundUp()
	if !ok || rounded == 0 {
		return 0, fmt.Errorf("%w: length %d overflows", ErrOutOfMemory, req.Length)
	}
	length := uint64(rounded)

	shared := req.Flags&MapShared != 0
	if shared == (req.Flags&MapPrivate != 0) {
		return 0, invalidf("exactly one of shared and private is required")
	}
	if !req.Prot.Valid() {
		return 0, invalidf("protection %#x", uint8(req.Prot))
	}

	anon := req.Flags&MapAnonymous != 0
	switch {
	case anon && req.Object != nil:
		return 0, invalidf("anonymous mapping with an object")
	case !anon && req.Object == nil:
		return 0, invalidf("file mapping without an object")
	case anon && req.Flags&MapDenyWrite != 0:
		return 0, invalidf("deny-write needs an object")
	case !anon && req.Flags&MapGrowsDown != 0:
		return 0, invalidf("grows-down needs an anonymous mapping")
	case !shared && req.Flags&MapNonLinear != 0:
		return 0, invalidf("non-linear needs a shared mapping")
	}

	if !anon {
		if req.Offset&region.PageMask != 0 {
			return 0, invalidf("offset %#x is not page aligned", req.Offset)
		}
		if req.Offset+length < req.Offset {
			return 0, invalidf("offset %#x plus length overflows", req.Offset)
		}
	}
	return length, nil
}

func (as *AddressSpace) regionFlags(f MapFlags) region.Flags {
	flags := as.defFlags
	if f&MapShared != 0 {
		flags |= region.FlagShared | region.FlagMayShare
	}
	if f&MapGrowsDown != 0 {
		flags |= region.FlagGrowsDown
	}
	if f&MapLocked != 0 {
		flags |= region.FlagLocked
	}
	if f&MapDenyWrite != 0 {
		flags |= region.FlagDenyWrite
	}
	if f&MapNonLinear != 0 {
		flags |= region.FlagNonLinear
	}
	return flags
}

// Map creates a mapping and returns its start address.
//
// A fixed request replaces whatever overlaps it. Every check, allocation
// and charge happens before the overlap is removed, so a failed Map leaves
// the space unchanged. With MapPopulate or MapLocked the pages are made
// present after the structural change; population failures are ignored.
func (as *AddressSpace) Map(ctx context.Context, req MapRequest) (addr region.Addr, err error) {
	began := time.Now()
	var pages uint64
	defer func() {
		as.metrics.RecordMap(time.Since(began), pages, err)
		as.logger.LogMap(ctx, addr, req.Length, req.Flags, err)
	}()

	length, err := validateMap(req)
	if err != nil {
		return 0, err
	}
	if req.Object != nil {
		if err = req.Object.CheckAccess(req.Prot, req.Flags&MapShared != 0); err != nil {
			return 0, translateError(err)
		}
	}
	if as.security != nil {
		if herr := as.security(ctx, req); herr != nil {
			return 0, fmt.Errorf("%w: %w", ErrPermission, herr)
		}
	}
	if err = ctx.Err(); err != nil {
		return 0, err
	}

	g := lockorder.LockMap(&as.mu)
	addr, err = as.mapLocked(ctx, g, req, length)
	g.Unlock()
	if err != nil {
		return 0, err
	}
	pages = length >> region.PageShift

	if req.Flags&MapPopulate != 0 || as.regionFlags(req.Flags).Has(region.FlagLocked) {
		as.populate(ctx, region.Range{Start: addr, End: addr + region.Addr(length)})
	}
	return addr, nil
}

func (as *AddressSpace) mapLocked(ctx context.Context, g *lockorder.Map, req MapRequest, length uint64) (region.Addr, error) {
	if as.closed {
		return 0, ErrClosed
	}

	fixed := req.Flags&MapFixed != 0
	place, err := as.placeRange(req.Addr, length, fixed)
	if err != nil {
		return 0, err
	}
	var overlap region.Range
	if fixed {
		overlap = region.Range{Start: place.start, End: place.start + region.Addr(length)}
	}

	nh, n, err := as.idx.Alloc()
	if err != nil {
		return 0, translateError(err)
	}
	pol, err := as.policies.Copy(req.Policy)
	if err != nil {
		as.idx.Discard(nh)
		return 0, translateError(err)
	}

	n.Start = place.start
	n.End = place.start + region.Addr(length)
	n.Prot = req.Prot
	n.Flags = as.regionFlags(req.Flags)
	n.Policy = pol
	switch {
	case req.Flags&MapAnonymous == 0:
		n.Backing = region.File{Object: req.Object, Offset: req.Offset}
	case n.Flags.Has(region.FlagShared):
		n.Backing = region.AnonShared{Object: backing.NewShmem(length)}
	default:
		n.Backing = region.AnonPrivate{}
	}
	if accountable(n.Prot, n.Flags, n.Kind(), req.Flags&MapNoReserve != 0) {
		n.Flags |= region.FlagAccounted
	}

	var (
		obj     = n.Object()
		charged bool
		plan    teardownPlan
	)
	rollback := func() {
		as.abortTeardown(plan)
		if charged {
			as.uncharge(length >> region.PageShift)
		}
		if obj != nil {
			obj.Detach(n)
		}
		as.policies.Release(n.Policy)
		as.idx.Discard(nh)
	}

	// The object may move the mapping. The moved range must not reach
	// anything the request is not replacing.
	if obj != nil {
		start, err := obj.Attach(n)
		if err != nil {
			obj = nil
			rollback()
			return 0, translateError(err)
		}
		if start != n.Start {
			moved, ok := start.ToRange(length)
			if !ok || !moved.IsPageAligned() || !as.layout.contains(moved) || !as.freeExcept(moved, overlap) {
				rollback()
				return 0, invalidf("object %s moved the mapping to an unusable address %v", obj.Name(), start)
			}
			n.Start, n.End = moved.Start, moved.End
			place.scanned = false
		}
	}

	plan, err = as.planTeardown(overlap)
	if err != nil {
		rollback()
		return 0, err
	}
	pages := length >> region.PageShift
	if next := plan.after + as.predictDelta(n, overlap); next > as.idx.Len() {
		if err := as.checkRegions(next); err != nil {
			rollback()
			return 0, err
		}
	}
	var lockedPages uint64
	if n.Flags.Has(region.FlagLocked) {
		lockedPages = pages
	}
	if err := as.checkGrowth(pages, plan.pages, lockedPages, plan.locked); err != nil {
		rollback()
		return 0, err
	}
	if n.Flags.Has(region.FlagAccounted) {
		if err := as.charge(pages); err != nil {
			rollback()
			return 0, err
		}
		charged = true
	}
	if err := ctx.Err(); err != nil {
		rollback()
		return 0, err
	}

	// Nothing below can fail.
	as.removeRange(g, plan)
	start := n.Start
	as.acct.add(n, pages)
	if _, merged := as.mergeInsert(g, nh); merged {
		if obj != nil {
			obj.Detach(n)
		}
		as.policies.Release(n.Policy)
		as.idx.Discard(nh)
	}
	if place.scanned {
		as.freeHint = place.hint
	}
	return start, nil
}

// freeExcept reports whether every mapped part of rng lies inside overlap.
func (as *AddressSpace) freeExcept(rng, overlap region.Range) bool {
	for h := as.idx.Find(rng.Start); !h.IsNil(); h = as.idx.Next(h) {
		r := as.idx.Get(h)
		if r.Start >= rng.End {
			break
		}
		if !overlap.IsSupersetOf(r.Range().Intersect(rng)) {
			return false
		}
	}
	return true
}

// populate makes the pages of rng present. Private writable regions get a
// reverse-map group as they would on their first write fault. Backing
// objects that can prefetch are asked to once the lock is dropped.
func (as *AddressSpace) populate(ctx context.Context, rng region.Range) {
	if l, ok := as.admission.(populateLimiter); ok {
		if err := l.AcquirePopulate(ctx, rng.Pages()); err != nil {
			as.logger.DebugContext(ctx, "populate skipped", "range", rng, "error", err)
			return
		}
	}

	type prefetch struct {
		p           populator
		off, length uint64
	}
	var fetches []prefetch

	g := lockorder.LockMap(&as.mu)
	if as.closed {
		g.Unlock()
		return
	}
	for h := as.idx.Find(rng.Start); !h.IsNil(); h = as.idx.Next(h) {
		r := as.idx.Get(h)
		if r.Start >= rng.End {
			break
		}
		if !r.Prot.Any() {
			continue
		}
		part := r.Range().Intersect(rng)
		if !r.Flags.Has(region.FlagShared) && r.Prot&region.ProtWrite != 0 {
			if err := as.rmap.Prepare(g, r); err == nil {
				as.rmap.Link(g, r)
			}
		}
		ptg := g.LockPageTable(&as.ptl)
		n, err := as.pt.MapPages(ptg, part)
		ptg.Unlock()
		as.resident.Add(n)
		if err != nil {
			as.logger.DebugContext(ctx, "populate stopped", "range", part, "error", err)
			break
		}
		if p, ok := r.Object().(populator); ok {
			fetches = append(fetches, prefetch{p: p, off: r.Offset() + uint64(part.Start-r.Start), length: part.Length()})
		}
	}
	g.Unlock()

	for _, f := range fetches {
		if err := f.p.Populate(ctx, f.off, f.length); err != nil {
			as.logger.DebugContext(ctx, "prefetch failed", "offset", f.off, "error", err)
		}
	}
}
