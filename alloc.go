package vmspace

import (
	"fmt"

	"github.com/hupe1980/vmspace/region"
)

// placement is where a new mapping goes. If the start came from a scan,
// hint is the free hint to store once the mapping has been committed.
type placement struct {
	start   region.Addr
	hint    region.Addr
	scanned bool
}

// placeRange chooses the start of a mapping of length bytes. Fixed
// requests are validated and returned as given, overlap included. A hint is
// honoured if its gap is free. Otherwise the free ranges are scanned
// upwards from the cached hint, and once more from the layout base.
func (as *AddressSpace) placeRange(addr region.Addr, length uint64, fixed bool) (placement, error) {
	if length > uint64(as.layout.Ceiling-as.layout.Min) {
		return placement{}, fmt.Errorf("%w: %d bytes exceed the address space", ErrOutOfMemory, length)
	}

	if fixed {
		if !addr.IsPageAligned() {
			return placement{}, invalidf("fixed address %v is not page aligned", addr)
		}
		rng, ok := addr.ToRange(length)
		if !ok || !as.layout.contains(rng) {
			return placement{}, invalidf("fixed range at %v outside the layout", addr)
		}
		if z, hit := as.layout.reservedOverlap(rng); hit {
			return placement{}, invalidf("fixed range %v crosses reserved zone %v", rng, z)
		}
		return placement{start: addr}, nil
	}

	if addr != 0 {
		if start, ok := addr.RoundUp(); ok && as.gapFree(start, length) {
			return placement{start: start}, nil
		}
	}

	from := max(as.freeHint, as.layout.Base)
	if start, ok := as.scan(from, length); ok {
		return placement{start: start, hint: start + region.Addr(length), scanned: true}, nil
	}
	if from != as.layout.Base {
		if start, ok := as.scan(as.layout.Base, length); ok {
			return placement{start: start, hint: start + region.Addr(length), scanned: true}, nil
		}
	}
	return placement{}, fmt.Errorf("%w: no free range of %d bytes", ErrOutOfMemory, length)
}

// gapFree reports whether [start, start+length) is inside the layout,
// outside every reserved zone and unmapped.
func (as *AddressSpace) gapFree(start region.Addr, length uint64) bool {
	rng, ok := start.ToRange(length)
	if !ok || !as.layout.contains(rng) {
		return false
	}
	if _, hit := as.layout.reservedOverlap(rng); hit {
		return false
	}
	return as.idx.FindIntersection(rng).IsNil()
}

// scan walks the threaded list from the first region ending above from
// and returns the lowest fitting gap.
func (as *AddressSpace) scan(from region.Addr, length uint64) (region.Addr, bool) {
	addr := max(from, as.layout.Min)
	h := as.idx.Find(addr)
	for {
		end, ok := addr.AddLength(length)
		if !ok || end > as.layout.Ceiling {
			return 0, false
		}
		if z, hit := as.layout.reservedOverlap(region.Range{Start: addr, End: end}); hit {
			if addr, ok = z.End.RoundUp(); !ok {
				return 0, false
			}
			h = as.idx.Find(addr)
			continue
		}
		if h.IsNil() {
			return addr, true
		}
		r := as.idx.Get(h)
		if end <= r.Start {
			return addr, true
		}
		if r.End > addr {
			addr = r.End
		}
		h = as.idx.Next(h)
	}
}

// retractHint moves the free hint down to the lowest removed region above
// the layout base.
func (as *AddressSpace) retractHint(starts []region.Addr) {
	for _, s := range starts {
		if s >= as.layout.Base && s < as.freeHint {
			as.freeHint = s
		}
	}
}
