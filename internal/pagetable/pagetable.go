// Package pagetable records which pages of an address space are present.
//
// The table is sparse and two-level: a top-level directory covers
// DirectorySize bytes of address space and holds a roaring bitmap of the
// present page numbers inside it. Directories are created on first use and
// released by FreeEmpty once nothing maps through them.
package pagetable

import (
	"errors"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

const (
	// DirectoryShift is log2(DirectorySize).
	DirectoryShift = 30
	// DirectorySize is the span of address space covered by one directory.
	DirectorySize = 1 << DirectoryShift

	pagesPerDirShift = DirectoryShift - region.PageShift
	pageInDirMask    = 1<<pagesPerDirShift - 1
)

// Table is a sparse page table. All methods require the page-table guard.
type Table struct {
	dirs map[uint64]*roaring.Bitmap
	// MaxPages caps the number of present pages; zero means no cap.
	MaxPages uint64
	present  uint64
}

// ErrFull is returned by MapPages when MaxPages would be exceeded.
var ErrFull = errors.New("pagetable: page limit reached")

// New returns an empty table.
func New() *Table {
	return &Table{dirs: make(map[uint64]*roaring.Bitmap)}
}

func dirOf(a region.Addr) uint64 {
	return uint64(a) >> DirectoryShift
}

func slotOf(a region.Addr) uint32 {
	return uint32(a.PageNumber() & pageInDirMask)
}

// split calls fn for every directory-sized piece of rng.
func split(rng region.Range, fn func(dir uint64, lo, hi uint32)) {
	for a := rng.Start; a < rng.End; {
		dir := dirOf(a)
		next := region.Addr((dir + 1) << DirectoryShift)
		end := rng.End
		if next < end && next != 0 {
			end = next
		}
		hi := uint64(slotOf(end-1)) + 1
		fn(dir, slotOf(a), uint32(hi))
		a = end
	}
}

func countRange(bm *roaring.Bitmap, lo, hi uint32) uint64 {
	n := bm.Rank(hi - 1)
	if lo > 0 {
		n -= bm.Rank(lo - 1)
	}
	return n
}

// MapPages marks every page in rng present and returns how many were newly
// set.
func (t *Table) MapPages(g *lockorder.PageTable, rng region.Range) (uint64, error) {
	if g == nil {
		panic("pagetable: page-table lock not held")
	}
	if t.MaxPages != 0 {
		var missing uint64
		split(rng, func(dir uint64, lo, hi uint32) {
			n := uint64(hi - lo)
			if bm, ok := t.dirs[dir]; ok {
				n -= countRange(bm, lo, hi)
			}
			missing += n
		})
		if t.present+missing > t.MaxPages {
			return 0, ErrFull
		}
	}

	var added uint64
	split(rng, func(dir uint64, lo, hi uint32) {
		bm, ok := t.dirs[dir]
		if !ok {
			bm = roaring.New()
			t.dirs[dir] = bm
		}
		before := bm.GetCardinality()
		bm.AddRange(uint64(lo), uint64(hi))
		added += bm.GetCardinality() - before
	})
	t.present += added
	return added, nil
}

// UnmapPages clears every page in rng and returns how many were present.
// Directories are kept even when they become empty; see FreeEmpty.
func (t *Table) UnmapPages(g *lockorder.PageTable, rng region.Range) uint64 {
	if g == nil {
		panic("pagetable: page-table lock not held")
	}
	var removed uint64
	split(rng, func(dir uint64, lo, hi uint32) {
		bm, ok := t.dirs[dir]
		if !ok {
			return
		}
		before := bm.GetCardinality()
		bm.RemoveRange(uint64(lo), uint64(hi))
		removed += before - bm.GetCardinality()
	})
	t.present -= removed
	return removed
}

// FreeEmpty releases empty directories whose span lies entirely within
// [floor, ceiling). A zero ceiling means the top of the address space.
// Directories shared with a surviving neighbour are never freed because
// they straddle floor or ceiling.
func (t *Table) FreeEmpty(g *lockorder.PageTable, floor, ceiling region.Addr) int {
	if g == nil {
		panic("pagetable: page-table lock not held")
	}
	lo := (uint64(floor) + DirectorySize - 1) >> DirectoryShift
	freed := 0
	for dir, bm := range t.dirs {
		if dir < lo {
			continue
		}
		if ceiling != 0 && (dir+1)<<DirectoryShift > uint64(ceiling) {
			continue
		}
		if bm.IsEmpty() {
			delete(t.dirs, dir)
			freed++
		}
	}
	return freed
}

// Present reports whether the page containing a is present.
func (t *Table) Present(g *lockorder.PageTable, a region.Addr) bool {
	bm, ok := t.dirs[dirOf(a)]
	return ok && bm.Contains(slotOf(a))
}

// Resident returns the number of present pages.
func (t *Table) Resident() uint64 {
	return t.present
}

// Directories returns the base addresses of the allocated directories in
// ascending order.
func (t *Table) Directories(g *lockorder.PageTable) []region.Addr {
	out := make([]region.Addr, 0, len(t.dirs))
	for dir := range t.dirs {
		out = append(out, region.Addr(dir<<DirectoryShift))
	}
	slices.Sort(out)
	return out
}
