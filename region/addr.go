package region

import "fmt"

const (
	// PageShift is log2(PageSize).
	PageShift = 12
	// PageSize is the granularity of every Region boundary.
	PageSize = 1 << PageShift
	// PageMask masks the offset within a page.
	PageMask = PageSize - 1
)

// Addr is a virtual address.
type Addr uint64

// RoundDown returns a rounded down to the nearest page boundary.
func (a Addr) RoundDown() Addr {
	return a &^ PageMask
}

// RoundUp returns a rounded up to the nearest page boundary. ok is false if
// rounding overflows.
func (a Addr) RoundUp() (Addr, bool) {
	r := (a + PageMask).RoundDown()
	return r, r >= a
}

// IsPageAligned reports whether a is on a page boundary.
func (a Addr) IsPageAligned() bool {
	return a&PageMask == 0
}

// AddLength returns a+length. ok is false if the sum overflows.
func (a Addr) AddLength(length uint64) (Addr, bool) {
	end := a + Addr(length)
	return end, end >= a
}

// ToRange returns [a, a+length). ok is false if the end overflows.
func (a Addr) ToRange(length uint64) (Range, bool) {
	end, ok := a.AddLength(length)
	return Range{Start: a, End: end}, ok
}

// PageNumber returns the index of the page containing a.
func (a Addr) PageNumber() uint64 {
	return uint64(a) >> PageShift
}

func (a Addr) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Range is the half-open address range [Start, End).
type Range struct {
	Start Addr
	End   Addr
}

// WellFormed reports whether Start <= End.
func (r Range) WellFormed() bool {
	return r.Start <= r.End
}

// Length returns the size of r in bytes.
func (r Range) Length() uint64 {
	return uint64(r.End - r.Start)
}

// Pages returns the number of pages r spans. r must be page-aligned.
func (r Range) Pages() uint64 {
	return r.Length() >> PageShift
}

// IsPageAligned reports whether both boundaries are page-aligned.
func (r Range) IsPageAligned() bool {
	return r.Start.IsPageAligned() && r.End.IsPageAligned()
}

// Contains reports whether a lies in r.
func (r Range) Contains(a Addr) bool {
	return r.Start <= a && a < r.End
}

// Overlaps reports whether r and o share at least one address.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// IsSupersetOf reports whether o lies entirely inside r.
func (r Range) IsSupersetOf(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

// Intersect returns the overlap of r and o, or an empty range.
func (r Range) Intersect(o Range) Range {
	if r.Start < o.Start {
		r.Start = o.Start
	}
	if r.End > o.End {
		r.End = o.End
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}
