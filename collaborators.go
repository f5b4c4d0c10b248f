package vmspace

import (
	"context"

	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

// PageTable records present pages. Every method runs under the page-table
// lock, which the space takes through its structural guard.
type PageTable interface {
	// MapPages marks rng present and returns how many pages became present.
	MapPages(g *lockorder.PageTable, rng region.Range) (uint64, error)
	// UnmapPages clears rng and returns how many pages were present.
	UnmapPages(g *lockorder.PageTable, rng region.Range) uint64
	// FreeEmpty releases empty top-level directories that lie entirely in
	// [floor, ceiling). A zero ceiling means the top of the address space.
	FreeEmpty(g *lockorder.PageTable, floor, ceiling region.Addr) int
}

// ReverseMap tracks which regions share anonymous pages.
type ReverseMap interface {
	Prepare(g *lockorder.Map, r *region.Region) error
	Link(g lockorder.AnonLocker, r *region.Region)
	Unlink(g lockorder.AnonLocker, r *region.Region)
	Merge(g lockorder.AnonLocker, dst, src *region.Region)
	Release(r *region.Region)
	Compatible(a, b region.AnonGroup) bool
}

// PolicyManager compares, copies and releases memory policies. Every region
// owns its policy; splits and merges go through Copy and Release.
type PolicyManager interface {
	Equal(a, b region.Policy) bool
	Copy(p region.Policy) (region.Policy, error)
	Release(p region.Policy)
}

// Admission charges commit for accountable mappings.
type Admission interface {
	Reserve(pages uint64) error
	Release(pages uint64)
}

// MemoryBudget is charged for index-node memory.
type MemoryBudget interface {
	AcquireMemory(bytes int64) error
	ReleaseMemory(bytes int64)
}

// SecurityHook may refuse a mapping request before anything is changed.
type SecurityHook func(ctx context.Context, req MapRequest) error

// populateLimiter is implemented by admission controllers that throttle
// eager population.
type populateLimiter interface {
	AcquirePopulate(ctx context.Context, pages uint64) error
}

// populator is implemented by backing objects that can prefetch content.
type populator interface {
	Populate(ctx context.Context, off, length uint64) error
}

// membership is implemented by backing objects that can say which of their
// collections hold a region, used by Validate.
type membership interface {
	CollectionsOf(r *region.Region) []region.Collection
}

// groupCounter is implemented by reverse maps that report live groups.
type groupCounter interface {
	Groups() int
}

type admitAll struct{}

func (admitAll) Reserve(uint64) error { return nil }
func (admitAll) Release(uint64)       {}
