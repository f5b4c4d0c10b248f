package vmspace

import (
	"math"

	"github.com/hupe1980/vmspace/region"
)

// Unlimited disables a byte limit.
const Unlimited = math.MaxUint64

// DefaultMaxRegions matches the usual per-process map count limit.
const DefaultMaxRegions = 65530

// Limits bounds one address space. Byte limits are rounded down to pages.
type Limits struct {
	MaxRegions   int
	AddressSpace uint64
	Locked       uint64
	Data         uint64
	Stack        uint64
}

// DefaultLimits returns DefaultMaxRegions and no byte limits.
func DefaultLimits() Limits {
	return Limits{
		MaxRegions:   DefaultMaxRegions,
		AddressSpace: Unlimited,
		Locked:       Unlimited,
		Data:         Unlimited,
		Stack:        Unlimited,
	}
}

func limitPages(bytes uint64) uint64 {
	if bytes == Unlimited {
		return math.MaxUint64
	}
	return bytes >> region.PageShift
}

// Layout describes where mappings may go.
type Layout struct {
	// Min is the lowest address any mapping may use.
	Min region.Addr
	// Base is where the allocator scan restarts.
	Base region.Addr
	// Ceiling is one past the highest usable address.
	Ceiling region.Addr
	// Reserved ranges are never handed out and refuse fixed requests.
	Reserved []region.Range
}

// DefaultLayout is a 47-bit user space with the scan base at 1 GiB.
func DefaultLayout() Layout {
	return Layout{
		Min:     0x10000,
		Base:    0x40000000,
		Ceiling: 1 << 47,
	}
}

func (l Layout) reservedOverlap(rng region.Range) (region.Range, bool) {
	for _, z := range l.Reserved {
		if z.Overlaps(rng) {
			return z, true
		}
	}
	return region.Range{}, false
}

func (l Layout) contains(rng region.Range) bool {
	return rng.Start >= l.Min && rng.End <= l.Ceiling && rng.Start < rng.End
}
