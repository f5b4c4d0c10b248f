package vmspace

import (
	"github.com/hupe1980/vmspace/region"
)

// accounting holds the per-space page counters. They change only under the
// structural lock in write mode.
type accounting struct {
	total     uint64
	locked    uint64
	shared    uint64
	exec      uint64
	stack     uint64
	data      uint64
	committed uint64
}

// Stats is a snapshot of an address space.
type Stats struct {
	Regions        int
	TotalPages     uint64
	LockedPages    uint64
	SharedPages    uint64
	ExecPages      uint64
	StackPages     uint64
	DataPages      uint64
	CommittedPages uint64
	ResidentPages  uint64
	AnonGroups     int
	FreeHint       region.Addr
	Brk            region.Addr
	CacheHits      uint64
	CacheMisses    uint64
	// NodeChunks is the number of index-node chunks held, each charged to
	// the node budget.
	NodeChunks uint64
}

func isExec(r *region.Region) bool {
	return r.Prot&region.ProtExec != 0 && r.Prot&region.ProtWrite == 0
}

func isData(r *region.Region) bool {
	return !r.Flags.Has(region.FlagShared) && !r.Flags.Has(region.FlagGrowsDown) &&
		r.Prot&region.ProtWrite != 0 && !r.Flags.Has(region.FlagSpecial)
}

// add counts pages of r. It is used for new regions and for growth, where r
// carries the attributes and pages the size of the extension.
func (a *accounting) add(r *region.Region, pages uint64) {
	a.total += pages
	if r.Flags.Has(region.FlagLocked) {
		a.locked += pages
	}
	if r.Flags.Has(region.FlagShared) {
		a.shared += pages
	}
	if isExec(r) {
		a.exec += pages
	}
	if r.Flags.Has(region.FlagGrowsDown) {
		a.stack += pages
	}
	if isData(r) {
		a.data += pages
	}
}

func (a *accounting) sub(r *region.Region, pages uint64) {
	a.total -= pages
	if r.Flags.Has(region.FlagLocked) {
		a.locked -= pages
	}
	if r.Flags.Has(region.FlagShared) {
		a.shared -= pages
	}
	if isExec(r) {
		a.exec -= pages
	}
	if r.Flags.Has(region.FlagGrowsDown) {
		a.stack -= pages
	}
	if isData(r) {
		a.data -= pages
	}
}

// accountable reports whether a mapping with these attributes is charged
// against commit.
func accountable(prot region.Prot, flags region.Flags, kind region.Kind, noReserve bool) bool {
	if noReserve || flags.Has(region.FlagSpecial) {
		return false
	}
	if flags.Has(region.FlagShared) {
		return kind == region.KindAnonShared || prot&region.ProtWrite != 0
	}
	return prot&region.ProtWrite != 0
}

// charge reserves pages with the admission controller.
func (as *AddressSpace) charge(pages uint64) error {
	if err := as.admission.Reserve(pages); err != nil {
		return translateError(err)
	}
	as.acct.committed += pages
	return nil
}

func (as *AddressSpace) uncharge(pages uint64) {
	as.admission.Release(pages)
	as.acct.committed -= pages
}

// checkGrowth verifies the address-space and locked limits for adding pages
// while removing the given counts.
func (as *AddressSpace) checkGrowth(add, remove, addLocked, removeLocked uint64) error {
	if next := as.acct.total - remove + add; next > limitPages(as.limits.AddressSpace) {
		return limitError(LimitAddressSpace, next<<region.PageShift, as.limits.AddressSpace)
	}
	if addLocked > 0 {
		if next := as.acct.locked - removeLocked + addLocked; next > limitPages(as.limits.Locked) {
			return limitError(LimitLocked, next<<region.PageShift, as.limits.Locked)
		}
	}
	return nil
}

func (as *AddressSpace) checkRegions(next int) error {
	if next > as.limits.MaxRegions {
		return limitError(LimitRegions, uint64(next), uint64(as.limits.MaxRegions)) //nolint:gosec // non-negative counts
	}
	return nil
}

// recount rebuilds the counters from the regions; Validate compares it with
// the running totals.
func (as *AddressSpace) recount() accounting {
	var a accounting
	for _, r := range as.idx.All() {
		a.add(r, r.Pages())
		if r.Flags.Has(region.FlagAccounted) {
			a.committed += r.Pages()
		}
	}
	return a
}
