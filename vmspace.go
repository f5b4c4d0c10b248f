package vmspace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vmspace/internal/arena"
	"github.com/hupe1980/vmspace/internal/index"
	"github.com/hupe1980/vmspace/internal/pagetable"
	"github.com/hupe1980/vmspace/internal/rmap"
	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/policy"
	"github.com/hupe1980/vmspace/region"
)

// AddressSpace is the set of regions of one process.
//
// All methods are safe for concurrent use. Structural changes are
// serialized; lookups run concurrently with each other.
type AddressSpace struct {
	mu  sync.RWMutex // structural lock
	ptl sync.Mutex   // page-table lock, nests inside mu

	idx      *index.Index
	acct     accounting
	resident atomic.Uint64 // fed by populate and teardown

	freeHint region.Addr
	startBrk region.Addr
	brk      region.Addr
	defFlags region.Flags
	limits   Limits
	layout   Layout
	closed   bool

	pt        PageTable
	rmap      ReverseMap
	policies  PolicyManager
	admission Admission
	security  SecurityHook

	logger  *Logger
	metrics MetricsCollector
}

// New returns an empty address space.
func New(optFns ...Option) *AddressSpace {
	o := applyOptions(optFns)

	var arenaOpts []arena.Option
	if o.maxNodes > 0 {
		arenaOpts = append(arenaOpts, arena.WithMaxSlots(o.maxNodes))
	}
	if o.nodeBudget != nil {
		arenaOpts = append(arenaOpts, arena.WithMemoryAcquirer(o.nodeBudget))
	}

	as := &AddressSpace{
		idx:       index.New(arenaOpts...),
		freeHint:  o.layout.Base,
		defFlags:  o.defaultFlags,
		limits:    o.limits,
		layout:    o.layout,
		pt:        o.pageTable,
		rmap:      o.reverseMap,
		policies:  o.policies,
		admission: o.admission,
		security:  o.security,
		logger:    o.logger,
		metrics:   o.metricsCollector,
	}
	if as.pt == nil {
		as.pt = pagetable.New()
	}
	if as.rmap == nil {
		as.rmap = rmap.New()
	}
	if as.policies == nil {
		as.policies = policy.NewManager()
	}
	if o.dataStart != 0 {
		start, _ := o.dataStart.RoundUp()
		as.startBrk, as.brk = start, start
	}
	return as
}

// Lookup returns the region containing addr.
func (as *AddressSpace) Lookup(addr region.Addr) (region.View, bool) {
	g := lockorder.RLockMap(&as.mu)
	defer g.Unlock()

	h := as.idx.Lookup(addr)
	if h.IsNil() {
		return region.View{}, false
	}
	return as.idx.Get(h).View(), true
}

// LookupRange returns the lowest region intersecting [addr, addr+length).
func (as *AddressSpace) LookupRange(addr region.Addr, length uint64) (region.View, bool) {
	rng, ok := addr.ToRange(length)
	if !ok || length == 0 {
		return region.View{}, false
	}

	g := lockorder.RLockMap(&as.mu)
	defer g.Unlock()

	h := as.idx.FindIntersection(rng)
	if h.IsNil() {
		return region.View{}, false
	}
	return as.idx.Get(h).View(), true
}

// Regions returns every region in address order.
func (as *AddressSpace) Regions() []region.View {
	g := lockorder.RLockMap(&as.mu)
	defer g.Unlock()

	out := make([]region.View, 0, as.idx.Len())
	for _, r := range as.idx.All() {
		out = append(out, r.View())
	}
	return out
}

// Brk returns the current end of the data segment, or zero if the space has
// no data segment.
func (as *AddressSpace) Brk() region.Addr {
	g := lockorder.RLockMap(&as.mu)
	defer g.Unlock()
	return as.brk
}

// Stats returns a snapshot of the space's counters.
func (as *AddressSpace) Stats() Stats {
	g := lockorder.RLockMap(&as.mu)
	defer g.Unlock()

	ix := as.idx.Stats()
	st := Stats{
		Regions:        as.idx.Len(),
		TotalPages:     as.acct.total,
		LockedPages:    as.acct.locked,
		SharedPages:    as.acct.shared,
		ExecPages:      as.acct.exec,
		StackPages:     as.acct.stack,
		DataPages:      as.acct.data,
		CommittedPages: as.acct.committed,
		ResidentPages:  as.resident.Load(),
		FreeHint:       as.freeHint,
		Brk:            as.brk,
		CacheHits:      ix.CacheHits,
		CacheMisses:    ix.CacheMisses,
		NodeChunks:     as.idx.ArenaStats().Chunks,
	}
	if gc, ok := as.rmap.(groupCounter); ok {
		st.AnonGroups = gc.Groups()
	}
	return st
}

// Validate checks the structural invariants: index order and shape, page
// alignment, membership of every file-backed region in exactly one of its
// object's collections, and the counters against a recount.
func (as *AddressSpace) Validate() error {
	g := lockorder.RLockMap(&as.mu)
	defer g.Unlock()

	if err := as.idx.Validate(); err != nil {
		return err
	}
	for _, r := range as.idx.All() {
		if !r.Range().IsPageAligned() || r.Start >= r.End {
			return fmt.Errorf("vmspace: malformed region %v", r.Range())
		}
		obj := r.Object()
		if obj == nil {
			continue
		}
		mb, ok := obj.(membership)
		if !ok {
			continue
		}
		switch cs := mb.CollectionsOf(r); {
		case len(cs) == 0:
			return fmt.Errorf("vmspace: region %v missing from %s %s collection", r.Range(), obj.Name(), r.Collection())
		case len(cs) > 1 || cs[0] != r.Collection():
			return fmt.Errorf("vmspace: region %v of %s in collections %v, want only %s", r.Range(), obj.Name(), cs, r.Collection())
		}
	}

	want := as.recount()
	if as.acct != want {
		return fmt.Errorf("vmspace: accounting drift: have %+v, recount %+v", as.acct, want)
	}
	return nil
}

// Close tears down every region. Further calls return ErrClosed; Close
// itself is idempotent.
func (as *AddressSpace) Close(ctx context.Context) error {
	g := lockorder.LockMap(&as.mu)
	if as.closed {
		g.Unlock()
		return nil
	}

	regions := as.idx.Len()
	pages := as.acct.total
	hs := as.idx.DetachAll()
	as.unlinkAll(g, hs)
	as.releaseRegions(g, hs, 0, 0)
	as.idx.Reset()
	as.closed = true
	g.Unlock()

	as.logger.LogTeardown(ctx, regions, pages)
	return nil
}
