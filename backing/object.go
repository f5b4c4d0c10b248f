package backing

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

var (
	// ErrAccessDenied is returned when the object was opened without the
	// access a mapping needs.
	ErrAccessDenied = errors.New("backing: access denied")
	// ErrAppendOnly is returned for shared writable mappings of an
	// append-only object.
	ErrAppendOnly = errors.New("backing: object is append-only")
)

// AttachFunc is called once for every new region of an object before it is
// linked. It may return a different start address.
type AttachFunc func(r *region.Region) (region.Addr, error)

// object implements the collection and reference bookkeeping shared by File
// and Shmem.
type object struct {
	name   string
	attach AttachFunc

	mu    sync.Mutex
	colls [region.NumCollections]map[*region.Region]struct{}

	refs    atomic.Int64
	writers atomic.Int64
}

func (o *object) init(name string) {
	o.name = name
	for i := range o.colls {
		o.colls[i] = make(map[*region.Region]struct{})
	}
}

// Name returns the object name.
func (o *object) Name() string {
	return o.name
}

// Attach takes a reference for a region under construction.
func (o *object) Attach(r *region.Region) (region.Addr, error) {
	start := r.Start
	if o.attach != nil {
		var err error
		if start, err = o.attach(r); err != nil {
			return 0, err
		}
	}
	o.open(r)
	return start, nil
}

// Detach drops the reference taken by Attach.
func (o *object) Detach(r *region.Region) {
	o.close(r)
}

// Open takes a reference for a region created by a split or restore.
func (o *object) Open(r *region.Region) {
	o.open(r)
}

// Close drops a region's reference.
func (o *object) Close(r *region.Region) {
	o.close(r)
}

func (o *object) open(r *region.Region) {
	o.refs.Add(1)
	if r.Flags.Has(region.FlagShared) && r.Prot&region.ProtWrite != 0 {
		o.writers.Add(1)
	}
}

func (o *object) close(r *region.Region) {
	if o.refs.Add(-1) < 0 {
		panic("backing: reference count underflow on " + o.name)
	}
	if r.Flags.Has(region.FlagShared) && r.Prot&region.ProtWrite != 0 {
		o.writers.Add(-1)
	}
}

// LockMappings takes the shared-mapping lock.
func (o *object) LockMappings(g *lockorder.Map) *lockorder.Mapping {
	return g.LockMapping(&o.mu)
}

// Link registers r in its collection.
func (o *object) Link(_ *lockorder.Mapping, r *region.Region) {
	o.colls[r.Collection()][r] = struct{}{}
}

// Unlink removes r from its collection.
func (o *object) Unlink(_ *lockorder.Mapping, r *region.Region) bool {
	c := o.colls[r.Collection()]
	if _, ok := c[r]; !ok {
		return false
	}
	delete(c, r)
	return true
}

// Refs returns the number of regions referencing the object.
func (o *object) Refs() int64 {
	return o.refs.Load()
}

// Writers returns the number of shared writable regions.
func (o *object) Writers() int64 {
	return o.writers.Load()
}

// Mapped returns the ranges registered in collection c in address order.
func (o *object) Mapped(c region.Collection) []region.Range {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]region.Range, 0, len(o.colls[c]))
	for r := range o.colls[c] {
		out = append(out, r.Range())
	}
	slices.SortFunc(out, func(a, b region.Range) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
	return out
}

// CollectionsOf returns every collection that holds r.
func (o *object) CollectionsOf(r *region.Region) []region.Collection {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []region.Collection
	for c, m := range o.colls {
		if _, ok := m[r]; ok {
			out = append(out, region.Collection(c)) //nolint:gosec // c < NumCollections
		}
	}
	return out
}
