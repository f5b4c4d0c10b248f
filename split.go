package vmspace

import (
	"github.com/hupe1980/vmspace/internal/index"
	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

// splitPrep holds what a split needs allocated before anything is changed:
// the node for the new half and its copy of the policy.
type splitPrep struct {
	node   index.Handle
	policy region.Policy
}

// prepareSplit reserves a split of r. It fails with nothing linked.
func (as *AddressSpace) prepareSplit(r *region.Region) (splitPrep, error) {
	h, _, err := as.idx.Alloc()
	if err != nil {
		return splitPrep{}, translateError(err)
	}
	pol, err := as.policies.Copy(r.Policy)
	if err != nil {
		as.idx.Discard(h)
		return splitPrep{}, translateError(err)
	}
	return splitPrep{node: h, policy: pol}, nil
}

func (as *AddressSpace) abortSplit(p splitPrep) {
	as.policies.Release(p.policy)
	as.idx.Discard(p.node)
}

// lockMappings takes the shared-mapping lock of obj if there is one and
// returns the guard to use for reverse-map edits.
func lockMappings(g *lockorder.Map, obj region.Mappable) (*lockorder.Mapping, lockorder.AnonLocker) {
	if obj == nil {
		return nil, g
	}
	m := obj.LockMappings(g)
	return m, m
}

// commitSplit cuts the region h at addr using the reservation p. If below
// is set the new region takes [start, addr), otherwise [addr, end). It
// returns the new region's handle and cannot fail.
func (as *AddressSpace) commitSplit(g *lockorder.Map, p splitPrep, h index.Handle, addr region.Addr, below bool) index.Handle {
	r := as.idx.Get(h)
	n := as.idx.Get(p.node)
	if !r.Range().Contains(addr) || addr == r.Start {
		panic("vmspace: split address " + addr.String() + " outside " + r.Range().String())
	}

	id := n.ID
	*n = *r
	n.ID = id
	n.Policy = p.policy

	obj := r.Object()
	m, locker := lockMappings(g, obj)
	delta := uint64(addr - r.Start)
	if below {
		n.End = addr
		r.Start = addr
		r.Backing = region.Shift(r.Backing, delta)
	} else {
		n.Start = addr
		n.Backing = region.Shift(n.Backing, delta)
		r.End = addr
	}
	as.idx.InvalidateCache()
	as.idx.Link(p.node, as.idx.FindInsertionPoint(n.Start))

	if obj != nil {
		obj.Open(n)
		obj.Link(m, n)
	}
	as.rmap.Link(locker, n)
	if m != nil {
		m.Unlock()
	}

	as.metrics.RecordSplit()
	return p.node
}
