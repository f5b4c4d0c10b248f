// Package rmap tracks which regions may hold anonymous pages of the same
// origin. Each private region that has been prepared for anonymous pages
// belongs to one Group; splitting a region puts both halves in the group,
// and merging requires the groups to agree.
package rmap

import (
	"errors"
	"sync"

	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

// ErrTooManyGroups is returned by Prepare when the group limit is reached.
var ErrTooManyGroups = errors.New("rmap: group limit reached")

// Group is a reverse-mapping group.
type Group struct {
	id      uint64
	mu      sync.Mutex
	members map[region.ID]struct{}
}

// GroupID implements region.AnonGroup.
func (g *Group) GroupID() uint64 {
	return g.id
}

// Len returns the number of member regions.
func (g *Group) Len() int {
	return len(g.members)
}

// Map owns the reverse-mapping groups of one address space.
type Map struct {
	// MaxGroups caps the number of live groups; zero means no cap.
	MaxGroups int

	next   uint64
	groups map[uint64]*Group
}

// New returns an empty Map.
func New() *Map {
	return &Map{groups: make(map[uint64]*Group)}
}

func asGroup(a region.AnonGroup) *Group {
	if a == nil {
		return nil
	}
	return a.(*Group)
}

// Prepare gives r a group if it has none. The group is not populated until
// Link; an empty group is reclaimed by Release.
func (m *Map) Prepare(g *lockorder.Map, r *region.Region) error {
	g.AssertWritable()
	if r.Anon != nil {
		return nil
	}
	if m.MaxGroups != 0 && len(m.groups) >= m.MaxGroups {
		return ErrTooManyGroups
	}
	m.next++
	grp := &Group{id: m.next, members: make(map[region.ID]struct{})}
	m.groups[grp.id] = grp
	r.Anon = grp
	return nil
}

// Link records r as a member of its group. Regions without a group are
// ignored.
func (m *Map) Link(g lockorder.AnonLocker, r *region.Region) {
	grp := asGroup(r.Anon)
	if grp == nil {
		return
	}
	a := g.LockAnon(&grp.mu)
	grp.members[r.ID] = struct{}{}
	a.Unlock()
}

// Unlink removes r from its group and drops the group once it is empty.
func (m *Map) Unlink(g lockorder.AnonLocker, r *region.Region) {
	grp := asGroup(r.Anon)
	if grp == nil {
		return
	}
	a := g.LockAnon(&grp.mu)
	delete(grp.members, r.ID)
	empty := len(grp.members) == 0
	a.Unlock()
	if empty {
		delete(m.groups, grp.id)
	}
}

// Release drops r's group if r never joined it.
func (m *Map) Release(r *region.Region) {
	grp := asGroup(r.Anon)
	if grp == nil {
		return
	}
	if len(grp.members) == 0 {
		delete(m.groups, grp.id)
		r.Anon = nil
	}
}

// Compatible reports whether regions with groups a and b may merge.
func Compatible(a, b region.AnonGroup) bool {
	return a == nil || b == nil || a == b
}

// Compatible is the method form of the package-level Compatible.
func (m *Map) Compatible(a, b region.AnonGroup) bool {
	return Compatible(a, b)
}

// Merge transfers src's membership to dst when dst absorbs src. If dst has
// no group it adopts src's.
func (m *Map) Merge(g lockorder.AnonLocker, dst, src *region.Region) {
	if dst.Anon == nil && src.Anon != nil {
		dst.Anon = src.Anon
		m.Link(g, dst)
	}
	m.Unlink(g, src)
}

// Groups returns the number of live groups.
func (m *Map) Groups() int {
	return len(m.groups)
}
