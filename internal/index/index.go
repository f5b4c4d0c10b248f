package index

import (
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/hupe1980/vmspace/internal/arena"
	"github.com/hupe1980/vmspace/region"
)

// Handle names a region slot.
type Handle = arena.Handle

// Nil is the zero Handle.
var Nil = arena.Nil

// ErrOverlap is returned by Insert when the region intersects a linked one.
var ErrOverlap = errors.New("index: region overlaps an existing region")

// bulkThreshold is the fraction of the index (1/bulkThreshold) above which
// DetachRange rebuilds the tree instead of erasing node by node.
const bulkThreshold = 4

type node struct {
	region region.Region

	left, right, parent Handle
	prev, next          Handle
	height              int8
	linked              bool
}

// Point is the result of FindInsertionPoint: the neighbours of an address
// and the exact child slot a new node would occupy.
type Point struct {
	Prev   Handle
	Next   Handle
	parent Handle
	left   bool
}

// Stats reports cache effectiveness.
type Stats struct {
	CacheHits   uint64
	CacheMisses uint64
}

// Index is the ordered collection of regions of one address space.
type Index struct {
	arena *arena.Arena[node]

	root  Handle
	first Handle
	last  Handle
	count int

	cache  atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates an empty Index. opts configure the node arena.
func New(opts ...arena.Option) *Index {
	return &Index{arena: arena.New[node](opts...)}
}

func (ix *Index) n(h Handle) *node {
	return ix.arena.Get(h)
}

// Len returns the number of linked regions.
func (ix *Index) Len() int {
	return ix.count
}

// Alloc reserves an unlinked node and returns its region. The region's ID
// is preset; callers fill in the rest.
func (ix *Index) Alloc() (Handle, *region.Region, error) {
	h, nd, err := ix.arena.Alloc()
	if err != nil {
		return Nil, nil, err
	}
	nd.region.ID = region.ID(h.Pack())
	return h, &nd.region, nil
}

// Discard frees an unlinked node.
func (ix *Index) Discard(h Handle) {
	nd := ix.n(h)
	if nd == nil {
		return
	}
	if nd.linked {
		panic(fmt.Sprintf("index: discarding linked node %v", h))
	}
	ix.arena.Free(h)
}

// Get returns the region of h, or nil if h is stale.
func (ix *Index) Get(h Handle) *region.Region {
	nd := ix.n(h)
	if nd == nil {
		return nil
	}
	return &nd.region
}

// HandleOf returns the handle of the region with the given ID.
func HandleOf(id region.ID) Handle {
	return arena.Unpack(uint64(id))
}

// Linked reports whether h is currently part of the index.
func (ix *Index) Linked(h Handle) bool {
	nd := ix.n(h)
	return nd != nil && nd.linked
}

// Cap returns how many more nodes can be allocated.
func (ix *Index) Cap() int {
	return ix.arena.Cap()
}

// ArenaStats returns node arena statistics.
func (ix *Index) ArenaStats() arena.Stats {
	return ix.arena.Stats()
}

// Stats returns cache statistics.
func (ix *Index) Stats() Stats {
	return Stats{CacheHits: ix.hits.Load(), CacheMisses: ix.misses.Load()}
}

// First returns the lowest region.
func (ix *Index) First() Handle { return ix.first }

// Last returns the highest region.
func (ix *Index) Last() Handle { return ix.last }

// Next returns the region after h in address order.
func (ix *Index) Next(h Handle) Handle {
	if nd := ix.n(h); nd != nil {
		return nd.next
	}
	return Nil
}

// Prev returns the region before h in address order.
func (ix *Index) Prev(h Handle) Handle {
	if nd := ix.n(h); nd != nil {
		return nd.prev
	}
	return Nil
}

// All iterates over the linked regions in address order.
func (ix *Index) All() iter.Seq2[Handle, *region.Region] {
	return func(yield func(Handle, *region.Region) bool) {
		for h := ix.first; !h.IsNil(); {
			nd := ix.n(h)
			next := nd.next
			if !yield(h, &nd.region) {
				return
			}
			h = next
		}
	}
}

// Find returns the first region whose end lies above addr, or Nil.
func (ix *Index) Find(addr region.Addr) Handle {
	if c := arena.Unpack(ix.cache.Load()); !c.IsNil() {
		if nd := ix.n(c); nd != nil && nd.linked && nd.region.Start <= addr && addr < nd.region.End {
			ix.hits.Add(1)
			return c
		}
	}
	ix.misses.Add(1)

	found := Nil
	for h := ix.root; !h.IsNil(); {
		nd := ix.n(h)
		if nd.region.End > addr {
			found = h
			if nd.region.Start <= addr {
				break
			}
			h = nd.left
		} else {
			h = nd.right
		}
	}
	if !found.IsNil() {
		ix.cache.Store(found.Pack())
	}
	return found
}

// FindPrev returns the same region as Find together with its predecessor.
// If no region ends above addr, prev is the last region.
func (ix *Index) FindPrev(addr region.Addr) (h, prev Handle) {
	h = ix.Find(addr)
	if h.IsNil() {
		return Nil, ix.last
	}
	return h, ix.n(h).prev
}

// Lookup returns the region containing addr, or Nil.
func (ix *Index) Lookup(addr region.Addr) Handle {
	h := ix.Find(addr)
	if h.IsNil() || ix.n(h).region.Start > addr {
		return Nil
	}
	return h
}

// FindIntersection returns the lowest region overlapping r, or Nil.
func (ix *Index) FindIntersection(r region.Range) Handle {
	h := ix.Find(r.Start)
	if h.IsNil() || ix.n(h).region.Start >= r.End {
		return Nil
	}
	return h
}

// FindInsertionPoint locates where a region starting at addr belongs. One
// descent yields the predecessor, the successor and the child slot.
func (ix *Index) FindInsertionPoint(addr region.Addr) Point {
	var p Point
	for h := ix.root; !h.IsNil(); {
		nd := ix.n(h)
		p.parent = h
		if addr < nd.region.Start {
			p.left = true
			h = nd.left
		} else {
			p.left = false
			p.Prev = h
			h = nd.right
		}
	}
	if p.Prev.IsNil() {
		p.Next = ix.first
	} else {
		p.Next = ix.n(p.Prev).next
	}
	return p
}

// Insert links h after checking that its range is free.
func (ix *Index) Insert(h Handle) error {
	nd := ix.n(h)
	if nd == nil || nd.linked {
		return fmt.Errorf("index: cannot insert %v", h)
	}
	p := ix.FindInsertionPoint(nd.region.Start)
	if !p.Prev.IsNil() && ix.n(p.Prev).region.End > nd.region.Start {
		return ErrOverlap
	}
	if !p.Next.IsNil() && ix.n(p.Next).region.Start < nd.region.End {
		return ErrOverlap
	}
	ix.Link(h, p)
	return nil
}

// Link inserts h at p, which must come from FindInsertionPoint with no
// intervening mutation.
func (ix *Index) Link(h Handle, p Point) {
	nd := ix.n(h)
	if nd == nil || nd.linked {
		panic(fmt.Sprintf("index: linking invalid node %v", h))
	}

	nd.left, nd.right, nd.parent = Nil, Nil, p.parent
	nd.height = 1
	nd.linked = true
	if p.parent.IsNil() {
		ix.root = h
	} else if p.left {
		ix.n(p.parent).left = h
	} else {
		ix.n(p.parent).right = h
	}

	nd.prev = p.Prev
	nd.next = p.Next
	if p.Prev.IsNil() {
		ix.first = h
	} else {
		ix.n(p.Prev).next = h
	}
	if p.Next.IsNil() {
		ix.last = h
	} else {
		ix.n(p.Next).prev = h
	}
	ix.count++

	ix.retrace(p.parent)
}

// Unlink removes h from the tree and the list. The node stays allocated
// until Discard.
func (ix *Index) Unlink(h Handle) {
	nd := ix.n(h)
	if nd == nil || !nd.linked {
		panic(fmt.Sprintf("index: unlinking invalid node %v", h))
	}
	ix.invalidate(h)
	ix.erase(h)
	ix.spliceOut(h, h)
	ix.count--
	nd.linked = false
}

// DetachRange unlinks the consecutive run first..last (inclusive) in one
// pass and returns the detached handles in address order. The nodes stay
// allocated until Discard.
func (ix *Index) DetachRange(first, last Handle) []Handle {
	var run []Handle
	for h := first; ; h = ix.n(h).next {
		if h.IsNil() {
			panic("index: detach range is not a forward run")
		}
		run = append(run, h)
		if h == last {
			break
		}
	}

	ix.invalidate(Nil)
	if len(run)*bulkThreshold >= ix.count {
		ix.spliceOut(first, last)
		ix.count -= len(run)
		ix.rebuild()
	} else {
		for _, h := range run {
			ix.erase(h)
		}
		ix.spliceOut(first, last)
		ix.count -= len(run)
	}
	for _, h := range run {
		nd := ix.n(h)
		nd.linked = false
		nd.left, nd.right, nd.parent, nd.prev, nd.next = Nil, Nil, Nil, Nil, Nil
	}
	return run
}

// DetachAll unlinks every region and returns them in address order.
func (ix *Index) DetachAll() []Handle {
	if ix.count == 0 {
		return nil
	}
	return ix.DetachRange(ix.first, ix.last)
}

// InvalidateCache drops the lookup cache.
func (ix *Index) InvalidateCache() {
	ix.cache.Store(0)
}

func (ix *Index) invalidate(h Handle) {
	if h.IsNil() || ix.cache.Load() == h.Pack() {
		ix.cache.Store(0)
	}
}

// spliceOut removes the list segment first..last.
func (ix *Index) spliceOut(first, last Handle) {
	before := ix.n(first).prev
	after := ix.n(last).next
	if before.IsNil() {
		ix.first = after
	} else {
		ix.n(before).next = after
	}
	if after.IsNil() {
		ix.last = before
	} else {
		ix.n(after).prev = before
	}
}

func (ix *Index) height(h Handle) int8 {
	if h.IsNil() {
		return 0
	}
	return ix.n(h).height
}

func (ix *Index) update(h Handle) {
	nd := ix.n(h)
	l, r := ix.height(nd.left), ix.height(nd.right)
	if l > r {
		nd.height = l + 1
	} else {
		nd.height = r + 1
	}
}

func (ix *Index) balance(h Handle) int {
	nd := ix.n(h)
	return int(ix.height(nd.left)) - int(ix.height(nd.right))
}

// replaceChild points parent's link to old at repl instead.
func (ix *Index) replaceChild(parent, old, repl Handle) {
	switch {
	case parent.IsNil():
		ix.root = repl
	case ix.n(parent).left == old:
		ix.n(parent).left = repl
	default:
		ix.n(parent).right = repl
	}
}

func (ix *Index) rotateLeft(x Handle) Handle {
	xn := ix.n(x)
	y := xn.right
	yn := ix.n(y)

	xn.right = yn.left
	if !yn.left.IsNil() {
		ix.n(yn.left).parent = x
	}
	yn.parent = xn.parent
	ix.replaceChild(xn.parent, x, y)
	yn.left = x
	xn.parent = y

	ix.update(x)
	ix.update(y)
	return y
}

func (ix *Index) rotateRight(x Handle) Handle {
	xn := ix.n(x)
	y := xn.left
	yn := ix.n(y)

	xn.left = yn.right
	if !yn.right.IsNil() {
		ix.n(yn.right).parent = x
	}
	yn.parent = xn.parent
	ix.replaceChild(xn.parent, x, y)
	yn.right = x
	xn.parent = y

	ix.update(x)
	ix.update(y)
	return y
}

// rebalance restores the AVL property at h and returns the subtree root.
func (ix *Index) rebalance(h Handle) Handle {
	ix.update(h)
	switch b := ix.balance(h); {
	case b > 1:
		if ix.balance(ix.n(h).left) < 0 {
			ix.rotateLeft(ix.n(h).left)
		}
		return ix.rotateRight(h)
	case b < -1:
		if ix.balance(ix.n(h).right) > 0 {
			ix.rotateRight(ix.n(h).right)
		}
		return ix.rotateLeft(h)
	default:
		return h
	}
}

// retrace rebalances from h up to the root.
func (ix *Index) retrace(h Handle) {
	for !h.IsNil() {
		h = ix.rebalance(h)
		h = ix.n(h).parent
	}
}

// erase removes h from the tree only.
func (ix *Index) erase(h Handle) {
	z := ix.n(h)
	var start Handle

	if z.left.IsNil() || z.right.IsNil() {
		child := z.left
		if child.IsNil() {
			child = z.right
		}
		ix.replaceChild(z.parent, h, child)
		if !child.IsNil() {
			ix.n(child).parent = z.parent
		}
		start = z.parent
	} else {
		// The in-order successor is the leftmost node of the right subtree.
		y := z.right
		for !ix.n(y).left.IsNil() {
			y = ix.n(y).left
		}
		yn := ix.n(y)
		if yn.parent != h {
			start = yn.parent
			ix.replaceChild(yn.parent, y, yn.right)
			if !yn.right.IsNil() {
				ix.n(yn.right).parent = yn.parent
			}
			yn.right = z.right
			ix.n(z.right).parent = y
		} else {
			start = y
		}
		ix.replaceChild(z.parent, h, y)
		yn.parent = z.parent
		yn.left = z.left
		ix.n(z.left).parent = y
		yn.height = z.height
	}
	z.left, z.right, z.parent = Nil, Nil, Nil
	ix.retrace(start)
}

// rebuild recreates a perfectly balanced tree from the list in O(n).
func (ix *Index) rebuild() {
	hs := make([]Handle, 0, ix.count)
	for h := ix.first; !h.IsNil(); h = ix.n(h).next {
		hs = append(hs, h)
	}
	ix.root = ix.build(hs, Nil)
}

func (ix *Index) build(hs []Handle, parent Handle) Handle {
	if len(hs) == 0 {
		return Nil
	}
	mid := len(hs) / 2
	h := hs[mid]
	nd := ix.n(h)
	nd.parent = parent
	nd.left = ix.build(hs[:mid], h)
	nd.right = ix.build(hs[mid+1:], h)
	ix.update(h)
	return h
}

// Validate checks the structural invariants: the in-order traversal equals
// the list, ranges are non-empty, page-aligned and strictly increasing, and
// parent links, heights and balance factors are consistent.
func (ix *Index) Validate() error {
	var inorder []Handle
	if err := ix.walk(ix.root, Nil, &inorder); err != nil {
		return err
	}
	if len(inorder) != ix.count {
		return fmt.Errorf("index: tree holds %d nodes, count is %d", len(inorder), ix.count)
	}

	i := 0
	var prev Handle
	for h := ix.first; !h.IsNil(); h = ix.n(h).next {
		if i >= len(inorder) || inorder[i] != h {
			return fmt.Errorf("index: list and tree order disagree at position %d", i)
		}
		nd := ix.n(h)
		if nd.prev != prev {
			return fmt.Errorf("index: broken back link at %v", h)
		}
		r := nd.region.Range()
		if r.Start >= r.End || !r.IsPageAligned() {
			return fmt.Errorf("index: malformed region %s", r)
		}
		if !prev.IsNil() && ix.n(prev).region.End > r.Start {
			return fmt.Errorf("index: %s overlaps %s", ix.n(prev).region.Range(), r)
		}
		prev = h
		i++
	}
	if i != ix.count {
		return fmt.Errorf("index: list holds %d nodes, count is %d", i, ix.count)
	}
	if prev != ix.last {
		return errors.New("index: last pointer is stale")
	}
	return nil
}

func (ix *Index) walk(h, parent Handle, out *[]Handle) error {
	if h.IsNil() {
		return nil
	}
	nd := ix.n(h)
	if nd == nil || !nd.linked {
		return fmt.Errorf("index: tree references dead node %v", h)
	}
	if nd.parent != parent {
		return fmt.Errorf("index: bad parent link at %v", h)
	}
	if err := ix.walk(nd.left, h, out); err != nil {
		return err
	}
	*out = append(*out, h)
	if err := ix.walk(nd.right, h, out); err != nil {
		return err
	}
	l, r := ix.height(nd.left), ix.height(nd.right)
	want := max(l, r) + 1
	if nd.height != want {
		return fmt.Errorf("index: stale height at %v", h)
	}
	if d := int(l) - int(r); d > 1 || d < -1 {
		return fmt.Errorf("index: unbalanced at %v", h)
	}
	return nil
}

// Reset drops every node, linked or not.
func (ix *Index) Reset() {
	ix.arena.Reset()
	ix.root, ix.first, ix.last = Nil, Nil, Nil
	ix.count = 0
	ix.cache.Store(0)
}
