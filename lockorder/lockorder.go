package lockorder

import "sync"

// Map is held while the structural lock of an address space is held.
type Map struct {
	mu       *sync.RWMutex
	write    bool
	released bool
	mappings int
	anons    int
	pt       bool
}

// LockMap acquires mu for writing.
func LockMap(mu *sync.RWMutex) *Map {
	mu.Lock()
	return &Map{mu: mu, write: true}
}

// RLockMap acquires mu for reading.
func RLockMap(mu *sync.RWMutex) *Map {
	mu.RLock()
	return &Map{mu: mu}
}

// Writable reports whether the structural lock is held for writing.
func (m *Map) Writable() bool {
	return m.write
}

// AssertWritable panics unless the structural lock is held for writing.
func (m *Map) AssertWritable() {
	m.assertHeld()
	if !m.write {
		panic("lockorder: structural lock not held for writing")
	}
}

func (m *Map) assertHeld() {
	if m == nil || m.released {
		panic("lockorder: structural lock not held")
	}
}

// Unlock releases the structural lock. All inner guards must have been
// released first.
func (m *Map) Unlock() {
	m.assertHeld()
	if m.mappings != 0 || m.anons != 0 || m.pt {
		panic("lockorder: structural lock released while inner locks are held")
	}
	m.released = true
	if m.write {
		m.mu.Unlock()
	} else {
		m.mu.RUnlock()
	}
}

// PageTable is held while the page-table lock is held.
type PageTable struct {
	mu     *sync.Mutex
	parent *Map
}

// LockPageTable acquires the page-table lock mu.
func (m *Map) LockPageTable(mu *sync.Mutex) *PageTable {
	m.assertHeld()
	if m.pt {
		panic("lockorder: page-table lock already held")
	}
	mu.Lock()
	m.pt = true
	return &PageTable{mu: mu, parent: m}
}

// Unlock releases the page-table lock.
func (p *PageTable) Unlock() {
	if p.parent == nil {
		panic("lockorder: page-table lock not held")
	}
	p.parent.pt = false
	p.parent = nil
	p.mu.Unlock()
}

// Mapping is held while a backing object's shared-mapping lock is held.
type Mapping struct {
	mu     *sync.Mutex
	parent *Map
}

// LockMapping acquires a shared-mapping lock. It panics if a reverse-map
// lock is already held through m, which would invert the hierarchy.
func (m *Map) LockMapping(mu *sync.Mutex) *Mapping {
	m.assertHeld()
	if m.anons != 0 {
		panic("lockorder: shared-mapping lock acquired after reverse-map lock")
	}
	mu.Lock()
	m.mappings++
	return &Mapping{mu: mu, parent: m}
}

// Unlock releases the shared-mapping lock.
func (f *Mapping) Unlock() {
	if f.parent == nil {
		panic("lockorder: shared-mapping lock not held")
	}
	f.parent.mappings--
	f.parent = nil
	f.mu.Unlock()
}

// Anon is held while a reverse-mapping group lock is held.
type Anon struct {
	mu     *sync.Mutex
	parent *Map
}

// AnonLocker is implemented by the guards a reverse-map lock may be taken
// under: the structural guard alone, or a shared-mapping guard.
type AnonLocker interface {
	LockAnon(mu *sync.Mutex) *Anon
}

// LockAnon acquires a reverse-map lock directly under the structural lock.
func (m *Map) LockAnon(mu *sync.Mutex) *Anon {
	m.assertHeld()
	return lockAnon(m, mu)
}

// LockAnon acquires a reverse-map lock nested in the shared-mapping lock.
func (f *Mapping) LockAnon(mu *sync.Mutex) *Anon {
	if f.parent == nil {
		panic("lockorder: shared-mapping lock not held")
	}
	return lockAnon(f.parent, mu)
}

func lockAnon(m *Map, mu *sync.Mutex) *Anon {
	if m.anons != 0 {
		panic("lockorder: nested reverse-map locks")
	}
	mu.Lock()
	m.anons++
	return &Anon{mu: mu, parent: m}
}

// Unlock releases the reverse-map lock.
func (a *Anon) Unlock() {
	if a.parent == nil {
		panic("lockorder: reverse-map lock not held")
	}
	a.parent.anons--
	a.parent = nil
	a.mu.Unlock()
}
