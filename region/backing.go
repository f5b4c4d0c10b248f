package region

import "github.com/hupe1980/vmspace/lockorder"

// Kind identifies the Backing variant of a Region.
type Kind uint8

const (
	// KindAnonPrivate is private zero-filled memory.
	KindAnonPrivate Kind = iota
	// KindAnonShared is zero-filled memory shared between mappers.
	KindAnonShared
	// KindFile maps a window of a backing object.
	KindFile
	// KindSpecial is an installed mapping with no backing object.
	KindSpecial
)

func (k Kind) String() string {
	switch k {
	case KindAnonPrivate:
		return "anon"
	case KindAnonShared:
		return "shmem"
	case KindFile:
		return "file"
	case KindSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// Backing is the tagged variant describing what a Region maps. The concrete
// types are AnonPrivate, AnonShared, File and Special.
type Backing interface {
	Kind() Kind
	sealed()
}

// AnonPrivate backs a Region with private zero-filled memory.
type AnonPrivate struct{}

// AnonShared backs a Region with memory shared through Object.
type AnonShared struct {
	Object Mappable
	Offset uint64
}

// File backs a Region with the window of Object starting at Offset.
type File struct {
	Object Mappable
	Offset uint64
}

// Special backs an installed mapping such as a vdso.
type Special struct {
	Name string
}

func (AnonPrivate) Kind() Kind { return KindAnonPrivate }
func (AnonShared) Kind() Kind  { return KindAnonShared }
func (File) Kind() Kind        { return KindFile }
func (Special) Kind() Kind     { return KindSpecial }

func (AnonPrivate) sealed() {}
func (AnonShared) sealed()  {}
func (File) sealed()        {}
func (Special) sealed()     {}

// ObjectOf returns the backing object and byte offset of b, if b has one.
func ObjectOf(b Backing) (Mappable, uint64, bool) {
	switch v := b.(type) {
	case File:
		return v.Object, v.Offset, true
	case AnonShared:
		return v.Object, v.Offset, true
	default:
		return nil, 0, false
	}
}

// Shift returns b with its offset advanced by delta bytes. Variants without
// an offset are returned unchanged.
func Shift(b Backing, delta uint64) Backing {
	switch v := b.(type) {
	case File:
		v.Offset += delta
		return v
	case AnonShared:
		v.Offset += delta
		return v
	default:
		return b
	}
}

// Unshift returns b with its offset moved back by delta bytes.
func Unshift(b Backing, delta uint64) Backing {
	switch v := b.(type) {
	case File:
		v.Offset -= delta
		return v
	case AnonShared:
		v.Offset -= delta
		return v
	default:
		return b
	}
}

// Collection names the per-object collection a Region is registered in.
type Collection uint8

const (
	// CollectionPrivate holds private mappings of an object.
	CollectionPrivate Collection = iota
	// CollectionShared holds shared mappings of an object.
	CollectionShared
	// CollectionNonLinear holds non-linear mappings of an object.
	CollectionNonLinear

	// NumCollections is the number of distinct collections.
	NumCollections
)

func (c Collection) String() string {
	switch c {
	case CollectionPrivate:
		return "private"
	case CollectionShared:
		return "shared"
	case CollectionNonLinear:
		return "nonlinear"
	default:
		return "unknown"
	}
}

// Mappable is implemented by backing objects (files and anonymous shared
// memory). Every Region whose Backing carries a Mappable is registered in
// exactly one of the object's collections for as long as it is live.
type Mappable interface {
	// Name identifies the object in views and checkpoints.
	Name() string

	// CheckAccess reports whether a mapping with prot and sharing mode may
	// be established.
	CheckAccess(prot Prot, shared bool) error

	// Attach is called once for a newly constructed Region before it is
	// linked. It returns the start address the Region must use, which may
	// differ from r.Start.
	Attach(r *Region) (Addr, error)

	// Detach undoes Attach for a Region that is never linked.
	Detach(r *Region)

	// Open is called when a Region starts referencing the object through a
	// split or a restore.
	Open(r *Region)

	// Close is called when a Region that referenced the object is destroyed.
	Close(r *Region)

	// LockMappings acquires the object's shared-mapping lock.
	LockMappings(g *lockorder.Map) *lockorder.Mapping

	// Link registers r in the collection selected by r.Collection().
	Link(g *lockorder.Mapping, r *Region)

	// Unlink removes r from its collection. It reports false if r was not
	// registered.
	Unlink(g *lockorder.Mapping, r *Region) bool
}
