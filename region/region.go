package region

import "fmt"

// ID identifies a live Region within one address space. IDs are assigned by
// the index and are never reused while the Region is live.
type ID uint64

// Policy is an opaque memory-policy reference. A nil Policy is the default
// policy.
type Policy interface {
	String() string
}

// AnonGroup is an opaque reverse-mapping group reference. A nil AnonGroup
// means the Region has no anonymous pages yet.
type AnonGroup interface {
	GroupID() uint64
}

// Region is one contiguous page-aligned range with uniform attributes.
type Region struct {
	ID      ID
	Start   Addr
	End     Addr
	Prot    Prot
	Flags   Flags
	Backing Backing
	Policy  Policy
	Anon    AnonGroup
}

// Range returns [r.Start, r.End).
func (r *Region) Range() Range {
	return Range{Start: r.Start, End: r.End}
}

// Length returns the size of r in bytes.
func (r *Region) Length() uint64 {
	return uint64(r.End - r.Start)
}

// Pages returns the number of pages r spans.
func (r *Region) Pages() uint64 {
	return r.Length() >> PageShift
}

// Kind returns the backing kind of r.
func (r *Region) Kind() Kind {
	if r.Backing == nil {
		return KindAnonPrivate
	}
	return r.Backing.Kind()
}

// Object returns the backing object of r, or nil.
func (r *Region) Object() Mappable {
	obj, _, _ := ObjectOf(r.Backing)
	return obj
}

// Offset returns the byte offset into the backing object at r.Start.
func (r *Region) Offset() uint64 {
	_, off, _ := ObjectOf(r.Backing)
	return off
}

// Collection returns the object collection r belongs to.
func (r *Region) Collection() Collection {
	switch {
	case r.Flags&FlagNonLinear != 0:
		return CollectionNonLinear
	case r.Flags&FlagShared != 0:
		return CollectionShared
	default:
		return CollectionPrivate
	}
}

// View returns an immutable description of r.
func (r *Region) View() View {
	v := View{
		Range:  r.Range(),
		Prot:   r.Prot,
		Flags:  r.Flags,
		Kind:   r.Kind(),
		Offset: r.Offset(),
	}
	switch b := r.Backing.(type) {
	case File:
		v.Object = b.Object.Name()
	case AnonShared:
		v.Object = b.Object.Name()
	case Special:
		v.Object = b.Name
	}
	if r.Policy != nil {
		v.Policy = r.Policy.String()
	}
	return v
}

// View is a snapshot of a Region handed out to callers.
type View struct {
	Range  Range
	Prot   Prot
	Flags  Flags
	Kind   Kind
	Object string
	Offset uint64
	Policy string
}

func (v View) String() string {
	s := fmt.Sprintf("%s %s %s", v.Range, v.Prot, v.Flags)
	if v.Object != "" {
		s += fmt.Sprintf(" %s@%#x", v.Object, v.Offset)
	}
	return s
}
