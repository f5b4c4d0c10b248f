package region

import "strings"

// Prot holds the access permissions of a Region.
type Prot uint8

const (
	// ProtNone forbids all access.
	ProtNone Prot = 0
	// ProtRead permits reads.
	ProtRead Prot = 1
	// ProtWrite permits writes.
	ProtWrite Prot = 2
	// ProtExec permits instruction fetch.
	ProtExec Prot = 4
)

// ProtAll is the union of all valid protection bits.
const ProtAll = ProtRead | ProtWrite | ProtExec

// Valid reports whether p contains only known bits.
func (p Prot) Valid() bool {
	return p&^ProtAll == 0
}

// Any reports whether p permits any access at all.
func (p Prot) Any() bool {
	return p != ProtNone
}

func (p Prot) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Flags are the attribute bits of a Region. Two Regions can only merge when
// their flags are identical.
type Flags uint32

const (
	// FlagShared marks a shared mapping; writes are visible to other mappers.
	FlagShared Flags = 1 << iota
	// FlagMayShare records that the mapping was requested shared.
	FlagMayShare
	// FlagGrowsDown marks a stack-like region that extends downwards.
	FlagGrowsDown
	// FlagLocked marks a region whose pages must stay resident.
	FlagLocked
	// FlagAccounted marks a region charged against the admission controller.
	FlagAccounted
	// FlagSpecial marks a region that must never be merged.
	FlagSpecial
	// FlagNonLinear marks a file region with a non-linear page layout.
	FlagNonLinear
	// FlagDenyWrite marks a mapping that denies writes to its file.
	FlagDenyWrite
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagShared, "shared"},
	{FlagMayShare, "mayshare"},
	{FlagGrowsDown, "growsdown"},
	{FlagLocked, "locked"},
	{FlagAccounted, "accounted"},
	{FlagSpecial, "special"},
	{FlagNonLinear, "nonlinear"},
	{FlagDenyWrite, "denywrite"},
}

// Has reports whether all bits of o are set in f.
func (f Flags) Has(o Flags) bool {
	return f&o == o
}

func (f Flags) String() string {
	if f == 0 {
		return "private"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}
