// Package policy implements NUMA memory policies attached to regions.
//
// A Policy is immutable once created. Regions that are split each receive
// their own copy through Manager.Copy, and regions merge only when their
// policies are Equal.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vmspace/region"
)

// Mode selects how pages are placed across nodes.
type Mode uint8

const (
	// Default places pages on the local node.
	Default Mode = iota
	// Preferred tries the first node of the mask, then falls back.
	Preferred
	// Bind restricts placement to the nodes of the mask.
	Bind
	// Interleave spreads pages round-robin across the mask.
	Interleave
)

func (m Mode) String() string {
	switch m {
	case Default:
		return "default"
	case Preferred:
		return "prefer"
	case Bind:
		return "bind"
	case Interleave:
		return "interleave"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ErrInvalidPolicy is returned when a mode and node mask do not fit
// together.
var ErrInvalidPolicy = errors.New("policy: invalid mode or node mask")

// ErrExhausted is returned by Manager.Copy when the live-policy limit is
// reached.
var ErrExhausted = errors.New("policy: too many live policies")

// Policy is a memory policy. The zero value is not valid; use New.
type Policy struct {
	mode  Mode
	nodes *roaring.Bitmap
}

var _ region.Policy = (*Policy)(nil)

// New creates a policy. Default takes no nodes; every other mode needs at
// least one.
func New(mode Mode, nodes ...uint32) (*Policy, error) {
	if mode > Interleave {
		return nil, ErrInvalidPolicy
	}
	if (mode == Default) != (len(nodes) == 0) {
		return nil, ErrInvalidPolicy
	}
	return &Policy{mode: mode, nodes: roaring.BitmapOf(nodes...)}, nil
}

// Mode returns the placement mode.
func (p *Policy) Mode() Mode {
	return p.mode
}

// Nodes returns the node mask in ascending order.
func (p *Policy) Nodes() []uint32 {
	return p.nodes.ToArray()
}

func (p *Policy) String() string {
	if p.mode == Default {
		return p.mode.String()
	}
	nodes := p.nodes.ToArray()
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = fmt.Sprint(n)
	}
	return p.mode.String() + ":" + strings.Join(parts, ",")
}

// Equal reports whether a and b place pages identically. A nil policy and
// a Default policy are equal.
func Equal(a, b region.Policy) bool {
	pa, pb := as(a), as(b)
	if pa == nil || pb == nil {
		return isDefault(pa) && isDefault(pb)
	}
	return pa.mode == pb.mode && pa.nodes.Equals(pb.nodes)
}

func as(p region.Policy) *Policy {
	if p == nil {
		return nil
	}
	pp, _ := p.(*Policy)
	return pp
}

func isDefault(p *Policy) bool {
	return p == nil || p.mode == Default
}

// Manager hands out policy copies and tracks how many are live.
type Manager struct {
	// MaxLive caps the number of live copies; zero means no cap.
	MaxLive int64

	live atomic.Int64
}

// NewManager returns a Manager without a cap.
func NewManager() *Manager {
	return &Manager{}
}

// Equal reports whether two region policies are interchangeable.
func (m *Manager) Equal(a, b region.Policy) bool {
	return Equal(a, b)
}

// Copy returns an independent copy of p. A nil policy copies to nil and
// never fails.
func (m *Manager) Copy(p region.Policy) (region.Policy, error) {
	src := as(p)
	if src == nil {
		return nil, nil
	}
	if m.MaxLive != 0 && m.live.Load() >= m.MaxLive {
		return nil, ErrExhausted
	}
	m.live.Add(1)
	return &Policy{mode: src.mode, nodes: src.nodes.Clone()}, nil
}

// Adopt registers a caller-created policy as live.
func (m *Manager) Adopt(p region.Policy) {
	if as(p) != nil {
		m.live.Add(1)
	}
}

// Release drops a copy obtained from Copy or Adopt.
func (m *Manager) Release(p region.Policy) {
	if as(p) != nil {
		m.live.Add(-1)
	}
}

// Live returns the number of policies not yet released.
func (m *Manager) Live() int64 {
	return m.live.Load()
}
