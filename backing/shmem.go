package backing

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/vmspace/region"
)

// ErrBusy is returned when releasing an object that is still mapped.
var ErrBusy = errors.New("backing: object still mapped")

var shmemSeq atomic.Uint64

// Shmem is anonymous shared memory. A fresh Shmem is created for every
// shared anonymous mapping; splits of that mapping keep referencing it.
type Shmem struct {
	object
	size uint64
}

var _ region.Mappable = (*Shmem)(nil)

// NewShmem returns a shared anonymous object of size bytes.
func NewShmem(size uint64) *Shmem {
	name := fmt.Sprintf("shmem:%d", shmemSeq.Add(1))
	s := &Shmem{size: size}
	s.init(name)
	return s
}

// CheckAccess implements region.Mappable. Anonymous memory permits every
// access.
func (s *Shmem) CheckAccess(region.Prot, bool) error {
	return nil
}

// Size returns the object size in bytes.
func (s *Shmem) Size() uint64 {
	return s.size
}
