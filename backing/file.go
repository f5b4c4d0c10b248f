package backing

import (
	"context"

	"github.com/hupe1980/vmspace/blobstore"
	"github.com/hupe1980/vmspace/region"
)

// File is a mappable object read from a blob.
type File struct {
	object
	blob       blobstore.Blob
	readOnly   bool
	appendOnly bool
}

var _ region.Mappable = (*File)(nil)

// FileOption configures a File.
type FileOption func(*File)

// ReadOnly refuses shared writable mappings.
func ReadOnly() FileOption {
	return func(f *File) { f.readOnly = true }
}

// AppendOnly refuses shared writable mappings with ErrAppendOnly.
func AppendOnly() FileOption {
	return func(f *File) { f.appendOnly = true }
}

// WithAttachFunc installs a hook run when a region of the file is
// constructed.
func WithAttachFunc(fn AttachFunc) FileOption {
	return func(f *File) { f.attach = fn }
}

// NewFile wraps an open blob.
func NewFile(name string, blob blobstore.Blob, opts ...FileOption) *File {
	f := &File{blob: blob}
	f.init(name)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OpenFile opens name in store.
func OpenFile(ctx context.Context, store blobstore.Store, name string, opts ...FileOption) (*File, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewFile(name, blob, opts...), nil
}

// CheckAccess implements region.Mappable.
func (f *File) CheckAccess(prot region.Prot, shared bool) error {
	if !shared || prot&region.ProtWrite == 0 {
		return nil
	}
	if f.appendOnly {
		return ErrAppendOnly
	}
	if f.readOnly {
		return ErrAccessDenied
	}
	return nil
}

// Size returns the blob size in bytes.
func (f *File) Size() int64 {
	return f.blob.Size()
}

// Populate warms [off, off+length) of the blob if the store supports it.
func (f *File) Populate(ctx context.Context, off, length uint64) error {
	p, ok := f.blob.(blobstore.Prefetcher)
	if !ok {
		return nil
	}
	size := uint64(f.blob.Size())
	if off >= size {
		return nil
	}
	return p.Prefetch(ctx, int64(off), int64(min(length, size-off)))
}

// Release closes the blob. Regions must no longer reference the file.
func (f *File) Release() error {
	if f.Refs() != 0 {
		return ErrBusy
	}
	return f.blob.Close()
}
