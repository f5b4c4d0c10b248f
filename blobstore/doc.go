// Package blobstore stores the objects behind file-backed regions and the
// layout checkpoints of an address space.
//
// Built-in stores:
//
//   - LocalStore: a directory on the local file system, read through mmap
//   - MemoryStore: an in-process map, for tests
//   - minio.Store and s3.Store: object storage
//
// Blobs are immutable once written. Readers that can warm a range before it
// is used implement Prefetcher.
package blobstore
