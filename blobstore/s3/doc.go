// Package s3 stores blobs in Amazon S3.
//
//	store, err := s3.NewStoreFromConfig(ctx, "my-bucket", "vmspace/")
//	if err != nil { ... }
//	err = as.Checkpoint(ctx, store, "layout-1")
//
// Reads use ranged GETs, so file-backed regions only fetch the pages they
// populate. Streaming writes go through the multipart upload manager.
package s3
