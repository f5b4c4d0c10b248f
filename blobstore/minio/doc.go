// Package minio stores blobs in MinIO or any other S3-compatible service
// through the MinIO client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	})
//	if err != nil { ... }
//	store := minioblob.NewStore(client, "vm-objects", "space-1/")
//	f, err := backing.OpenFile(ctx, store, "libc.so")
package minio
