package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter stores archive documents. PutMultipart streams data in parts of
// partSize bytes for documents too large for a single request.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader answers whether a document has already been archived.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies settled pools and their entries to cold storage and
// reports how many pools it wrote.
type Archiver interface {
	ArchiveSettled(ctx context.Context, before time.Time) (int64, error)
}
