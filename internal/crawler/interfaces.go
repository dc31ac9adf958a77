package crawler

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Fetcher performs one GET. A non-2xx status is a response, not an error;
// errors are reserved for transport failures.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore writes artifacts and returns their URI. Writing an existing path
// replaces it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher fingerprints artifact bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
