package blobstore

import "context"

// Metadata describes a stored blob. Size is derived from the payload or
// filesystem, never trusted from the caller.
type Metadata struct {
	Size     int64
	Filename string
	MIMEType string
}

// Store is the capability every store tier implements. Tiers compose by
// wrapping: a caching store wraps a remote, the unified store wraps both.
//
// Methods come in two forms. The *Now variants answer from what is instantly
// available on local disk and never touch the network; they return
// ErrNotCached (or ErrUnsupported for tiers with no local holdings) when the
// answer is not at hand. The context-taking variants always eventually
// resolve, falling back to network retrieval as needed, and may block until
// the context is cancelled.
//
// Completion contract: results are delivered synchronously on the calling
// goroutine, exactly once per call. Outcomes of background work (deferred
// uploads) are delivered on a single dedicated notifier goroutine, never
// concurrently with further mutation of the same in-flight identifier.
type Store interface {
	// Store persists a payload under id. It fails with ErrAlreadyExists if
	// a blob is already stored under id; there is no implicit overwrite.
	Store(ctx context.Context, id string, data []byte, meta Metadata) error

	// StoreFile persists the contents of an existing file under id.
	StoreFile(ctx context.Context, id string, path string, meta Metadata) error

	// Data returns the payload bytes for id.
	Data(ctx context.Context, id string) ([]byte, error)

	// DataNow returns the payload bytes for id without network access.
	DataNow(id string) ([]byte, error)

	// Location returns a local filesystem path holding the payload for id.
	Location(ctx context.Context, id string) (string, error)

	// LocationNow returns a local path for id without network access.
	LocationNow(id string) (string, error)

	// Metadata returns the blob's metadata.
	Metadata(ctx context.Context, id string) (Metadata, error)

	// MetadataNow returns the blob's metadata without network access.
	MetadataNow(id string) (Metadata, error)

	// Delete removes the blob. It fails with ErrNotFound if no blob is
	// stored under id.
	Delete(ctx context.Context, id string) error

	// Shutdown releases background resources (timers, queued work).
	// When immediate is true, outstanding background operations are
	// cancelled rather than drained.
	Shutdown(immediate bool) error
}
