package remote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/kashoo/filetoolkit/internal/blobstore"
)

// Direct exposes a Remote through the capability interface with no local
// tier at all. Synchronous variants have nothing local to consult and fail
// with ErrUnsupported rather than silently degrading; so do Location (a
// cacheless store has no on-disk path to hand out) and Delete (the remote
// protocol has none).
type Direct struct {
	rem    Remote
	closed atomic.Bool
}

var _ blobstore.Store = (*Direct)(nil)

// NewDirect wraps rem in the capability interface.
func NewDirect(rem Remote) *Direct {
	return &Direct{rem: rem}
}

// Store uploads the payload.
func (d *Direct) Store(ctx context.Context, id string, data []byte, meta blobstore.Metadata) error {
	if d.closed.Load() {
		return blobstore.ErrClosed
	}
	meta.Size = int64(len(data))
	return d.rem.Upload(ctx, id, data, meta)
}

// StoreFile uploads the contents of an existing file.
func (d *Direct) StoreFile(ctx context.Context, id string, path string, meta blobstore.Metadata) error {
	if d.closed.Load() {
		return blobstore.ErrClosed
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("remote store %q: %w", id, err)
	}
	meta.Size = int64(len(data))
	return d.rem.Upload(ctx, id, data, meta)
}

// Data downloads the payload.
func (d *Direct) Data(ctx context.Context, id string) ([]byte, error) {
	if d.closed.Load() {
		return nil, blobstore.ErrClosed
	}
	var buf bytes.Buffer
	if _, err := d.rem.Download(ctx, id, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DataNow fails: a cacheless store can never answer synchronously.
func (d *Direct) DataNow(id string) ([]byte, error) {
	return nil, fmt.Errorf("remote data %q: %w", id, blobstore.ErrUnsupported)
}

// Location fails: there is no local file to point at.
func (d *Direct) Location(_ context.Context, id string) (string, error) {
	return "", fmt.Errorf("remote location %q: %w", id, blobstore.ErrUnsupported)
}

// LocationNow fails for the same reason Location does.
func (d *Direct) LocationNow(id string) (string, error) {
	return "", fmt.Errorf("remote location %q: %w", id, blobstore.ErrUnsupported)
}

// Metadata stats the remote object.
func (d *Direct) Metadata(ctx context.Context, id string) (blobstore.Metadata, error) {
	if d.closed.Load() {
		return blobstore.Metadata{}, blobstore.ErrClosed
	}
	return d.rem.Stat(ctx, id)
}

// MetadataNow fails: metadata lives on the remote.
func (d *Direct) MetadataNow(id string) (blobstore.Metadata, error) {
	return blobstore.Metadata{}, fmt.Errorf("remote metadata %q: %w", id, blobstore.ErrUnsupported)
}

// Delete fails: the remote protocol has no delete.
func (d *Direct) Delete(_ context.Context, id string) error {
	return fmt.Errorf("remote delete %q: %w", id, blobstore.ErrUnsupported)
}

// Shutdown marks the store closed.
func (d *Direct) Shutdown(_ bool) error {
	d.closed.Store(true)
	return nil
}
