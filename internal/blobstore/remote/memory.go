package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/kashoo/filetoolkit/internal/blobstore"
)

func init() {
	Register("memory", func(_ context.Context, _ map[string]string) (Remote, error) {
		return NewMemory(), nil
	}, nil)
}

// Memory is an in-memory Remote for tests and local experimentation. It
// enforces the same write-once contract as real remotes.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	data []byte
	meta blobstore.Metadata
}

var _ Remote = (*Memory)(nil)

// NewMemory creates an empty in-memory remote.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]memoryBlob)}
}

// Upload stores a copy of the payload. Re-uploading an existing identifier
// fails; remote objects are immutable once written.
func (m *Memory) Upload(_ context.Context, id string, data []byte, meta blobstore.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[id]; ok {
		return fmt.Errorf("memory upload %q: %w", id, blobstore.ErrAlreadyExists)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	meta.Size = int64(len(data))
	m.blobs[id] = memoryBlob{data: cp, meta: meta}
	return nil
}

// Download streams the payload into w.
func (m *Memory) Download(_ context.Context, id string, w io.Writer) (blobstore.Metadata, error) {
	m.mu.RLock()
	b, ok := m.blobs[id]
	m.mu.RUnlock()

	if !ok {
		return blobstore.Metadata{}, fmt.Errorf("memory download %q: %w", id, blobstore.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(b.data)); err != nil {
		return blobstore.Metadata{}, fmt.Errorf("memory download %q: %w", id, err)
	}
	return b.meta, nil
}

// Stat returns the stored metadata.
func (m *Memory) Stat(_ context.Context, id string) (blobstore.Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[id]
	if !ok {
		return blobstore.Metadata{}, fmt.Errorf("memory stat %q: %w", id, blobstore.ErrNotFound)
	}
	return b.meta, nil
}

// Len returns the number of stored blobs (for testing).
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
