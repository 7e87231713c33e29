// Package remote defines the network-backed blob store contract and a
// registry of backend implementations.
package remote

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/kashoo/filetoolkit/internal/blobstore"
	"github.com/kashoo/filetoolkit/internal/storage"
)

// Remote is a stateless network-backed blob store. It retains nothing
// locally; callers that want a local copy layer a cache on top.
//
// Remote objects are immutable once written: there is no delete in this
// contract. That is a protocol limitation, not an oversight.
type Remote interface {
	// Upload pushes a payload to the remote under id.
	Upload(ctx context.Context, id string, data []byte, meta blobstore.Metadata) error

	// Download streams the payload for id into w and returns its metadata.
	// Returns ErrNotFound if the remote has no object under id.
	Download(ctx context.Context, id string, w io.Writer) (blobstore.Metadata, error)

	// Stat fetches metadata for id without transferring the payload.
	Stat(ctx context.Context, id string) (blobstore.Metadata, error)
}

// Factory creates a Remote from a configuration map.
type Factory func(ctx context.Context, config map[string]string) (Remote, error)

// DefaultsFunc returns the default configuration for a backend.
type DefaultsFunc func() map[string]string

type registration struct {
	factory  Factory
	defaults DefaultsFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
)

// Register adds a backend factory to the registry.
// Panics if a backend with the same name is already registered.
func Register(name string, factory Factory, defaults DefaultsFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("remote: backend %q already registered", name))
	}
	registry[name] = registration{factory: factory, defaults: defaults}
}

// New creates a Remote using the named backend.
// Config values are merged with the backend's defaults (explicit config wins).
func New(ctx context.Context, name string, config map[string]string) (Remote, error) {
	registryMu.RLock()
	reg, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("remote: unknown backend %q (registered: %v)", name, ListBackends())
	}

	merged := config
	if reg.defaults != nil {
		merged = storage.MergeConfig(reg.defaults(), config)
	}

	return reg.factory(ctx, merged)
}

// ListBackends returns the names of all registered backends, sorted.
func ListBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
