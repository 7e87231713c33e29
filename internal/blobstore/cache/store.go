// Package cache wraps a remote blob store with a disk-backed read cache.
// Writes go straight to the network; reads are satisfied from disk when
// possible and populate the cache when not. The cache tier is subject to
// size- and free-space-driven eviction.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kashoo/filetoolkit/internal/blobstore"
	"github.com/kashoo/filetoolkit/internal/blobstore/local"
	"github.com/kashoo/filetoolkit/internal/blobstore/remote"
	"github.com/kashoo/filetoolkit/internal/observability"
)

// Config controls cache eviction.
type Config struct {
	// MaximumCacheSize caps the cache tier in bytes. 0 disables the cap.
	MaximumCacheSize int64

	// MinimumDeviceFree triggers pruning when device free space drops to or
	// below it. 0 disables free-space pruning.
	MinimumDeviceFree int64

	// TargetDeviceFree is how much free space a free-space-triggered prune
	// pass tries to restore.
	TargetDeviceFree int64

	// PruneInterval runs a periodic prune pass. 0 prunes only after
	// cache-filling downloads.
	PruneInterval time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithFreeSpaceProbe overrides how device free space is measured.
func WithFreeSpaceProbe(probe func(path string) (int64, error)) Option {
	return func(s *Store) { s.freeSpace = probe }
}

// Store is a caching wrapper around a Remote. It never writes to its own
// cache on Store; population happens on reads and on Adopt.
type Store struct {
	remote  remote.Remote
	disk    *local.Store
	cfg     Config
	metrics *observability.Metrics

	freeSpace func(path string) (int64, error)

	// pruneMu serializes prune passes; reads and downloads of other
	// identifiers proceed concurrently.
	pruneMu sync.Mutex

	stop   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ blobstore.Store = (*Store)(nil)

// New creates a caching store over rem with its cache tier rooted at dir.
func New(rem remote.Remote, dir string, cfg Config, metrics *observability.Metrics, opts ...Option) (*Store, error) {
	disk, err := local.New(dir, local.WithAccessTimes())
	if err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}

	s := &Store{
		remote:    rem,
		disk:      disk,
		cfg:       cfg,
		metrics:   metrics,
		freeSpace: deviceFree,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.PruneInterval > 0 {
		s.wg.Add(1)
		go s.pruneLoop()
	}

	slog.Debug("cache store initialized", "dir", dir,
		"max_bytes", cfg.MaximumCacheSize, "prune_interval", cfg.PruneInterval)
	return s, nil
}

func (s *Store) pruneLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Prune()
		}
	}
}

// Remote returns the remote store this cache fronts.
func (s *Store) Remote() remote.Remote {
	return s.remote
}

// Store pushes the payload to the remote. The cache is deliberately not
// populated here; the payload lands on disk only when something reads it
// back, or when the unified tier adopts it after a queued upload.
func (s *Store) Store(ctx context.Context, id string, data []byte, meta blobstore.Metadata) error {
	if s.closed.Load() {
		return blobstore.ErrClosed
	}
	meta.Size = int64(len(data))
	if err := s.remote.Upload(ctx, id, data, meta); err != nil {
		return fmt.Errorf("cache store %q: %w", id, err)
	}
	return nil
}

// StoreFile pushes the contents of an existing file to the remote.
func (s *Store) StoreFile(ctx context.Context, id string, path string, meta blobstore.Metadata) error {
	if s.closed.Load() {
		return blobstore.ErrClosed
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cache store %q: %w", id, err)
	}
	return s.Store(ctx, id, data, meta)
}

// Data returns the payload, downloading into the cache on a miss.
func (s *Store) Data(ctx context.Context, id string) ([]byte, error) {
	data, err := s.DataNow(id)
	if err == nil {
		return data, nil
	}
	if !isMiss(err) {
		return nil, err
	}

	if err := s.fill(ctx, id); err != nil {
		return nil, err
	}
	data, err = s.disk.DataNow(id)
	if err != nil {
		return nil, fmt.Errorf("cache data %q: %w", id, err)
	}
	return data, nil
}

// DataNow returns the payload if cached, stamping last access.
func (s *Store) DataNow(id string) ([]byte, error) {
	if s.closed.Load() {
		return nil, blobstore.ErrClosed
	}
	data, err := s.disk.DataNow(id)
	if err != nil {
		if isMiss(err) {
			return nil, fmt.Errorf("cache data %q: %w", id, blobstore.ErrNotCached)
		}
		return nil, err
	}
	if err := s.disk.Touch(id); err != nil {
		slog.Warn("last-access stamp failed", "id", id, "error", err)
	}
	return data, nil
}

// Location returns a local path for the payload, downloading on a miss.
func (s *Store) Location(ctx context.Context, id string) (string, error) {
	path, err := s.LocationNow(id)
	if err == nil {
		return path, nil
	}
	if !isMiss(err) {
		return "", err
	}

	if err := s.fill(ctx, id); err != nil {
		return "", err
	}
	path, err = s.disk.LocationNow(id)
	if err != nil {
		return "", fmt.Errorf("cache location %q: %w", id, err)
	}
	return path, nil
}

// LocationNow returns the cached payload's path, stamping last access.
func (s *Store) LocationNow(id string) (string, error) {
	if s.closed.Load() {
		return "", blobstore.ErrClosed
	}
	path, err := s.disk.LocationNow(id)
	if err != nil {
		if isMiss(err) {
			return "", fmt.Errorf("cache location %q: %w", id, blobstore.ErrNotCached)
		}
		return "", err
	}
	if err := s.disk.Touch(id); err != nil {
		slog.Warn("last-access stamp failed", "id", id, "error", err)
	}
	return path, nil
}

// Metadata consults the cache tier first and falls back to a remote stat.
// The fallback is not persisted; only payload downloads populate the cache.
func (s *Store) Metadata(ctx context.Context, id string) (blobstore.Metadata, error) {
	meta, err := s.MetadataNow(id)
	if err == nil {
		return meta, nil
	}
	if !isMiss(err) {
		return blobstore.Metadata{}, err
	}

	meta, err = s.remote.Stat(ctx, id)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("cache metadata %q: %w", id, err)
	}
	return meta, nil
}

// MetadataNow returns cached metadata only.
func (s *Store) MetadataNow(id string) (blobstore.Metadata, error) {
	if s.closed.Load() {
		return blobstore.Metadata{}, blobstore.ErrClosed
	}
	meta, err := s.disk.MetadataNow(id)
	if err != nil {
		if isMiss(err) {
			return blobstore.Metadata{}, fmt.Errorf("cache metadata %q: %w", id, blobstore.ErrNotCached)
		}
		return blobstore.Metadata{}, err
	}
	return meta, nil
}

// Delete removes the locally cached copy. The remote protocol has no delete;
// the remote object stays put.
func (s *Store) Delete(_ context.Context, id string) error {
	if s.closed.Load() {
		return blobstore.ErrClosed
	}
	if err := s.disk.Delete(context.Background(), id); err != nil {
		return fmt.Errorf("cache delete %q: %w", id, err)
	}
	return nil
}

// Cached enumerates the identifiers currently held in the cache tier.
func (s *Store) Cached() ([]string, error) {
	if s.closed.Load() {
		return nil, blobstore.ErrClosed
	}
	return s.disk.List()
}

// Adopt takes ownership of an already-uploaded payload file, moving it into
// the cache tier under id with an atomic rename. This is how a freshly
// pushed write-ahead blob becomes cached without a redundant download.
func (s *Store) Adopt(id string, srcPath string, meta blobstore.Metadata) error {
	if s.closed.Load() {
		return blobstore.ErrClosed
	}
	if err := s.disk.Ingest(id, srcPath, meta); err != nil {
		return fmt.Errorf("cache adopt %q: %w", id, err)
	}
	s.Prune()
	return nil
}

// fill downloads id into the cache. The payload lands in a scratch file and
// is renamed into its canonical place, so a partial download is never
// observable as present.
func (s *Store) fill(ctx context.Context, id string) error {
	tmp, err := s.disk.TempFile()
	if err != nil {
		return fmt.Errorf("cache fill %q: %w", id, err)
	}
	tmpName := tmp.Name()

	meta, err := s.remote.Download(ctx, id, tmp)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cache fill %q: %w", id, err)
	}

	if err := s.disk.Ingest(id, tmpName, meta); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cache fill %q: %w", id, err)
	}

	slog.DebugContext(ctx, "cache filled", "id", id, "size_bytes", meta.Size)
	s.Prune()
	return nil
}

// Shutdown stops the prune timer and closes the cache tier.
func (s *Store) Shutdown(immediate bool) error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.stop)
	s.wg.Wait()
	return s.disk.Shutdown(immediate)
}

func isMiss(err error) bool {
	return errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, blobstore.ErrNotCached)
}
