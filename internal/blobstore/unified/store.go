// Package unified composes the write-ahead queue and the caching remote
// store behind a single facade. Writes land on disk immediately and are
// pushed to the remote in the background; reads consult the queue, then the
// cache, then the network.
package unified

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/kashoo/filetoolkit/internal/blobstore"
	"github.com/kashoo/filetoolkit/internal/blobstore/cache"
	"github.com/kashoo/filetoolkit/internal/blobstore/local"
	"github.com/kashoo/filetoolkit/internal/observability"
)

const defaultWorkers = 4

// UploadFailure reports a deferred upload that ultimately failed. The blob
// stays in the write-ahead queue; the next Store call for its identifier, or
// the next process start, retries it.
type UploadFailure struct {
	ID  string
	Err error
}

// Option configures a Store.
type Option func(*Store)

// WaitForRemote makes Store and StoreFile block until the remote push
// completes, returning its outcome directly instead of queueing.
func WaitForRemote() Option {
	return func(s *Store) { s.waitRemote = true }
}

// StrictDelete makes Delete fail unless both tiers removed a copy.
func StrictDelete() Option {
	return func(s *Store) { s.strictDelete = true }
}

// WithUploader replaces the default single-shot uploader.
func WithUploader(u Uploader) Option {
	return func(s *Store) { s.uploader = u }
}

// WithWorkers sets the number of concurrent background pushes.
func WithWorkers(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

// Store is the unified tiered blob store.
type Store struct {
	queue    *local.Store
	cache    *cache.Store
	uploader Uploader
	metrics  *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	pool   *pool.ContextPool

	// mu guards pending and the closed flag, and serializes pool
	// submission against Shutdown.
	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool

	failures chan UploadFailure
	subMu    sync.Mutex
	subs     []chan UploadFailure
	notifyWG sync.WaitGroup

	waitRemote   bool
	strictDelete bool
	workers      int
}

var _ blobstore.Store = (*Store)(nil)

// New creates a unified store with its write-ahead queue rooted at queueDir,
// fronting cs. Blobs left in the queue by a previous run are re-enqueued
// immediately. A nil metrics disables counters.
func New(queueDir string, cs *cache.Store, metrics *observability.Metrics, opts ...Option) (*Store, error) {
	queue, err := local.New(queueDir)
	if err != nil {
		return nil, fmt.Errorf("unified store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		queue:    queue,
		cache:    cs,
		uploader: remoteUploader{rem: cs.Remote()},
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]struct{}),
		failures: make(chan UploadFailure, 64),
		workers:  defaultWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = pool.New().WithMaxGoroutines(s.workers).WithContext(ctx)

	s.notifyWG.Add(1)
	go s.notifyLoop()

	if err := s.replay(); err != nil {
		cancel()
		return nil, err
	}

	slog.Debug("unified store initialized", "queue_dir", queueDir,
		"workers", s.workers, "wait_for_remote", s.waitRemote)
	return s, nil
}

// replay re-enqueues every blob the previous run left behind.
func (s *Store) replay() error {
	ids, err := s.queue.List()
	if err != nil {
		return fmt.Errorf("unified store: queue replay: %w", err)
	}
	for _, id := range ids {
		slog.Info("replaying queued upload", "id", id)
		s.enqueue(id)
	}
	return nil
}

// Subscribe returns a channel carrying failure notes for deferred uploads.
// The channel is buffered; a slow subscriber drops notes rather than stalling
// the store. It closes on Shutdown. Subscribing to a store that is already
// shut down returns a closed channel.
func (s *Store) Subscribe() <-chan UploadFailure {
	ch := make(chan UploadFailure, 16)
	if s.isClosed() {
		close(ch)
		return ch
	}
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) notifyLoop() {
	defer s.notifyWG.Done()
	for f := range s.failures {
		s.subMu.Lock()
		for _, ch := range s.subs {
			select {
			case ch <- f:
			default:
				slog.Warn("failure note dropped, subscriber stalled", "id", f.ID)
			}
		}
		s.subMu.Unlock()
	}
	s.subMu.Lock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.subMu.Unlock()
}

// Store writes the payload durably to the queue and schedules the remote
// push. With WaitForRemote it instead blocks until the push resolves.
//
// Storing an identifier whose earlier push is still in flight is a no-op:
// the in-flight outcome governs. Storing an identifier whose earlier push
// failed retries it. An identifier already uploaded and cached fails with
// ErrAlreadyExists.
func (s *Store) Store(ctx context.Context, id string, data []byte, meta blobstore.Metadata) (err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "unified.store")
	defer func() { op.End(err) }()

	if s.isClosed() {
		return blobstore.ErrClosed
	}
	if s.isPending(id) {
		return nil
	}
	if _, metaErr := s.cache.MetadataNow(id); metaErr == nil {
		return fmt.Errorf("unified store %q: %w", id, blobstore.ErrAlreadyExists)
	}

	meta.Size = int64(len(data))
	err = s.queue.Store(ctx, id, data, meta)
	if errors.Is(err, blobstore.ErrAlreadyExists) {
		// Already queued from a failed push; this call is the retry.
		err = nil
	}
	if err != nil {
		return err
	}
	return s.handOff(ctx, id)
}

// StoreFile writes the contents of an existing file durably to the queue and
// schedules the remote push. The source file is left in place.
func (s *Store) StoreFile(ctx context.Context, id string, path string, meta blobstore.Metadata) (err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "unified.store_file")
	defer func() { op.End(err) }()

	if s.isClosed() {
		return blobstore.ErrClosed
	}
	if s.isPending(id) {
		return nil
	}
	if _, metaErr := s.cache.MetadataNow(id); metaErr == nil {
		return fmt.Errorf("unified store %q: %w", id, blobstore.ErrAlreadyExists)
	}

	err = s.queue.StoreFile(ctx, id, path, meta)
	if errors.Is(err, blobstore.ErrAlreadyExists) {
		err = nil
	}
	if err != nil {
		return err
	}
	return s.handOff(ctx, id)
}

// handOff routes a durably queued blob to the remote: inline when the store
// waits for the remote, on the worker pool otherwise.
func (s *Store) handOff(ctx context.Context, id string) error {
	if s.waitRemote {
		s.markPending(id)
		return s.push(ctx, id)
	}
	s.enqueue(id)
	return nil
}

// enqueue schedules a background push for id. Identifiers already in flight
// are not scheduled twice.
func (s *Store) enqueue(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, inFlight := s.pending[id]; inFlight {
		s.mu.Unlock()
		return
	}
	s.pending[id] = struct{}{}
	if s.metrics != nil {
		s.metrics.UploadQueueDepth.Inc()
	}
	s.pool.Go(func(ctx context.Context) error {
		_ = s.push(ctx, id)
		return nil
	})
	s.mu.Unlock()
}

func (s *Store) markPending(id string) {
	s.mu.Lock()
	if _, inFlight := s.pending[id]; !inFlight {
		s.pending[id] = struct{}{}
		if s.metrics != nil {
			s.metrics.UploadQueueDepth.Inc()
		}
	}
	s.mu.Unlock()
}

func (s *Store) clearPending(id string) {
	s.mu.Lock()
	if _, inFlight := s.pending[id]; inFlight {
		delete(s.pending, id)
		if s.metrics != nil {
			s.metrics.UploadQueueDepth.Dec()
		}
	}
	s.mu.Unlock()
}

func (s *Store) isPending(id string) bool {
	s.mu.Lock()
	_, inFlight := s.pending[id]
	s.mu.Unlock()
	return inFlight
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return closed
}

// push uploads a queued blob and, on success, moves it into the cache tier.
// The queued copy survives any failure so a later retry can pick it up.
func (s *Store) push(ctx context.Context, id string) error {
	defer s.clearPending(id)

	data, err := s.queue.DataNow(id)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			// Deleted while waiting its turn; nothing to push.
			return nil
		}
		s.reportFailure(id, err)
		return fmt.Errorf("push %q: %w", id, err)
	}
	meta, err := s.queue.MetadataNow(id)
	if err != nil {
		s.reportFailure(id, err)
		return fmt.Errorf("push %q: %w", id, err)
	}
	src, err := s.queue.LocationNow(id)
	if err != nil {
		s.reportFailure(id, err)
		return fmt.Errorf("push %q: %w", id, err)
	}

	err = s.uploader.Upload(ctx, id, data, meta, func(sent, total int64) {
		slog.Debug("upload progress", "id", id, "sent_bytes", sent, "total_bytes", total)
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// Deliberate abort, not a failure; the queued copy replays
			// on the next start.
			slog.Debug("upload aborted", "id", id)
			return nil
		}
		s.reportFailure(id, err)
		return fmt.Errorf("push %q: %w", id, err)
	}

	if err := s.cache.Adopt(id, src, meta); err != nil {
		s.reportFailure(id, err)
		return fmt.Errorf("push %q: %w", id, err)
	}
	if err := s.queue.Discard(id); err != nil {
		slog.Warn("queue cleanup failed after push", "id", id, "error", err)
	}

	slog.Info("blob pushed", "id", id, "size_bytes", meta.Size)
	return nil
}

// reportFailure counts the failure and, unless the caller is getting the
// error synchronously, emits a note on the failure channel.
func (s *Store) reportFailure(id string, err error) {
	if s.metrics != nil {
		s.metrics.UploadFailures.Inc()
	}
	slog.Error("deferred upload failed", "id", id, "error", err)
	if s.waitRemote {
		return
	}
	select {
	case s.failures <- UploadFailure{ID: id, Err: err}:
	default:
		slog.Warn("failure channel full, note dropped", "id", id)
	}
}

// Data returns the payload, trying the queue, then the cache, then the
// network.
func (s *Store) Data(ctx context.Context, id string) (data []byte, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "unified.data")
	defer func() { op.End(err) }()

	if s.isClosed() {
		return nil, blobstore.ErrClosed
	}
	data, err = s.queue.DataNow(id)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return nil, err
	}
	return s.cache.Data(ctx, id)
}

// DataNow returns the payload only if a local copy exists in either tier.
func (s *Store) DataNow(id string) ([]byte, error) {
	if s.isClosed() {
		return nil, blobstore.ErrClosed
	}
	data, err := s.queue.DataNow(id)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return nil, err
	}
	return s.cache.DataNow(id)
}

// Location returns a local path for the payload, downloading on a miss.
func (s *Store) Location(ctx context.Context, id string) (path string, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "unified.location")
	defer func() { op.End(err) }()

	if s.isClosed() {
		return "", blobstore.ErrClosed
	}
	path, err = s.queue.LocationNow(id)
	if err == nil {
		return path, nil
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return "", err
	}
	return s.cache.Location(ctx, id)
}

// LocationNow returns a local path only if a copy exists in either tier.
func (s *Store) LocationNow(id string) (string, error) {
	if s.isClosed() {
		return "", blobstore.ErrClosed
	}
	path, err := s.queue.LocationNow(id)
	if err == nil {
		return path, nil
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return "", err
	}
	return s.cache.LocationNow(id)
}

// Metadata resolves metadata from the queue, the cache, or a remote stat.
func (s *Store) Metadata(ctx context.Context, id string) (meta blobstore.Metadata, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "unified.metadata")
	defer func() { op.End(err) }()

	if s.isClosed() {
		return blobstore.Metadata{}, blobstore.ErrClosed
	}
	meta, err = s.queue.MetadataNow(id)
	if err == nil {
		return meta, nil
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return blobstore.Metadata{}, err
	}
	return s.cache.Metadata(ctx, id)
}

// MetadataNow resolves metadata only from local copies.
func (s *Store) MetadataNow(id string) (blobstore.Metadata, error) {
	if s.isClosed() {
		return blobstore.Metadata{}, blobstore.ErrClosed
	}
	meta, err := s.queue.MetadataNow(id)
	if err == nil {
		return meta, nil
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return blobstore.Metadata{}, err
	}
	return s.cache.MetadataNow(id)
}

// Delete removes local copies from both tiers. The default is tolerant: it
// succeeds when at least one tier held a copy and fails with ErrNotFound only
// when neither did. With StrictDelete any tier failure surfaces.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "unified.delete")
	defer func() { op.End(err) }()

	if s.isClosed() {
		return blobstore.ErrClosed
	}

	qErr := s.queue.Delete(ctx, id)
	cErr := s.cache.Delete(ctx, id)

	if s.strictDelete {
		if qErr != nil {
			return qErr
		}
		return cErr
	}

	qMissing := errors.Is(qErr, blobstore.ErrNotFound)
	cMissing := errors.Is(cErr, blobstore.ErrNotFound)
	switch {
	case qErr != nil && !qMissing:
		return qErr
	case cErr != nil && !cMissing:
		return cErr
	case qMissing && cMissing:
		return fmt.Errorf("unified delete %q: %w", id, blobstore.ErrNotFound)
	}
	return nil
}

// Retry schedules background pushes for queued identifiers. Identifiers
// already in flight are skipped.
func (s *Store) Retry(ids []string) {
	for _, id := range ids {
		s.enqueue(id)
	}
}

// Queued reports the identifiers still awaiting a remote push.
func (s *Store) Queued() ([]string, error) {
	if s.isClosed() {
		return nil, blobstore.ErrClosed
	}
	return s.queue.List()
}

// Shutdown stops the store. With immediate set, in-flight pushes are
// cancelled and their blobs stay queued for the next start; otherwise the
// queue drains first.
func (s *Store) Shutdown(immediate bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if immediate {
		s.cancel()
	}
	_ = s.pool.Wait()
	s.cancel()

	close(s.failures)
	s.notifyWG.Wait()

	cErr := s.cache.Shutdown(immediate)
	qErr := s.queue.Shutdown(immediate)
	return errors.Join(cErr, qErr)
}
