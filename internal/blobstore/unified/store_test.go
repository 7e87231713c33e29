package unified

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kashoo/filetoolkit/internal/blobstore"
	"github.com/kashoo/filetoolkit/internal/blobstore/cache"
	"github.com/kashoo/filetoolkit/internal/blobstore/remote"
	"github.com/kashoo/filetoolkit/internal/observability"
)

// countingRemote wraps a Remote and counts downloads.
type countingRemote struct {
	remote.Remote
	mu        sync.Mutex
	downloads int
}

func (c *countingRemote) Download(ctx context.Context, id string, w io.Writer) (blobstore.Metadata, error) {
	c.mu.Lock()
	c.downloads++
	c.mu.Unlock()
	return c.Remote.Download(ctx, id, w)
}

func (c *countingRemote) downloadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downloads
}

// flakyUploader fails the first n uploads, then delegates to the remote.
type flakyUploader struct {
	rem      remote.Remote
	mu       sync.Mutex
	failures int
}

func (u *flakyUploader) Upload(ctx context.Context, id string, data []byte, meta blobstore.Metadata, progress func(sent, total int64)) error {
	u.mu.Lock()
	if u.failures > 0 {
		u.failures--
		u.mu.Unlock()
		return fmt.Errorf("transient network failure")
	}
	u.mu.Unlock()
	return u.rem.Upload(ctx, id, data, meta)
}

// gatedUploader blocks every upload until the gate opens, counting the
// uploads that make it through. started signals each upload entering.
type gatedUploader struct {
	rem     remote.Remote
	gate    chan struct{}
	started chan struct{}
	mu      sync.Mutex
	uploads int
}

func newGatedUploader(rem remote.Remote) *gatedUploader {
	return &gatedUploader{rem: rem, gate: make(chan struct{}), started: make(chan struct{}, 4)}
}

func (u *gatedUploader) Upload(ctx context.Context, id string, data []byte, meta blobstore.Metadata, progress func(sent, total int64)) error {
	select {
	case u.started <- struct{}{}:
	default:
	}
	select {
	case <-u.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	u.mu.Lock()
	u.uploads++
	u.mu.Unlock()
	return u.rem.Upload(ctx, id, data, meta)
}

func (u *gatedUploader) uploadCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uploads
}

type fixture struct {
	store  *Store
	cache  *cache.Store
	remote *countingRemote
	dir    string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureAt(t, t.TempDir(), remote.NewMemory(), opts...)
}

func newFixtureAt(t *testing.T, dir string, rem remote.Remote, opts ...Option) *fixture {
	t.Helper()

	counting := &countingRemote{Remote: rem}
	cs, err := cache.New(counting, filepath.Join(dir, "cache"), cache.Config{}, observability.NewMetrics())
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}

	us, err := New(filepath.Join(dir, "queue"), cs, observability.NewMetrics(), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = us.Shutdown(true) })

	return &fixture{store: us, cache: cs, remote: counting, dir: dir}
}

func waitDrain(t *testing.T, s *Store) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		queued, err := s.Queued()
		if err != nil {
			t.Fatalf("Queued failed: %v", err)
		}
		if len(queued) == 0 && !s.anyPending() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queue did not drain")
}

func (s *Store) anyPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

func testMeta(name string) blobstore.Metadata {
	return blobstore.Metadata{Filename: name, MIMEType: "application/octet-stream"}
}

func TestStoreReadYourWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	data := []byte("written just now")
	if err := f.store.Store(ctx, "blob-1", data, testMeta("b.bin")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// The payload is readable immediately, before any push completes.
	got, err := f.store.DataNow("blob-1")
	if err != nil {
		t.Fatalf("DataNow failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("DataNow returned %q, want %q", got, data)
	}

	meta, err := f.store.MetadataNow("blob-1")
	if err != nil {
		t.Fatalf("MetadataNow failed: %v", err)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(data))
	}
}

func TestBackgroundPushLandsInCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	data := []byte("push me")
	if err := f.store.Store(ctx, "blob-1", data, testMeta("p.bin")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	waitDrain(t, f.store)

	// Uploaded, out of the queue, and adopted into the cache without a
	// redundant download.
	got, err := f.cache.DataNow("blob-1")
	if err != nil {
		t.Fatalf("cache DataNow after push: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("cached data mismatch")
	}
	if n := f.remote.downloadCount(); n != 0 {
		t.Errorf("push triggered %d downloads, want 0", n)
	}

	queued, _ := f.store.Queued()
	if len(queued) != 0 {
		t.Errorf("queue not empty after push: %v", queued)
	}
}

func TestWaitForRemote(t *testing.T) {
	f := newFixture(t, WaitForRemote())
	ctx := context.Background()

	data := []byte("synchronous")
	if err := f.store.Store(ctx, "blob-1", data, testMeta("s.bin")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Push already resolved; the blob is cached and the queue empty.
	if _, err := f.cache.DataNow("blob-1"); err != nil {
		t.Fatalf("cache DataNow: %v", err)
	}
	queued, _ := f.store.Queued()
	if len(queued) != 0 {
		t.Errorf("queue not empty: %v", queued)
	}
}

func TestWaitForRemoteSurfacesFailure(t *testing.T) {
	rem := remote.NewMemory()
	dir := t.TempDir()
	f := newFixtureAt(t, dir, rem, WaitForRemote())
	f.store.uploader = &flakyUploader{rem: rem, failures: 1}
	ctx := context.Background()

	err := f.store.Store(ctx, "blob-1", []byte("doomed"), testMeta("d.bin"))
	if err == nil {
		t.Fatal("Store succeeded despite upload failure")
	}

	// Durable despite the failed push.
	if _, err := f.store.DataNow("blob-1"); err != nil {
		t.Errorf("blob not durable after failed push: %v", err)
	}
	queued, _ := f.store.Queued()
	if len(queued) != 1 {
		t.Errorf("queue = %v, want the failed blob", queued)
	}
}

func TestStoreAlreadyUploaded(t *testing.T) {
	f := newFixture(t, WaitForRemote())
	ctx := context.Background()

	if err := f.store.Store(ctx, "blob-1", []byte("first"), testMeta("f.bin")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	err := f.store.Store(ctx, "blob-1", []byte("second"), testMeta("f.bin"))
	if !errors.Is(err, blobstore.ErrAlreadyExists) {
		t.Errorf("re-store of uploaded blob: got %v, want ErrAlreadyExists", err)
	}
}

func TestStoreRetriesFailedUpload(t *testing.T) {
	rem := remote.NewMemory()
	f := newFixtureAt(t, t.TempDir(), rem)
	flaky := &flakyUploader{rem: rem, failures: 1}
	f.store.uploader = flaky
	ctx := context.Background()

	data := []byte("try again")
	if err := f.store.Store(ctx, "blob-1", data, testMeta("r.bin")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// First push fails and the blob stays queued.
	failures := f.store.Subscribe()
	deadline := time.After(3 * time.Second)
	for {
		queued, _ := f.store.Queued()
		if len(queued) == 1 && !f.store.anyPending() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("blob did not settle back into the queue")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Storing the same identifier again is the retry trigger.
	if err := f.store.Store(ctx, "blob-1", data, testMeta("r.bin")); err != nil {
		t.Fatalf("retry Store failed: %v", err)
	}
	waitDrain(t, f.store)

	if _, err := f.cache.DataNow("blob-1"); err != nil {
		t.Errorf("blob not cached after retry: %v", err)
	}
	select {
	case <-failures:
	default:
	}
}

func TestFailureNotification(t *testing.T) {
	rem := remote.NewMemory()
	f := newFixtureAt(t, t.TempDir(), rem)
	f.store.uploader = &flakyUploader{rem: rem, failures: 1}
	failures := f.store.Subscribe()
	ctx := context.Background()

	if err := f.store.Store(ctx, "blob-1", []byte("will fail once"), testMeta("w.bin")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	select {
	case note := <-failures:
		if note.ID != "blob-1" {
			t.Errorf("failure note for %q, want %q", note.ID, "blob-1")
		}
		if note.Err == nil {
			t.Error("failure note lacks an error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no failure note delivered")
	}
}

func TestReplayOnStartup(t *testing.T) {
	dir := t.TempDir()
	rem := remote.NewMemory()
	ctx := context.Background()

	// First run: the upload fails, the blob stays queued, the process exits.
	f1 := newFixtureAt(t, dir, rem)
	f1.store.uploader = &flakyUploader{rem: rem, failures: 100}
	data := []byte("survives restart")
	if err := f1.store.Store(ctx, "blob-1", data, testMeta("sr.bin")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	deadline := time.After(3 * time.Second)
	for f1.store.anyPending() {
		select {
		case <-deadline:
			t.Fatal("push did not settle")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := f1.store.Shutdown(true); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// Second run replays the queue and the push succeeds.
	f2 := newFixtureAt(t, dir, rem)
	waitDrain(t, f2.store)

	var buf bytes.Buffer
	if _, err := rem.Download(ctx, "blob-1", &buf); err != nil {
		t.Fatalf("remote lacks replayed blob: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Errorf("replayed data mismatch")
	}
}

func TestStoreFile(t *testing.T) {
	f := newFixture(t, WaitForRemote())
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "src.bin")
	data := []byte("from a file")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := f.store.StoreFile(ctx, "blob-1", src, testMeta("src.bin")); err != nil {
		t.Fatalf("StoreFile failed: %v", err)
	}

	got, err := f.cache.DataNow("blob-1")
	if err != nil {
		t.Fatalf("cache DataNow: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("cached data mismatch")
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source file gone: %v", err)
	}
}

func TestDataFallsThroughTiers(t *testing.T) {
	f := newFixture(t, WaitForRemote())
	ctx := context.Background()

	data := []byte("tiered read")
	if err := f.store.Store(ctx, "blob-1", data, testMeta("t.bin")); err != nil {
		t.Fatal(err)
	}

	// Drop the cached copy; the read falls through to the network.
	if err := f.cache.Delete(ctx, "blob-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.DataNow("blob-1"); !errors.Is(err, blobstore.ErrNotCached) {
		t.Errorf("DataNow after cache drop: got %v, want ErrNotCached", err)
	}

	got, err := f.store.Data(ctx, "blob-1")
	if err != nil {
		t.Fatalf("Data failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Data returned %q, want %q", got, data)
	}
	if n := f.remote.downloadCount(); n != 1 {
		t.Errorf("downloads = %d, want 1", n)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t, WaitForRemote())
	ctx := context.Background()

	if err := f.store.Store(ctx, "blob-1", []byte("x"), testMeta("x.bin")); err != nil {
		t.Fatal(err)
	}

	// Cached copy only; tolerant delete succeeds.
	if err := f.store.Delete(ctx, "blob-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Nothing local anywhere.
	if err := f.store.Delete(ctx, "blob-1"); !errors.Is(err, blobstore.ErrNotFound) {
		t.Errorf("second Delete: got %v, want ErrNotFound", err)
	}

	// The remote copy is untouched.
	var buf bytes.Buffer
	if _, err := f.remote.Download(ctx, "blob-1", &buf); err != nil {
		t.Errorf("remote copy gone after local delete: %v", err)
	}
}

func TestMetadataFallsBackToRemote(t *testing.T) {
	f := newFixture(t, WaitForRemote())
	ctx := context.Background()

	data := []byte("meta fallthrough")
	if err := f.store.Store(ctx, "blob-1", data, testMeta("m.bin")); err != nil {
		t.Fatal(err)
	}
	if err := f.cache.Delete(ctx, "blob-1"); err != nil {
		t.Fatal(err)
	}

	meta, err := f.store.Metadata(ctx, "blob-1")
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(data))
	}
	// Stat fallback does not fill the cache.
	if n := f.remote.downloadCount(); n != 0 {
		t.Errorf("Metadata triggered %d downloads, want 0", n)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	f := newFixture(t)

	if err := f.store.Shutdown(false); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := f.store.Shutdown(false); err != nil {
		t.Errorf("second Shutdown failed: %v", err)
	}
	if err := f.store.Store(context.Background(), "x", []byte("x"), testMeta("x")); !errors.Is(err, blobstore.ErrClosed) {
		t.Errorf("Store after shutdown: got %v, want ErrClosed", err)
	}
}

func TestConcurrentStoreSingleUpload(t *testing.T) {
	rem := remote.NewMemory()
	f := newFixtureAt(t, t.TempDir(), rem)
	gated := newGatedUploader(rem)
	f.store.uploader = gated
	ctx := context.Background()

	// Two racing Store calls for one identifier: both succeed, but only
	// one push may reach the remote.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.store.Store(ctx, "blob-1", []byte("stored twice"), testMeta("c.bin"))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Store %d failed: %v", i, err)
		}
	}

	close(gated.gate)
	waitDrain(t, f.store)

	if n := gated.uploadCount(); n != 1 {
		t.Errorf("uploads = %d, want exactly 1", n)
	}
	if _, err := f.cache.DataNow("blob-1"); err != nil {
		t.Errorf("blob not cached after push: %v", err)
	}
}

func TestImmediateShutdownKeepsQueuedCopy(t *testing.T) {
	rem := remote.NewMemory()
	dir := t.TempDir()
	f := newFixtureAt(t, dir, rem)
	gated := newGatedUploader(rem) // the gate never opens; the push blocks until cancelled
	f.store.uploader = gated
	failures := f.store.Subscribe()
	ctx := context.Background()

	if err := f.store.Store(ctx, "blob-1", []byte("mid flight"), testMeta("m.bin")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	select {
	case <-gated.started:
	case <-time.After(3 * time.Second):
		t.Fatal("push never started")
	}

	if err := f.store.Shutdown(true); err != nil {
		t.Fatalf("immediate Shutdown returned %v, want nil", err)
	}

	// A cancelled push is an abort, not a failure: the channel closes
	// without a note.
	select {
	case note, ok := <-failures:
		if ok {
			t.Errorf("unexpected failure note: %+v", note)
		}
	default:
		t.Error("failure channel not closed after shutdown")
	}

	// The queued copy survives for the next start.
	if _, err := os.Stat(filepath.Join(dir, "queue", "blob-1")); err != nil {
		t.Errorf("queued copy gone after immediate shutdown: %v", err)
	}
	if rem.Len() != 0 {
		t.Errorf("remote holds %d blobs, want 0", rem.Len())
	}
}

func TestSubscribeAfterShutdown(t *testing.T) {
	f := newFixture(t)
	if err := f.store.Shutdown(false); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	ch := f.store.Subscribe()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected note from post-shutdown subscription")
		}
	default:
		t.Error("post-shutdown subscription channel not closed")
	}
}

func TestNilMetrics(t *testing.T) {
	rem := remote.NewMemory()
	dir := t.TempDir()

	cs, err := cache.New(rem, filepath.Join(dir, "cache"), cache.Config{}, nil)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	s, err := New(filepath.Join(dir, "queue"), cs, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(true) })

	if err := s.Store(context.Background(), "blob-1", []byte("uncounted"), testMeta("u.bin")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	waitDrain(t, s)

	if _, err := cs.DataNow("blob-1"); err != nil {
		t.Errorf("blob not cached: %v", err)
	}
}

func TestGracefulShutdownDrainsQueue(t *testing.T) {
	dir := t.TempDir()
	rem := remote.NewMemory()
	f := newFixtureAt(t, dir, rem)
	ctx := context.Background()

	data := []byte("drained on exit")
	if err := f.store.Store(ctx, "blob-1", data, testMeta("d.bin")); err != nil {
		t.Fatal(err)
	}

	if err := f.store.Shutdown(false); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	var buf bytes.Buffer
	if _, err := rem.Download(ctx, "blob-1", &buf); err != nil {
		t.Errorf("blob not pushed before graceful shutdown: %v", err)
	}
}
