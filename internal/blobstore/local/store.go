// Package local provides a durable disk-backed blob store. Each blob is one
// file in a flat root directory, named by its identifier, with a sidecar
// metadata record next to it.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kashoo/filetoolkit/internal/blobstore"
)

const sidecarSuffix = ".meta"

// Option configures a Store.
type Option func(*Store)

// WithAccessTimes enables last-access stamping on stored blobs. Only the
// cache tier wants this; the write-ahead tier never evicts and keeps its
// sidecars stamp-free.
func WithAccessTimes() Option {
	return func(s *Store) { s.accessTimes = true }
}

// WithPermissions sets directory and file permissions for created entries.
func WithPermissions(dir, file os.FileMode) Option {
	return func(s *Store) {
		s.dirPerms = dir
		s.filePerms = file
	}
}

// Store is a disk-backed blob store. The root directory is exclusively owned
// by one Store instance; no cross-process coordination is provided.
type Store struct {
	root        string
	dirPerms    os.FileMode
	filePerms   os.FileMode
	accessTimes bool
	closed      atomic.Bool
}

var _ blobstore.Store = (*Store)(nil)

// New creates a Store rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		root:      filepath.Clean(dir),
		dirPerms:  0o700,
		filePerms: 0o600,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.root, s.dirPerms); err != nil {
		return nil, fmt.Errorf("local store: create root: %w", err)
	}

	slog.Debug("local store initialized", "root", s.root, "access_times", s.accessTimes)
	return s, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) dataPath(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) sidecarPath(id string) string {
	return filepath.Join(s.root, id+sidecarSuffix)
}

// checkID guards the invariants the flat layout depends on. Identifiers are
// otherwise opaque; path hygiene is the caller's responsibility.
func checkID(id string) error {
	if id == "" {
		return errors.New("empty blob identifier")
	}
	if strings.HasSuffix(id, sidecarSuffix) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("identifier %q collides with store bookkeeping", id)
	}
	return nil
}

// Store persists a payload under id with a create-exclusive write. A blob
// already present under id fails with ErrAlreadyExists and is left untouched.
func (s *Store) Store(_ context.Context, id string, data []byte, meta blobstore.Metadata) error {
	if s.closed.Load() {
		return blobstore.ErrClosed
	}
	if err := checkID(id); err != nil {
		return err
	}

	f, err := os.OpenFile(s.dataPath(id), os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.filePerms)
	if err != nil {
		if isExist(err) {
			return fmt.Errorf("local store %q: %w", id, blobstore.ErrAlreadyExists)
		}
		return fmt.Errorf("local store %q: %w", id, err)
	}

	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr == nil {
		writeErr = s.commitSidecar(id, meta)
	}
	if writeErr != nil {
		_ = os.Remove(s.dataPath(id))
		return fmt.Errorf("local store %q: %w", id, writeErr)
	}
	return nil
}

// StoreFile persists the contents of an existing file under id. The source
// file is left in place.
func (s *Store) StoreFile(_ context.Context, id string, path string, meta blobstore.Metadata) error {
	if s.closed.Load() {
		return blobstore.ErrClosed
	}
	if err := checkID(id); err != nil {
		return err
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("local store %q: open source: %w", id, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(s.dataPath(id), os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.filePerms)
	if err != nil {
		if isExist(err) {
			return fmt.Errorf("local store %q: %w", id, blobstore.ErrAlreadyExists)
		}
		return fmt.Errorf("local store %q: %w", id, err)
	}

	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil {
		copyErr = s.commitSidecar(id, meta)
	}
	if copyErr != nil {
		_ = os.Remove(s.dataPath(id))
		return fmt.Errorf("local store %q: %w", id, copyErr)
	}
	return nil
}

func (s *Store) commitSidecar(id string, meta blobstore.Metadata) error {
	sc := sidecar{Filename: meta.Filename, MIMEType: meta.MIMEType}
	if s.accessTimes {
		sc.LastAccess = time.Now().UnixNano()
	}
	return s.writeSidecar(id, sc)
}

// Ingest moves an existing file into the store under id, replacing any
// partial or prior entry, and records its metadata. The rename keeps a
// half-transferred blob from ever being observable as present.
func (s *Store) Ingest(id string, srcPath string, meta blobstore.Metadata) error {
	if s.closed.Load() {
		return blobstore.ErrClosed
	}
	if err := checkID(id); err != nil {
		return err
	}

	if err := os.Rename(srcPath, s.dataPath(id)); err != nil {
		return fmt.Errorf("local ingest %q: %w", id, err)
	}
	if err := s.commitSidecar(id, meta); err != nil {
		_ = os.Remove(s.dataPath(id))
		return fmt.Errorf("local ingest %q: %w", id, err)
	}
	return nil
}

// TempFile creates a dot-prefixed scratch file inside the store root, on the
// same filesystem so Ingest can rename it into place.
func (s *Store) TempFile() (*os.File, error) {
	if s.closed.Load() {
		return nil, blobstore.ErrClosed
	}
	f, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("local temp: %w", err)
	}
	return f, nil
}

// Data returns the payload for id. A data file whose sidecar is missing or
// unreadable counts as absent; partial writes heal into not-found.
func (s *Store) Data(_ context.Context, id string) ([]byte, error) {
	return s.DataNow(id)
}

// DataNow returns the payload for id. Local stores answer instantly.
func (s *Store) DataNow(id string) ([]byte, error) {
	if s.closed.Load() {
		return nil, blobstore.ErrClosed
	}
	if err := checkID(id); err != nil {
		return nil, err
	}

	if _, err := s.readSidecar(id); err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("local data %q: %w", id, blobstore.ErrNotFound)
		}
		return nil, fmt.Errorf("local data %q: %w", id, err)
	}

	data, err := os.ReadFile(s.dataPath(id))
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("local data %q: %w", id, blobstore.ErrNotFound)
		}
		return nil, fmt.Errorf("local data %q: %w", id, err)
	}
	return data, nil
}

// Location returns the on-disk path for id.
func (s *Store) Location(_ context.Context, id string) (string, error) {
	return s.LocationNow(id)
}

// LocationNow returns the on-disk path for id if the blob is present.
func (s *Store) LocationNow(id string) (string, error) {
	if _, err := s.MetadataNow(id); err != nil {
		return "", err
	}
	return s.dataPath(id), nil
}

// Metadata returns size, filename, and MIME type for id.
func (s *Store) Metadata(_ context.Context, id string) (blobstore.Metadata, error) {
	return s.MetadataNow(id)
}

// MetadataNow resolves metadata from the filesystem plus the sidecar record.
// Both must be intact or the blob is treated as nonexistent.
func (s *Store) MetadataNow(id string) (blobstore.Metadata, error) {
	if s.closed.Load() {
		return blobstore.Metadata{}, blobstore.ErrClosed
	}
	if err := checkID(id); err != nil {
		return blobstore.Metadata{}, err
	}

	info, err := os.Stat(s.dataPath(id))
	if err != nil {
		if isNotExist(err) {
			return blobstore.Metadata{}, fmt.Errorf("local metadata %q: %w", id, blobstore.ErrNotFound)
		}
		return blobstore.Metadata{}, fmt.Errorf("local metadata %q: %w", id, err)
	}

	sc, err := s.readSidecar(id)
	if err != nil {
		if isNotExist(err) {
			return blobstore.Metadata{}, fmt.Errorf("local metadata %q: %w", id, blobstore.ErrNotFound)
		}
		return blobstore.Metadata{}, fmt.Errorf("local metadata %q: %w", id, err)
	}

	return blobstore.Metadata{
		Size:     info.Size(),
		Filename: sc.Filename,
		MIMEType: sc.MIMEType,
	}, nil
}

// Touch stamps the blob's last-access time. A no-op for stores without
// access-time tracking.
func (s *Store) Touch(id string) error {
	if !s.accessTimes {
		return nil
	}
	if s.closed.Load() {
		return blobstore.ErrClosed
	}

	sc, err := s.readSidecar(id)
	if err != nil {
		if isNotExist(err) {
			return fmt.Errorf("local touch %q: %w", id, blobstore.ErrNotFound)
		}
		return fmt.Errorf("local touch %q: %w", id, err)
	}
	sc.LastAccess = time.Now().UnixNano()
	if err := s.writeSidecar(id, sc); err != nil {
		return fmt.Errorf("local touch %q: %w", id, err)
	}
	return nil
}

// LastAccess returns the blob's last-access stamp. The zero time means the
// blob was never stamped.
func (s *Store) LastAccess(id string) (time.Time, error) {
	sc, err := s.readSidecar(id)
	if err != nil {
		if isNotExist(err) {
			return time.Time{}, fmt.Errorf("local access %q: %w", id, blobstore.ErrNotFound)
		}
		return time.Time{}, fmt.Errorf("local access %q: %w", id, err)
	}
	if sc.LastAccess == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, sc.LastAccess), nil
}

// Delete removes the blob and its sidecar. Fails with ErrNotFound if no data
// file exists under id.
func (s *Store) Delete(_ context.Context, id string) error {
	if s.closed.Load() {
		return blobstore.ErrClosed
	}
	if err := checkID(id); err != nil {
		return err
	}

	if err := os.Remove(s.dataPath(id)); err != nil {
		if isNotExist(err) {
			return fmt.Errorf("local delete %q: %w", id, blobstore.ErrNotFound)
		}
		return fmt.Errorf("local delete %q: %w", id, err)
	}
	if err := os.Remove(s.sidecarPath(id)); err != nil && !isNotExist(err) {
		return fmt.Errorf("local delete %q: %w", id, err)
	}
	return nil
}

// Discard removes the blob and its sidecar, tolerating absence of either.
// Used for housekeeping (queue drain, eviction) where idempotence matters
// more than existence reporting.
func (s *Store) Discard(id string) error {
	if s.closed.Load() {
		return blobstore.ErrClosed
	}
	if err := checkID(id); err != nil {
		return err
	}

	if err := os.Remove(s.dataPath(id)); err != nil && !isNotExist(err) {
		return fmt.Errorf("local discard %q: %w", id, err)
	}
	if err := os.Remove(s.sidecarPath(id)); err != nil && !isNotExist(err) {
		return fmt.Errorf("local discard %q: %w", id, err)
	}
	return nil
}

// List enumerates the identifiers currently present, skipping sidecars and
// scratch files.
func (s *Store) List() ([]string, error) {
	if s.closed.Load() {
		return nil, blobstore.ErrClosed
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("local list: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, sidecarSuffix) {
			continue
		}
		ids = append(ids, name)
	}
	return ids, nil
}

// Stat reports the data file's size without requiring an intact sidecar.
func (s *Store) Stat(id string) (fs.FileInfo, error) {
	info, err := os.Stat(s.dataPath(id))
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("local stat %q: %w", id, blobstore.ErrNotFound)
		}
		return nil, fmt.Errorf("local stat %q: %w", id, err)
	}
	return info, nil
}

// Shutdown marks the store closed. Local stores hold no background resources.
func (s *Store) Shutdown(_ bool) error {
	s.closed.Store(true)
	return nil
}

func isExist(err error) bool {
	return errors.Is(err, fs.ErrExist)
}
