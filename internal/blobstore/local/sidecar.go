package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// sidecar is the metadata record kept alongside each data file. It lives in
// its own file so it survives truncation of the data file and can be
// rewritten atomically without touching the payload.
type sidecar struct {
	Filename   string `json:"filename"`
	MIMEType   string `json:"mime_type"`
	LastAccess int64  `json:"last_access,omitempty"` // unix nanoseconds
}

func (s *Store) readSidecar(id string) (sidecar, error) {
	raw, err := os.ReadFile(s.sidecarPath(id))
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sidecar{}, fmt.Errorf("decode sidecar: %w", err)
	}
	return sc, nil
}

// writeSidecar persists the record using temp-file + atomic rename, so a
// sidecar is never observable half-written.
func (s *Store) writeSidecar(id string, sc sidecar) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("sidecar temp: %w", err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(raw)
	closeErr := tmp.Close()
	if writeErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("sidecar write: %w", writeErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("sidecar write: %w", closeErr)
	}

	if err := os.Chmod(tmpName, s.filePerms); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("sidecar write: %w", err)
	}

	if err := os.Rename(tmpName, s.sidecarPath(id)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("sidecar write: %w", err)
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
