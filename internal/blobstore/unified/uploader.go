package unified

import (
	"context"

	"github.com/kashoo/filetoolkit/internal/blobstore"
	"github.com/kashoo/filetoolkit/internal/blobstore/remote"
)

// Uploader pushes a payload to its remote destination. It is the seam for a
// chunked/resumable upload client: the store only needs terminal success or
// failure, plus optional transfer progress.
type Uploader interface {
	Upload(ctx context.Context, id string, data []byte, meta blobstore.Metadata, progress func(sent, total int64)) error
}

// remoteUploader is the default Uploader: a single-shot push through the
// remote store, reporting whole-payload progress on completion.
type remoteUploader struct {
	rem remote.Remote
}

func (u remoteUploader) Upload(ctx context.Context, id string, data []byte, meta blobstore.Metadata, progress func(sent, total int64)) error {
	if err := u.rem.Upload(ctx, id, data, meta); err != nil {
		return err
	}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)))
	}
	return nil
}
