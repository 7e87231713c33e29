package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kashoo/filetoolkit/internal/blobstore"
	"github.com/kashoo/filetoolkit/internal/storage"
)

// Configuration keys for the HTTP backend.
const (
	KeyBaseURL = "base_url"
	KeyTimeout = "timeout"
)

// HeaderFileLength carries the payload size on servers that gzip their
// bodies; falls back to Content-Length when absent.
const HeaderFileLength = "File-Length"

const multipartField = "file"

func init() {
	Register("http", NewHTTPFactory, HTTPDefaults)
}

// HTTPDefaults returns the default configuration for the HTTP backend.
func HTTPDefaults() map[string]string {
	return map[string]string{
		KeyBaseURL: "",
		KeyTimeout: "30s",
	}
}

// NewHTTPFactory creates an HTTP backend from a configuration map.
func NewHTTPFactory(_ context.Context, config map[string]string) (Remote, error) {
	base := storage.GetString(config, KeyBaseURL, "")
	if base == "" {
		return nil, storage.NewConfigError("http", KeyBaseURL, "cannot be empty")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, storage.NewConfigErrorWithValue("http", KeyBaseURL, base, "must be an absolute URL")
	}

	timeout, err := storage.GetDuration(config, KeyTimeout, 30*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("http", KeyTimeout, config[KeyTimeout], "must be a duration")
	}

	slog.Debug("http remote initialized", "base_url", base, "timeout", timeout)
	return NewHTTPClient(base, &http.Client{Timeout: timeout}), nil
}

// HTTPClient is the HTTP implementation of Remote. Objects live at
// baseURL/{id}: multipart POST to store, GET to fetch, HEAD for metadata.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

var _ Remote = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient against baseURL. A nil client uses
// http.DefaultClient.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (c *HTTPClient) objectURL(id string) string {
	return c.baseURL + "/" + url.PathEscape(id)
}

// Upload pushes the payload as a multipart form with a single "file" field.
func (c *HTTPClient) Upload(ctx context.Context, id string, data []byte, meta blobstore.Metadata) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, multipartField, meta.Filename))
	hdr.Set("Content-Type", meta.MIMEType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return fmt.Errorf("http upload %q: %w", id, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("http upload %q: %w", id, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("http upload %q: %w", id, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL(id), &body)
	if err != nil {
		return fmt.Errorf("http upload %q: %w", id, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http upload %q: %w", id, err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("http upload %q: %w", id, blobstore.ErrAlreadyExists)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("http upload %q: unexpected status %s", id, resp.Status)
	}

	slog.DebugContext(ctx, "blob uploaded", "id", id, "size_bytes", len(data))
	return nil
}

// Download fetches the payload into w. Filename and MIME type are required
// response headers; size is taken from the bytes actually transferred.
func (c *HTTPClient) Download(ctx context.Context, id string, w io.Writer) (blobstore.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(id), nil)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("http download %q: %w", id, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("http download %q: %w", id, err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return blobstore.Metadata{}, fmt.Errorf("http download %q: %w", id, blobstore.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return blobstore.Metadata{}, fmt.Errorf("http download %q: unexpected status %s", id, resp.Status)
	}

	meta, err := parseHeaderMetadata(resp.Header, false)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("http download %q: %w", id, err)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("http download %q: %w", id, err)
	}
	meta.Size = n

	slog.DebugContext(ctx, "blob downloaded", "id", id, "size_bytes", n)
	return meta, nil
}

// Stat resolves metadata with a HEAD request. All three header-borne fields
// are required; a missing or malformed one is a protocol failure.
func (c *HTTPClient) Stat(ctx context.Context, id string) (blobstore.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.objectURL(id), nil)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("http stat %q: %w", id, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("http stat %q: %w", id, err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return blobstore.Metadata{}, fmt.Errorf("http stat %q: %w", id, blobstore.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return blobstore.Metadata{}, fmt.Errorf("http stat %q: unexpected status %s", id, resp.Status)
	}

	meta, err := parseHeaderMetadata(resp.Header, true)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("http stat %q: %w", id, err)
	}
	return meta, nil
}

// parseHeaderMetadata extracts blob metadata from response headers. When
// sizeRequired is false the caller supplies the size from the transfer
// itself.
func parseHeaderMetadata(h http.Header, sizeRequired bool) (blobstore.Metadata, error) {
	var meta blobstore.Metadata

	sizeStr := h.Get(HeaderFileLength)
	if sizeStr == "" {
		sizeStr = h.Get("Content-Length")
	}
	if sizeStr != "" {
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil || size < 0 {
			return blobstore.Metadata{}, fmt.Errorf("%w: bad size %q", blobstore.ErrBadMetadata, sizeStr)
		}
		meta.Size = size
	} else if sizeRequired {
		return blobstore.Metadata{}, fmt.Errorf("%w: missing size header", blobstore.ErrBadMetadata)
	}

	meta.MIMEType = h.Get("Content-Type")
	if meta.MIMEType == "" {
		return blobstore.Metadata{}, fmt.Errorf("%w: missing Content-Type", blobstore.ErrBadMetadata)
	}

	disposition := h.Get("Content-Disposition")
	if disposition == "" {
		return blobstore.Metadata{}, fmt.Errorf("%w: missing Content-Disposition", blobstore.ErrBadMetadata)
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("%w: bad Content-Disposition: %v", blobstore.ErrBadMetadata, err)
	}
	meta.Filename = params["filename"]
	if meta.Filename == "" {
		return blobstore.Metadata{}, fmt.Errorf("%w: Content-Disposition lacks filename", blobstore.ErrBadMetadata)
	}

	return meta, nil
}

// drain consumes and closes a response body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
