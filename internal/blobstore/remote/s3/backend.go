// Package s3 provides an S3-backed implementation of the remote blob store
// contract. Blob filename metadata rides in object metadata; MIME type and
// size use the native object attributes.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kashoo/filetoolkit/internal/blobstore"
	"github.com/kashoo/filetoolkit/internal/blobstore/remote"
	"github.com/kashoo/filetoolkit/internal/storage"
)

// Configuration keys for the S3 backend.
const (
	KeyBucket          = "bucket"
	KeyRegion          = "region"
	KeyEndpoint        = "endpoint"
	KeyPrefix          = "prefix"
	KeyAccessKeyID     = "access_key_id"
	KeySecretAccessKey = "secret_access_key"
	KeyForcePathStyle  = "force_path_style"
)

const metaFilename = "filename"

func init() {
	remote.Register("s3", NewFactory, Defaults)
}

// Defaults returns the default configuration for the S3 backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyRegion:          "us-east-1",
		KeyEndpoint:        "",
		KeyPrefix:          "",
		KeyAccessKeyID:     "",
		KeySecretAccessKey: "",
		KeyForcePathStyle:  "false",
	}
}

// NewFactory creates an S3 backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (remote.Remote, error) {
	bucket := storage.GetString(config, KeyBucket, "")
	if bucket == "" {
		return nil, storage.NewConfigError("s3", KeyBucket, "cannot be empty")
	}

	region := storage.GetString(config, KeyRegion, "us-east-1")
	endpoint := storage.GetString(config, KeyEndpoint, "")
	prefix := storage.GetString(config, KeyPrefix, "")
	accessKeyID := storage.GetString(config, KeyAccessKeyID, "")
	secretAccessKey := storage.GetString(config, KeySecretAccessKey, "")

	forcePathStyle, err := storage.GetBool(config, KeyForcePathStyle, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("s3", KeyForcePathStyle, config[KeyForcePathStyle], err.Error())
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))

	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", "", "failed to load AWS config", err)
	}

	var s3Opts []func(*s3.Options)
	if endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if forcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3Opts...)

	// Fail fast: verify bucket access.
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", KeyBucket, "bucket not accessible", err)
	}

	slog.Info("s3 remote initialized", "bucket", bucket, "region", region, "prefix", prefix)

	return &Backend{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Backend is an S3 implementation of remote.Remote.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ remote.Remote = (*Backend)(nil)

func (b *Backend) key(id string) string {
	return b.prefix + id
}

// Upload stores the payload at the prefixed key. An object already present
// under the key fails the write-once contract.
func (b *Backend) Upload(ctx context.Context, id string, data []byte, meta blobstore.Metadata) error {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err == nil {
		return fmt.Errorf("s3 upload %q: %w", id, blobstore.ErrAlreadyExists)
	}
	if !isNotFound(err) {
		return fmt.Errorf("s3 upload %q: %w", id, err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(meta.MIMEType),
		Metadata:    map[string]string{metaFilename: meta.Filename},
	})
	if err != nil {
		return fmt.Errorf("s3 upload %q: %w", id, err)
	}
	return nil
}

// Download streams the object body into w and derives metadata from the
// object attributes.
func (b *Backend) Download(ctx context.Context, id string, w io.Writer) (blobstore.Metadata, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return blobstore.Metadata{}, fmt.Errorf("s3 download %q: %w", id, blobstore.ErrNotFound)
		}
		return blobstore.Metadata{}, fmt.Errorf("s3 download %q: %w", id, err)
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("s3 download %q: %w", id, err)
	}

	meta, err := objectMetadata(n, out.ContentType, out.Metadata)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("s3 download %q: %w", id, err)
	}
	return meta, nil
}

// Stat resolves metadata with a HeadObject call.
func (b *Backend) Stat(ctx context.Context, id string) (blobstore.Metadata, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return blobstore.Metadata{}, fmt.Errorf("s3 stat %q: %w", id, blobstore.ErrNotFound)
		}
		return blobstore.Metadata{}, fmt.Errorf("s3 stat %q: %w", id, err)
	}

	meta, err := objectMetadata(aws.ToInt64(out.ContentLength), out.ContentType, out.Metadata)
	if err != nil {
		return blobstore.Metadata{}, fmt.Errorf("s3 stat %q: %w", id, err)
	}
	return meta, nil
}

func objectMetadata(size int64, contentType *string, objMeta map[string]string) (blobstore.Metadata, error) {
	meta := blobstore.Metadata{
		Size:     size,
		MIMEType: aws.ToString(contentType),
		Filename: objMeta[metaFilename],
	}
	if meta.MIMEType == "" {
		return blobstore.Metadata{}, fmt.Errorf("%w: object lacks content type", blobstore.ErrBadMetadata)
	}
	if meta.Filename == "" {
		return blobstore.Metadata{}, fmt.Errorf("%w: object lacks filename metadata", blobstore.ErrBadMetadata)
	}
	return meta, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	// HeadObject returns a generic error with status 404.
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}
