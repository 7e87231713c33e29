// Package blobstore provides tiered blob storage keyed by opaque identifiers.
package blobstore

import "errors"

var (
	// ErrNotFound indicates the requested blob was not found.
	ErrNotFound = errors.New("blob not found")

	// ErrAlreadyExists indicates a blob is already stored under the identifier.
	ErrAlreadyExists = errors.New("blob already exists")

	// ErrNotCached indicates the blob is not instantly available without
	// network access.
	ErrNotCached = errors.New("blob not cached")

	// ErrUnsupported indicates the operation is not supported by this store
	// tier. Hitting it is a caller contract violation, not a runtime
	// condition to recover from.
	ErrUnsupported = errors.New("operation not supported")

	// ErrBadMetadata indicates remote metadata headers were missing or
	// malformed.
	ErrBadMetadata = errors.New("malformed blob metadata")

	// ErrClosed indicates the store has been shut down.
	ErrClosed = errors.New("store closed")
)
