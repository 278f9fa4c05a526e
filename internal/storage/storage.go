// Package storage provides object storage for fetching remote inputs and
// publishing flattened outputs.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrInvalidPath    = errors.New("invalid object path")
)

// ObjectStorage abstracts object storage operations.
// Implementations are S3 and a local directory.
type ObjectStorage interface {
	// Upload uploads a local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download downloads objectPath to localPath, creating parent directories.
	Download(ctx context.Context, objectPath, localPath string) error

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// ETagger is implemented by stores that record a content tag for each
// uploaded object.
type ETagger interface {
	GetETag(objectPath string) (string, bool)
}
