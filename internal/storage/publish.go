package storage

import (
	"context"
	"errors"
	"path/filepath"

	ferrors "github.com/arkilian/xapiflat/internal/errors"
)

// Publication describes an uploaded CSV.
type Publication struct {
	Object string

	// ETag is the store's content tag, empty when the store reports none.
	ETag string
}

// Publisher uploads finished CSV files to object storage.
type Publisher struct {
	storage ObjectStorage
	prefix  string
	retries uint64
}

// NewPublisher creates a publisher that writes objects under prefix.
func NewPublisher(storage ObjectStorage, prefix string) *Publisher {
	return &Publisher{storage: storage, prefix: prefix, retries: defaultRetries}
}

// Publish uploads localPath as <prefix>/<base name>. Transient upload
// failures are retried.
func (p *Publisher) Publish(ctx context.Context, localPath string) (*Publication, error) {
	objectPath := ObjectPath(p.prefix, filepath.Base(localPath))

	err := withRetry(ctx, p.retries, func() error {
		if err := p.storage.Upload(ctx, localPath, objectPath); err != nil {
			return uploadError(objectPath, localPath, err)
		}
		return nil
	})
	if err != nil {
		return nil, uploadError(objectPath, localPath, err)
	}

	pub := &Publication{Object: objectPath}
	if tagger, ok := p.storage.(ETagger); ok {
		pub.ETag, _ = tagger.GetETag(objectPath)
	}
	return pub, nil
}

func uploadError(objectPath, localPath string, err error) error {
	if ferrors.GetCategory(err) != "" {
		return err
	}
	if errors.Is(err, ErrInvalidPath) {
		return ferrors.NewStorageError(ferrors.CodeInvalidObjectPath, "cannot publish to "+objectPath, err).WithPath(localPath)
	}
	return ferrors.NewStorageError(ferrors.CodeUploadFailed, "failed to publish "+objectPath, err).WithPath(localPath)
}
