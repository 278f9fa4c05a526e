package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	ferrors "github.com/arkilian/xapiflat/internal/errors"
	"golang.org/x/sync/semaphore"
)

// FetchedInput is one remote input after download.
type FetchedInput struct {
	Object    string
	LocalPath string
	Err       error
}

// Fetcher downloads remote inputs into a work directory in parallel.
type Fetcher struct {
	storage     ObjectStorage
	concurrency int
	workDir     string
	retries     uint64
}

// NewFetcher creates a fetcher. Objects are mirrored under workDir so that
// their base names, and therefore their output stems, are preserved.
func NewFetcher(storage ObjectStorage, concurrency int, workDir string) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{
		storage:     storage,
		concurrency: concurrency,
		workDir:     workDir,
		retries:     defaultRetries,
	}
}

// Expand resolves arguments into object paths. An argument ending in "/" is
// a prefix and expands to the JSON inputs beneath it in sorted order; any
// other argument names a single object. An object reached more than once is
// kept only at its first position.
func (f *Fetcher) Expand(ctx context.Context, args []string) ([]string, error) {
	var objects []string
	seen := make(map[string]bool)
	add := func(obj string) {
		if !seen[obj] {
			seen[obj] = true
			objects = append(objects, obj)
		}
	}

	for _, arg := range args {
		if !strings.HasSuffix(arg, "/") {
			add(arg)
			continue
		}

		listed, err := f.storage.ListObjects(ctx, arg)
		if err != nil {
			return nil, ferrors.NewStorageError(ferrors.CodeDownloadFailed, "failed to list inputs", err).WithPath(arg)
		}
		for _, obj := range listed {
			if IsInputObject(obj) {
				add(obj)
			}
		}
	}
	return objects, nil
}

// IsInputObject reports whether an object name looks like an xAPI export.
func IsInputObject(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".json.sz")
}

// Fetch downloads objects and returns one entry per object in the same order.
// Download failures are reported per entry.
func (f *Fetcher) Fetch(ctx context.Context, objects []string) []FetchedInput {
	results := make([]FetchedInput, len(objects))
	sem := semaphore.NewWeighted(int64(f.concurrency))
	var wg sync.WaitGroup

	for i, obj := range objects {
		results[i].Object = obj

		local, err := f.localPath(obj)
		if err != nil {
			results[i].Err = ferrors.NewStorageError(ferrors.CodeInvalidObjectPath, "invalid object path", err).WithPath(obj)
			continue
		}
		results[i].LocalPath = local

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Err = ferrors.NewStorageError(ferrors.CodeDownloadFailed, "download cancelled", err).WithPath(obj)
			continue
		}

		wg.Add(1)
		go func(r *FetchedInput) {
			defer sem.Release(1)
			defer wg.Done()

			err := withRetry(ctx, f.retries, func() error {
				if err := f.storage.Download(ctx, r.Object, r.LocalPath); err != nil {
					return downloadError(r.Object, err)
				}
				return nil
			})
			if err != nil {
				r.Err = downloadError(r.Object, err)
			}
		}(&results[i])
	}

	wg.Wait()
	return results
}

// localPath mirrors an object path under the work directory.
func (f *Fetcher) localPath(objectPath string) (string, error) {
	rel, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.workDir, filepath.FromSlash(rel)), nil
}

func downloadError(object string, err error) error {
	if ferrors.GetCategory(err) != "" {
		return err
	}
	if errors.Is(err, ErrObjectNotFound) {
		return ferrors.NewStorageError(ferrors.CodeObjectNotFound, "object not found", err).WithPath(object)
	}
	if errors.Is(err, ErrInvalidPath) {
		return ferrors.NewStorageError(ferrors.CodeInvalidObjectPath, "invalid object path", err).WithPath(object)
	}
	return ferrors.NewStorageError(ferrors.CodeDownloadFailed, "download failed", err).WithPath(object)
}
