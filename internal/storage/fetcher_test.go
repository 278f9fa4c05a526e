package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	ferrors "github.com/arkilian/xapiflat/internal/errors"
)

func newRemote(t *testing.T) (*LocalStorage, string) {
	t.Helper()
	base := t.TempDir()
	storage, err := NewLocalStorage(base)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return storage, base
}

func TestFetcher_Expand(t *testing.T) {
	storage, base := newRemote(t)
	writeFile(t, filepath.Join(base, "lrs", "2024-01.json"), "[]")
	writeFile(t, filepath.Join(base, "lrs", "2024-02.json.sz"), "")
	writeFile(t, filepath.Join(base, "lrs", "README.md"), "")

	f := NewFetcher(storage, 2, t.TempDir())
	got, err := f.Expand(context.Background(), []string{"single/x.json", "lrs/"})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	want := []string{"single/x.json", "lrs/2024-01.json", "lrs/2024-02.json.sz"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand = %v, want %v", got, want)
	}
}

func TestFetcher_ExpandDeduplicates(t *testing.T) {
	storage, base := newRemote(t)
	writeFile(t, filepath.Join(base, "lrs", "a.json"), "[]")
	writeFile(t, filepath.Join(base, "lrs", "x.json"), "[]")

	f := NewFetcher(storage, 2, t.TempDir())
	got, err := f.Expand(context.Background(), []string{"lrs/x.json", "lrs/", "lrs/", "lrs/a.json"})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	want := []string{"lrs/x.json", "lrs/a.json"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand = %v, want %v", got, want)
	}
}

func TestFetcher_FetchPreservesOrderAndNames(t *testing.T) {
	storage, base := newRemote(t)
	var objects []string
	for _, name := range []string{"c.json", "a.json", "b/a.json"} {
		writeFile(t, filepath.Join(base, "in", filepath.FromSlash(name)), `[{"id":"`+name+`"}]`)
		objects = append(objects, "in/"+name)
	}

	workDir := t.TempDir()
	results := NewFetcher(storage, 3, workDir).Fetch(context.Background(), objects)
	if len(results) != len(objects) {
		t.Fatalf("expected %d results, got %d", len(objects), len(results))
	}

	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("fetch %s failed: %v", r.Object, r.Err)
		}
		if r.Object != objects[i] {
			t.Errorf("result %d out of order: %s", i, r.Object)
		}
		if filepath.Base(r.LocalPath) != filepath.Base(objects[i]) {
			t.Errorf("local name %s does not keep object name %s", r.LocalPath, objects[i])
		}
		if _, err := os.Stat(r.LocalPath); err != nil {
			t.Errorf("downloaded file missing: %v", err)
		}
	}
	if results[1].LocalPath == results[2].LocalPath {
		t.Error("objects with the same base name must not collide")
	}
}

func TestFetcher_FetchReportsPerObjectErrors(t *testing.T) {
	storage, base := newRemote(t)
	writeFile(t, filepath.Join(base, "ok.json"), "[]")

	results := NewFetcher(storage, 1, t.TempDir()).Fetch(context.Background(), []string{"ok.json", "gone.json", "../up.json"})

	if results[0].Err != nil {
		t.Errorf("ok.json should download: %v", results[0].Err)
	}
	if ferrors.GetCode(results[1].Err) != ferrors.CodeObjectNotFound || ferrors.GetPath(results[1].Err) != "gone.json" {
		t.Errorf("expected OBJECT_NOT_FOUND for gone.json, got %v", results[1].Err)
	}
	if ferrors.GetCode(results[2].Err) != ferrors.CodeInvalidObjectPath {
		t.Errorf("expected INVALID_OBJECT_PATH for escaping path, got %v", results[2].Err)
	}
}

func TestPublisher_Publish(t *testing.T) {
	storage, base := newRemote(t)
	csvPath := filepath.Join(t.TempDir(), "2024-01.csv")
	writeFile(t, csvPath, "statement_id\n")

	pub, err := NewPublisher(storage, "exports/daily").Publish(context.Background(), csvPath)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if pub.Object != "exports/daily/2024-01.csv" {
		t.Errorf("unexpected object path %s", pub.Object)
	}
	if etag, _ := storage.GetETag(pub.Object); pub.ETag == "" || pub.ETag != etag {
		t.Errorf("publication should carry the store's etag, got %q want %q", pub.ETag, etag)
	}
	if _, err := os.Stat(filepath.Join(base, "exports", "daily", "2024-01.csv")); err != nil {
		t.Errorf("published object missing: %v", err)
	}

	_, err = NewPublisher(storage, "").Publish(context.Background(), filepath.Join(t.TempDir(), "absent.csv"))
	if ferrors.GetCode(err) != ferrors.CodeUploadFailed {
		t.Errorf("expected UPLOAD_FAILED, got %v", err)
	}

	_, err = NewPublisher(storage, "../outside").Publish(context.Background(), csvPath)
	if ferrors.GetCode(err) != ferrors.CodeInvalidObjectPath {
		t.Errorf("expected INVALID_OBJECT_PATH, got %v", err)
	}
}

// flakyStorage fails the first failures calls of each transfer with err.
type flakyStorage struct {
	ObjectStorage
	failures  int
	err       error
	uploads   int
	downloads int
}

func (s *flakyStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	s.uploads++
	if s.uploads <= s.failures {
		return s.err
	}
	return s.ObjectStorage.Upload(ctx, localPath, objectPath)
}

func (s *flakyStorage) Download(ctx context.Context, objectPath, localPath string) error {
	s.downloads++
	if s.downloads <= s.failures {
		return s.err
	}
	return s.ObjectStorage.Download(ctx, objectPath, localPath)
}

func TestPublisher_RetriesTransientFailures(t *testing.T) {
	inner, base := newRemote(t)
	csvPath := filepath.Join(t.TempDir(), "day.csv")
	writeFile(t, csvPath, "statement_id\n")

	flaky := &flakyStorage{ObjectStorage: inner, failures: 2, err: ErrUploadFailed}
	pub, err := NewPublisher(flaky, "").Publish(context.Background(), csvPath)
	if err != nil {
		t.Fatalf("Publish should succeed after transient failures: %v", err)
	}
	if flaky.uploads != 3 {
		t.Errorf("expected 3 upload attempts, got %d", flaky.uploads)
	}
	if pub.ETag != "" {
		t.Errorf("a store without etags should report none, got %q", pub.ETag)
	}
	if _, err := os.Stat(filepath.Join(base, "day.csv")); err != nil {
		t.Errorf("published object missing: %v", err)
	}

	rejecting := &flakyStorage{ObjectStorage: inner, failures: 10, err: ErrInvalidPath}
	if _, err := NewPublisher(rejecting, "").Publish(context.Background(), csvPath); err == nil {
		t.Fatal("expected an error")
	}
	if rejecting.uploads != 1 {
		t.Errorf("permanent failures must not be retried, got %d attempts", rejecting.uploads)
	}
}

func TestFetcher_RetriesTransientFailures(t *testing.T) {
	inner, base := newRemote(t)
	writeFile(t, filepath.Join(base, "a.json"), "[]")

	flaky := &flakyStorage{ObjectStorage: inner, failures: 1, err: ErrDownloadFailed}
	results := NewFetcher(flaky, 1, t.TempDir()).Fetch(context.Background(), []string{"a.json"})
	if results[0].Err != nil {
		t.Fatalf("fetch should succeed after a transient failure: %v", results[0].Err)
	}
	if flaky.downloads != 2 {
		t.Errorf("expected 2 download attempts, got %d", flaky.downloads)
	}

	missing := &flakyStorage{ObjectStorage: inner}
	results = NewFetcher(missing, 1, t.TempDir()).Fetch(context.Background(), []string{"gone.json"})
	if ferrors.GetCode(results[0].Err) != ferrors.CodeObjectNotFound {
		t.Errorf("expected OBJECT_NOT_FOUND, got %v", results[0].Err)
	}
	if missing.downloads != 1 {
		t.Errorf("missing objects must not be retried, got %d attempts", missing.downloads)
	}
}
