package flatten

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	ferrors "github.com/arkilian/xapiflat/internal/errors"
	"go.uber.org/multierr"
)

func writeInputIn(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create input dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}
	return path
}

func TestBatch_ContinuesAfterFailure(t *testing.T) {
	inDir := t.TempDir()
	good1 := writeInputIn(t, inDir, "a.json", `[{"id":"a1"},{"id":"a2"}]`)
	bad := writeInputIn(t, inDir, "b.json", `[{"id":`)
	good2 := writeInputIn(t, inDir, "c.json", `{"statements":[{"id":"c1"}],"more":""}`)

	f, outDir := newTestFlattener(t)
	result := NewBatch(f, BatchConfig{}).Run(context.Background(), []string{good1, bad, good2})

	if len(result.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result.Results))
	}
	if result.Results[0].Err != nil || result.Results[2].Err != nil {
		t.Errorf("good files should succeed: %v / %v", result.Results[0].Err, result.Results[2].Err)
	}
	if result.Results[0].Rows != 2 || result.Results[2].Rows != 1 {
		t.Errorf("unexpected row counts %d / %d", result.Results[0].Rows, result.Results[2].Rows)
	}
	if result.Results[1].Err == nil {
		t.Fatal("malformed file should fail")
	}
	if ferrors.GetPath(result.Err) != bad {
		t.Errorf("aggregate error should name the failed file: %v", result.Err)
	}
	if len(result.Failed()) != 1 {
		t.Errorf("expected 1 failure, got %d", len(result.Failed()))
	}

	for _, name := range []string{"a.csv", "c.csv"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "b.csv")); !os.IsNotExist(err) {
		t.Error("failed file should not produce output")
	}
}

func TestBatch_AggregatesAllFailures(t *testing.T) {
	inDir := t.TempDir()
	paths := []string{
		writeInputIn(t, inDir, "x.json", `nope`),
		writeInputIn(t, inDir, "y.json", `[]`),
		writeInputIn(t, inDir, "z.json", `{"more": 1}`),
	}

	f, _ := newTestFlattener(t)
	result := NewBatch(f, BatchConfig{}).Run(context.Background(), paths)

	errs := multierr.Errors(result.Err)
	if len(errs) != 2 {
		t.Fatalf("expected 2 aggregated errors, got %d: %v", len(errs), result.Err)
	}
	if ferrors.GetPath(errs[0]) != paths[0] || ferrors.GetPath(errs[1]) != paths[2] {
		t.Errorf("errors out of input order: %v", errs)
	}
}

func TestBatch_FailFast(t *testing.T) {
	inDir := t.TempDir()
	paths := []string{
		writeInputIn(t, inDir, "1.json", `[{"id":"one"}]`),
		writeInputIn(t, inDir, "2.json", `{{{`),
		writeInputIn(t, inDir, "3.json", `[{"id":"three"}]`),
	}

	f, outDir := newTestFlattener(t)
	result := NewBatch(f, BatchConfig{Workers: 1, FailFast: true}).Run(context.Background(), paths)

	if result.Err == nil {
		t.Fatal("expected an error")
	}
	if result.Results[0].Err != nil {
		t.Errorf("first file should succeed: %v", result.Results[0].Err)
	}
	if !result.Results[2].Skipped {
		t.Error("file after the failure should be skipped")
	}
	if _, err := os.Stat(filepath.Join(outDir, "3.csv")); !os.IsNotExist(err) {
		t.Error("skipped file should not produce output")
	}
	if len(multierr.Errors(result.Err)) != 1 {
		t.Errorf("skipped files should not be reported as failures: %v", result.Err)
	}
}

func TestBatch_ParallelMatchesSequential(t *testing.T) {
	inDir := t.TempDir()
	var paths []string
	for i := 0; i < 12; i++ {
		doc := fmt.Sprintf(`[{"id":"s%d","verb":{"id":"v","display":{"en-US":"did %d"}}},{"id":"t%d"}]`, i, i, i)
		paths = append(paths, writeInputIn(t, inDir, fmt.Sprintf("f%02d.json", i), doc))
	}

	seq, seqDir := newTestFlattener(t)
	if res := NewBatch(seq, BatchConfig{Workers: 1}).Run(context.Background(), paths); res.Err != nil {
		t.Fatalf("sequential run failed: %v", res.Err)
	}

	par, parDir := newTestFlattener(t)
	res := NewBatch(par, BatchConfig{Workers: 4}).Run(context.Background(), paths)
	if res.Err != nil {
		t.Fatalf("parallel run failed: %v", res.Err)
	}

	for i, p := range paths {
		if res.Results[i].Input != p {
			t.Errorf("result %d out of order: %s", i, res.Results[i].Input)
		}
		name := Stem(p) + ".csv"
		a, _ := os.ReadFile(filepath.Join(seqDir, name))
		b, _ := os.ReadFile(filepath.Join(parDir, name))
		if len(a) == 0 || !bytes.Equal(a, b) {
			t.Errorf("%s differs between sequential and parallel runs", name)
		}
	}
}

func TestBatch_DuplicateStemLastWins(t *testing.T) {
	first := writeInputIn(t, t.TempDir(), "same.json", `[{"id":"first"}]`)
	second := writeInputIn(t, t.TempDir(), "same.json", `[{"id":"second"}]`)

	f, outDir := newTestFlattener(t)
	res := NewBatch(f, BatchConfig{Workers: 4}).Run(context.Background(), []string{first, second})
	if res.Err != nil {
		t.Fatalf("Run failed: %v", res.Err)
	}

	records := readCSV(t, filepath.Join(outDir, "same.csv"))
	if got := column(t, records[1], "statement_id"); got != "second" {
		t.Errorf("expected the later input to win, got %q", got)
	}
}

func TestBatch_AfterFile(t *testing.T) {
	inDir := t.TempDir()
	ok := writeInputIn(t, inDir, "ok.json", `[]`)
	rejected := writeInputIn(t, inDir, "rejected.json", `[]`)

	var seen []string
	f, _ := newTestFlattener(t)
	batch := NewBatch(f, BatchConfig{
		AfterFile: func(ctx context.Context, r *FileResult) error {
			seen = append(seen, r.Input)
			if r.Input == rejected {
				return ferrors.NewStorageError(ferrors.CodeUploadFailed, "publish failed", nil)
			}
			return nil
		},
	})

	res := batch.Run(context.Background(), []string{ok, rejected})
	if len(seen) != 2 {
		t.Errorf("AfterFile should run for each successful file, ran %d times", len(seen))
	}
	if res.Results[0].Err != nil {
		t.Errorf("unexpected error for ok.json: %v", res.Results[0].Err)
	}
	err := res.Results[1].Err
	if ferrors.GetCode(err) != ferrors.CodeUploadFailed || ferrors.GetPath(err) != rejected {
		t.Errorf("expected attributed upload failure, got %v", err)
	}
}

func TestBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, _ := newTestFlattener(t)
	res := NewBatch(f, BatchConfig{}).Run(ctx, []string{writeInput(t, "a.json", `[]`)})
	if res.Err == nil {
		t.Fatal("expected cancellation error")
	}
	if !res.Results[0].Skipped {
		t.Error("file should be skipped after cancellation")
	}
}
