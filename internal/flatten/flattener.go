// Package flatten turns files of xAPI statements into CSV files with a
// fixed column layout. Each file is parsed, unnested and projected inside
// its own in-memory SQLite database using the JSON1 functions.
package flatten

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	ferrors "github.com/arkilian/xapiflat/internal/errors"
	"github.com/arkilian/xapiflat/pkg/types"
)

// FileResult describes the outcome of flattening one input file.
type FileResult struct {
	Input       string
	Output      string
	Rows        int
	InputBytes  int64
	OutputBytes int64
	Duration    time.Duration

	// Skipped is set when the file was never attempted because the run
	// was cancelled or stopped after an earlier failure.
	Skipped bool
	Err     error
}

// Flattener writes one CSV per input file into an output directory.
type Flattener struct {
	outputDir string
	schema    types.Schema
	query     string

	notifyMu sync.Mutex
	notify   io.Writer
}

// Option configures a Flattener.
type Option func(*Flattener)

// WithNotifier sets where success acknowledgments are printed.
// Passing nil silences them.
func WithNotifier(w io.Writer) Option {
	return func(f *Flattener) {
		f.notify = w
	}
}

// NewFlattener creates a flattener for the fixed statement schema.
func NewFlattener(outputDir string, opts ...Option) *Flattener {
	f := &Flattener{
		outputDir: outputDir,
		schema:    DefaultSchema(),
		notify:    os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}

	query, err := buildProjectionSQL(f.schema)
	if err != nil {
		// The schema is a constant; a failure here is a programming error.
		panic(err)
	}
	f.query = query
	return f
}

// OutputDir returns the directory CSV files are written to.
func (f *Flattener) OutputDir() string {
	return f.outputDir
}

// FlattenFile processes a single input file. On failure no output file is
// written and the returned error is attributed to path.
func (f *Flattener) FlattenFile(ctx context.Context, path string) (*FileResult, error) {
	start := time.Now()
	result := &FileResult{
		Input:  path,
		Output: OutputPath(f.outputDir, path),
	}

	err := f.flatten(ctx, path, result)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = ferrors.AttachPath(err, path)
		return result, result.Err
	}

	f.notifyMu.Lock()
	if f.notify != nil {
		fmt.Fprintf(f.notify, "Exported: %s\n", result.Output)
	}
	f.notifyMu.Unlock()
	return result, nil
}

func (f *Flattener) flatten(ctx context.Context, path string, result *FileResult) error {
	if err := ctx.Err(); err != nil {
		return ferrors.NewInternalError("cancelled", err)
	}

	if err := os.MkdirAll(f.outputDir, 0755); err != nil {
		return ferrors.NewOutputError(ferrors.CodeCreateDirFailed,
			fmt.Sprintf("failed to create output directory %s", f.outputDir), err)
	}

	data, err := readInput(path)
	if err != nil {
		return err
	}
	result.InputBytes = int64(len(data))

	rows, err := f.project(ctx, string(data))
	if err != nil {
		return err
	}
	result.Rows = len(rows)

	size, err := writeCSV(result.Output, f.schema.Names(), rows)
	if err != nil {
		return err
	}
	result.OutputBytes = size
	return nil
}

// project runs the document through a fresh session and returns its rows.
func (f *Flattener) project(ctx context.Context, doc string) ([]types.FlatRow, error) {
	sess, err := openSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	path, err := sess.locateStatements(ctx, doc)
	if err != nil {
		return nil, err
	}

	n, err := sess.load(ctx, doc, path)
	if err != nil {
		return nil, err
	}

	rows, err := sess.project(ctx, f.query, len(f.schema.Columns))
	if err != nil {
		return nil, err
	}
	if len(rows) != n {
		return nil, ferrors.NewProjectionError(ferrors.CodeQueryFailed,
			fmt.Sprintf("projected %d rows from %d statements", len(rows), n), nil)
	}
	return rows, nil
}
