package flatten

import (
	"context"
	"log"

	ferrors "github.com/arkilian/xapiflat/internal/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// BatchConfig controls how a Batch schedules files.
type BatchConfig struct {
	// Workers bounds how many files are processed at once (default 1).
	Workers int

	// FailFast stops scheduling files after the first failure. By default
	// every file is attempted and all failures are reported at the end.
	FailFast bool

	// AfterFile, when set, runs after each successfully written file.
	// An error marks that file as failed.
	AfterFile func(ctx context.Context, result *FileResult) error
}

// BatchResult holds per-file outcomes in input order.
type BatchResult struct {
	Results []FileResult

	// Err aggregates every file failure, or is nil when all files succeeded.
	Err error
}

// Failed returns the results that ended in an error, skipped files included.
func (r *BatchResult) Failed() []FileResult {
	var failed []FileResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Batch flattens many files with a shared Flattener.
type Batch struct {
	flattener *Flattener
	cfg       BatchConfig
}

// NewBatch creates a batch runner.
func NewBatch(f *Flattener, cfg BatchConfig) *Batch {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Batch{flattener: f, cfg: cfg}
}

// Run processes paths. Files whose outputs collide are handled in input
// order within a single task so the last one wins.
func (b *Batch) Run(ctx context.Context, paths []string) *BatchResult {
	results := make([]FileResult, len(paths))
	groups := b.groupByOutput(paths)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)

	for _, group := range groups {
		group := group
		g.Go(func() error {
			for _, idx := range group {
				if err := gctx.Err(); err != nil {
					results[idx] = FileResult{
						Input:   paths[idx],
						Output:  OutputPath(b.flattener.OutputDir(), paths[idx]),
						Skipped: true,
						Err:     err,
					}
					continue
				}

				res := b.processOne(gctx, paths[idx])
				results[idx] = *res
				if res.Err != nil {
					log.Printf("flatten: %s failed: %v", paths[idx], res.Err)
					if b.cfg.FailFast {
						return res.Err
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	for _, res := range results {
		if res.Err != nil && !res.Skipped {
			errs = multierr.Append(errs, res.Err)
		}
	}
	if errs == nil && ctx.Err() != nil {
		errs = ctx.Err()
	}

	return &BatchResult{Results: results, Err: errs}
}

func (b *Batch) processOne(ctx context.Context, path string) *FileResult {
	res, err := b.flattener.FlattenFile(ctx, path)
	if err != nil || b.cfg.AfterFile == nil {
		return res
	}
	if err := b.cfg.AfterFile(ctx, res); err != nil {
		res.Err = ferrors.AttachPath(err, path)
	}
	return res
}

// groupByOutput returns input indexes grouped by output path, groups
// ordered by first appearance.
func (b *Batch) groupByOutput(paths []string) [][]int {
	var groups [][]int
	byOutput := make(map[string]int, len(paths))
	for i, p := range paths {
		out := OutputPath(b.flattener.OutputDir(), p)
		if gi, ok := byOutput[out]; ok {
			groups[gi] = append(groups[gi], i)
			continue
		}
		byOutput[out] = len(groups)
		groups = append(groups, []int{i})
	}
	return groups
}
