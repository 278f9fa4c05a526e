// Package app wires configuration, storage and the flattener into a single
// command run.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arkilian/xapiflat/internal/config"
	ferrors "github.com/arkilian/xapiflat/internal/errors"
	"github.com/arkilian/xapiflat/internal/flatten"
	"github.com/arkilian/xapiflat/internal/manifest"
	"github.com/arkilian/xapiflat/internal/observability"
	"github.com/arkilian/xapiflat/internal/storage"
	"go.uber.org/multierr"
)

// FileReport is the outcome for one input argument.
type FileReport struct {
	flatten.FileResult

	// Source is the argument as given: a local path, or an object path
	// when inputs are remote.
	Source string

	// Published is the object path the CSV was uploaded to, if any.
	Published string

	// ETag is the store's content tag for the published object.
	ETag string

	// Fingerprint is the murmur3-128 digest of the CSV as this input wrote
	// it; set only when the manifest is enabled.
	Fingerprint string
	SizeBytes   int64

	// Superseded is set when a later input in the run wrote the same
	// output file.
	Superseded bool
}

// Report summarizes a run.
type Report struct {
	Files        []FileReport
	Summary      observability.Summary
	ManifestPath string

	// Err aggregates every file failure.
	Err error
}

// Failed returns the reports that ended in an error.
func (r *Report) Failed() []FileReport {
	var failed []FileReport
	for _, f := range r.Files {
		if f.Err != nil {
			failed = append(failed, f)
		}
	}
	return failed
}

// App runs flattening jobs for one configuration.
type App struct {
	cfg     *config.Config
	storage storage.ObjectStorage
	stdout  io.Writer
	logger  *log.Logger
	now     func() time.Time
}

// Option configures an App.
type Option func(*App)

// WithStdout sets where export acknowledgments are printed.
func WithStdout(w io.Writer) Option {
	return func(a *App) {
		a.stdout = w
	}
}

// WithLogger sets the logger for progress messages.
func WithLogger(l *log.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

// WithStorage overrides the object storage built from the configuration.
func WithStorage(s storage.ObjectStorage) Option {
	return func(a *App) {
		a.storage = s
	}
}

// New validates cfg and initializes storage.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCategoryConfig, ferrors.CodeInvalidConfig, "invalid configuration", err)
	}

	a := &App{
		cfg:    cfg,
		stdout: os.Stdout,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.storage == nil && cfg.Storage.Type != config.StorageNone {
		s, err := newStorage(ctx, cfg.Storage)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.ErrCategoryConfig, ferrors.CodeInvalidConfig, "failed to initialize storage", err)
		}
		a.storage = s
		a.logger.Printf("Storage initialized: type=%s", cfg.Storage.Type)
	}

	return a, nil
}

func newStorage(ctx context.Context, sc config.StorageConfig) (storage.ObjectStorage, error) {
	switch sc.Type {
	case config.StorageLocal:
		return storage.NewLocalStorage(sc.Path)
	case config.StorageS3:
		s3Cfg := storage.DefaultS3Config()
		if sc.S3.Region != "" {
			s3Cfg.Region = sc.S3.Region
		}
		s3Cfg.Endpoint = sc.S3.Endpoint
		s3Cfg.UsePathStyle = sc.S3.UsePathStyle
		return storage.NewS3Storage(ctx, sc.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", sc.Type)
	}
}

// Run flattens every argument. The returned error is non-nil only when the
// run could not start; per-file failures are reported in Report.Err.
func (a *App) Run(ctx context.Context, args []string) (*Report, error) {
	started := a.now()
	stats := observability.NewRunStats()

	sources, locals, fetchErrs, cleanup, err := a.resolveInputs(ctx, args)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if len(sources) == 0 {
		return nil, ferrors.NewConfigError("no input files")
	}

	// Inputs that failed to download are reported without being flattened.
	var runnable []string
	for i, local := range locals {
		if fetchErrs[i] == nil {
			runnable = append(runnable, local)
		}
	}

	var (
		outputsMu sync.Mutex
		outputs   = make(map[string]*fileOutput)
	)
	batchCfg := flatten.BatchConfig{
		Workers:  a.cfg.Workers,
		FailFast: a.cfg.FailFast,
		AfterFile: a.afterFile(func(input string, out *fileOutput) {
			outputsMu.Lock()
			outputs[input] = out
			outputsMu.Unlock()
		}),
	}

	f := flatten.NewFlattener(a.cfg.OutputDir, flatten.WithNotifier(a.stdout))
	batch := flatten.NewBatch(f, batchCfg).Run(ctx, runnable)

	report := &Report{Files: make([]FileReport, len(sources))}
	next := 0
	for i, src := range sources {
		fr := FileReport{Source: src}
		if fetchErrs[i] != nil {
			fr.FileResult = flatten.FileResult{Input: src, Err: fetchErrs[i]}
			report.Err = multierr.Append(report.Err, fetchErrs[i])
		} else {
			fr.FileResult = batch.Results[next]
			if out, ok := outputs[fr.Input]; ok && fr.Err == nil {
				fr.Fingerprint = out.fingerprint
				fr.SizeBytes = out.size
				if out.published != nil {
					fr.Published = out.published.Object
					fr.ETag = out.published.ETag
				}
			}
			next++
		}
		report.Files[i] = fr
		stats.Record(fileStats(fr))
	}
	report.Err = multierr.Append(report.Err, batch.Err)
	markSuperseded(report.Files)

	if a.cfg.Manifest {
		path, err := a.writeManifest(started, report)
		if err != nil {
			report.Err = multierr.Append(report.Err, err)
		}
		report.ManifestPath = path
	}

	report.Summary = stats.Summary()
	a.logger.Printf("Run complete: %s", report.Summary)
	return report, nil
}

// resolveInputs returns, for each input, its display source, the local path
// to flatten and any fetch error. Remote inputs are downloaded into the work
// directory, which cleanup removes when it was created here.
func (a *App) resolveInputs(ctx context.Context, args []string) (sources, locals []string, errs []error, cleanup func(), err error) {
	cleanup = func() {}

	if !a.cfg.Remote {
		return args, args, make([]error, len(args)), cleanup, nil
	}
	if a.storage == nil {
		return nil, nil, nil, cleanup, ferrors.NewConfigError("remote inputs require object storage")
	}

	workDir := a.cfg.WorkDir
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "xapiflat-")
		if err != nil {
			return nil, nil, nil, cleanup, ferrors.NewInternalError("failed to create work directory", err)
		}
		dir := workDir
		cleanup = func() { os.RemoveAll(dir) }
	}

	fetcher := storage.NewFetcher(a.storage, a.cfg.Workers, workDir)
	objects, err := fetcher.Expand(ctx, args)
	if err != nil {
		cleanup()
		return nil, nil, nil, func() {}, err
	}
	a.logger.Printf("Fetching %d remote inputs into %s", len(objects), workDir)

	for _, in := range fetcher.Fetch(ctx, objects) {
		sources = append(sources, in.Object)
		locals = append(locals, in.LocalPath)
		errs = append(errs, in.Err)
	}
	return sources, locals, errs, cleanup, nil
}

// fileOutput is what the AfterFile hook learned about one written CSV.
type fileOutput struct {
	fingerprint string
	size        int64
	published   *storage.Publication
}

// afterFile returns the per-file hook, or nil when neither the manifest nor
// publishing needs one. It runs while the output is still the one this input
// wrote, before a later input with the same stem replaces it.
func (a *App) afterFile(record func(input string, out *fileOutput)) func(context.Context, *flatten.FileResult) error {
	var publisher *storage.Publisher
	if a.storage != nil && a.cfg.Publishes() {
		publisher = storage.NewPublisher(a.storage, a.cfg.Storage.Prefix)
	}
	if publisher == nil && !a.cfg.Manifest {
		return nil
	}

	return func(ctx context.Context, r *flatten.FileResult) error {
		out := &fileOutput{}
		if a.cfg.Manifest {
			fp, size, err := manifest.Fingerprint(r.Output)
			if err != nil {
				return ferrors.NewOutputError(ferrors.CodeWriteFailed, "failed to fingerprint output", err).WithPath(r.Output)
			}
			out.fingerprint, out.size = fp, size
		}
		if publisher != nil {
			pub, err := publisher.Publish(ctx, r.Output)
			if err != nil {
				return err
			}
			out.published = pub
		}
		record(r.Input, out)
		return nil
	}
}

// markSuperseded flags every successful report whose output a later input in
// the same run overwrote.
func markSuperseded(files []FileReport) {
	last := make(map[string]int)
	for i, f := range files {
		if f.Err == nil && f.Output != "" {
			last[f.Output] = i
		}
	}
	for i := range files {
		f := &files[i]
		if f.Err == nil && f.Output != "" && last[f.Output] != i {
			f.Superseded = true
		}
	}
}

func (a *App) writeManifest(started time.Time, report *Report) (string, error) {
	m := manifest.New(a.cfg.OutputDir, started)
	for _, f := range report.Files {
		entry := manifest.FileEntry{
			Input:      f.Source,
			Object:     f.Published,
			ETag:       f.ETag,
			Skipped:    f.Skipped,
			Superseded: f.Superseded,
		}
		if f.Err != nil {
			entry.Error = f.Err.Error()
			m.Add(entry)
			continue
		}
		entry.Output = f.Output
		entry.Rows = f.Rows
		entry.SizeBytes = f.SizeBytes
		entry.Fingerprint = f.Fingerprint
		m.Add(entry)
	}
	m.Finish(a.now())

	if err := os.MkdirAll(a.cfg.OutputDir, 0755); err != nil {
		return "", ferrors.NewOutputError(ferrors.CodeCreateDirFailed, "failed to create output directory", err).WithPath(a.cfg.OutputDir)
	}
	path := filepath.Join(a.cfg.OutputDir, manifest.FileName)
	if err := m.WriteToFile(path); err != nil {
		return "", ferrors.NewOutputError(ferrors.CodeWriteFailed, "failed to write manifest", err).WithPath(path)
	}
	return path, nil
}

func fileStats(fr FileReport) observability.FileStats {
	fs := observability.FileStats{
		Input:       fr.Source,
		Rows:        fr.Rows,
		InputBytes:  fr.InputBytes,
		OutputBytes: fr.OutputBytes,
		Duration:    fr.Duration,
		Outcome:     observability.OutcomeSucceeded,
	}
	switch {
	case fr.Skipped:
		fs.Outcome = observability.OutcomeSkipped
	case fr.Err != nil:
		fs.Outcome = observability.OutcomeFailed
	}
	return fs
}
