// Package main implements the xapiflat command, which flattens xAPI
// statement exports into one CSV file per input.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkilian/xapiflat/internal/app"
	"github.com/arkilian/xapiflat/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// options holds the parsed command line.
type options struct {
	configFile  string
	outputDir   string
	workers     int
	failFast    bool
	manifest    bool
	remote      bool
	storageType string
	storagePath string
	s3Bucket    string
	s3Region    string
	s3Endpoint  string
	prefix      string
	showVersion bool

	// set records which flags were given explicitly.
	set map[string]bool
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("xapiflat", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.outputDir, "output_dir", "", "Directory for CSV output (default ./output)")
	fs.StringVar(&opts.outputDir, "output-dir", "", "Alias for -output_dir")
	fs.StringVar(&opts.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.IntVar(&opts.workers, "workers", 0, "Number of files flattened concurrently (default 1)")
	fs.BoolVar(&opts.failFast, "fail-fast", false, "Stop at the first failed file")
	fs.BoolVar(&opts.manifest, "manifest", false, "Write _manifest.json into the output directory")
	fs.BoolVar(&opts.remote, "remote", false, "Treat arguments as object paths in the configured storage")
	fs.StringVar(&opts.storageType, "storage", "", "Object storage for publishing and remote inputs: none, local, s3")
	fs.StringVar(&opts.storagePath, "storage-path", "", "Root directory for local storage")
	fs.StringVar(&opts.s3Bucket, "s3-bucket", "", "S3 bucket name")
	fs.StringVar(&opts.s3Region, "s3-region", "", "S3 region")
	fs.StringVar(&opts.s3Endpoint, "s3-endpoint", "", "S3 endpoint for S3-compatible stores")
	fs.StringVar(&opts.prefix, "prefix", "", "Object path prefix for published CSV files")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "xapiflat - flatten xAPI statement exports to CSV\n\n")
		fmt.Fprintf(stderr, "Usage: xapiflat [options] <file>...\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  xapiflat statements.json\n")
		fmt.Fprintf(stderr, "  xapiflat -output_dir /data/csv page1.json page2.json.sz\n")
		fmt.Fprintf(stderr, "  xapiflat -remote -storage s3 -s3-bucket lrs -prefix csv exports/2024/\n")
		fmt.Fprintf(stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(stderr, "  XAPIFLAT_OUTPUT_DIR     Output directory\n")
		fmt.Fprintf(stderr, "  XAPIFLAT_WORKERS        Concurrent files\n")
		fmt.Fprintf(stderr, "  XAPIFLAT_STORAGE_TYPE   Storage type (none, local, s3)\n")
		fmt.Fprintf(stderr, "  XAPIFLAT_S3_*           S3 bucket, region and endpoint\n")
	}
	return fs
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &options{set: make(map[string]bool)}
	fs := newFlagSet(opts, stderr)
	paths, err := parseArgs(fs, args)
	if err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		return exitUsage
	}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	if opts.showVersion {
		fmt.Fprintf(stdout, "xapiflat version %s (commit: %s)\n", version, commit)
		return exitOK
	}

	if len(paths) == 0 {
		fmt.Fprintln(stderr, "xapiflat: at least one input file is required")
		fs.Usage()
		return exitUsage
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "xapiflat: %v\n", err)
		return exitUsage
	}

	logger := log.New(stderr, "", log.LstdFlags)
	application, err := app.New(ctx, cfg, app.WithStdout(stdout), app.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "xapiflat: %v\n", err)
		return exitUsage
	}

	report, err := application.Run(ctx, paths)
	if err != nil {
		fmt.Fprintf(stderr, "xapiflat: %v\n", err)
		return exitFailed
	}

	for _, f := range report.Failed() {
		if f.Skipped {
			fmt.Fprintf(stderr, "Skipped: %s\n", f.Source)
			continue
		}
		fmt.Fprintf(stderr, "Failed: %s: %v\n", f.Source, f.Err)
	}
	if report.ManifestPath != "" {
		fmt.Fprintf(stdout, "Manifest: %s\n", report.ManifestPath)
	}

	if report.Err != nil {
		return exitFailed
	}
	return exitOK
}

// parseArgs parses flags placed anywhere on the command line, so
// "xapiflat data1.json -output_dir out" works, and returns the positional
// arguments in order. Everything after "--" is positional.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

// loadConfig layers defaults, the config file, .env and environment
// variables, and finally explicitly given flags.
func loadConfig(opts *options) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	var cfg *config.Config
	var err error
	if opts.configFile != "" {
		cfg, err = config.LoadFromFile(opts.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if opts.set["output_dir"] || opts.set["output-dir"] {
		cfg.OutputDir = opts.outputDir
	}
	if opts.set["workers"] {
		cfg.Workers = opts.workers
	}
	if opts.set["fail-fast"] {
		cfg.FailFast = opts.failFast
	}
	if opts.set["manifest"] {
		cfg.Manifest = opts.manifest
	}
	if opts.set["remote"] {
		cfg.Remote = opts.remote
	}
	if opts.set["storage"] {
		cfg.Storage.Type = opts.storageType
	}
	if opts.set["storage-path"] {
		cfg.Storage.Path = opts.storagePath
	}
	if opts.set["s3-bucket"] {
		cfg.Storage.S3.Bucket = opts.s3Bucket
	}
	if opts.set["s3-region"] {
		cfg.Storage.S3.Region = opts.s3Region
	}
	if opts.set["s3-endpoint"] {
		cfg.Storage.S3.Endpoint = opts.s3Endpoint
	}
	if opts.set["prefix"] {
		cfg.Storage.Prefix = opts.prefix
	}

	return cfg, nil
}
