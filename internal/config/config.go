// Package config provides configuration for the xapiflat command.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage types.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds the configuration for a flattening run.
type Config struct {
	// OutputDir is where CSV files are written
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Workers is the number of files flattened concurrently
	Workers int `json:"workers" yaml:"workers"`

	// FailFast stops the run at the first failed file
	FailFast bool `json:"fail_fast" yaml:"fail_fast"`

	// Manifest enables the _manifest.json run summary in OutputDir
	Manifest bool `json:"manifest" yaml:"manifest"`

	// Remote treats input arguments as object paths in Storage
	Remote bool `json:"remote" yaml:"remote"`

	// WorkDir holds downloaded remote inputs (default: a temp directory)
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage root (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to published object paths
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO, LocalStack)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputDir: "./output",
		Workers:   1,
		Storage: StorageConfig{
			Type: StorageNone,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}

	if c.Workers < 1 || c.Workers > 256 {
		return fmt.Errorf("workers must be between 1 and 256, got %d", c.Workers)
	}

	switch c.Storage.Type {
	case StorageNone, StorageLocal, StorageS3:
	default:
		return fmt.Errorf("invalid storage type: %s (must be none, local, or s3)", c.Storage.Type)
	}

	if c.Storage.Type == StorageLocal && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage type is local")
	}

	if c.Storage.Type == StorageS3 && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Remote && c.Storage.Type == StorageNone {
		return fmt.Errorf("remote inputs require a storage type")
	}

	return nil
}

// Publishes reports whether outputs are uploaded to object storage.
func (c *Config) Publishes() bool {
	return c.Storage.Type != StorageNone
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv applies environment variables to cfg.
// Environment variables use the XAPIFLAT_ prefix.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("XAPIFLAT_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("XAPIFLAT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid XAPIFLAT_WORKERS %q: %w", v, err)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("XAPIFLAT_FAIL_FAST"); v != "" {
		cfg.FailFast = parseBool(v)
	}
	if v := os.Getenv("XAPIFLAT_MANIFEST"); v != "" {
		cfg.Manifest = parseBool(v)
	}
	if v := os.Getenv("XAPIFLAT_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}

	// Storage configuration
	if v := os.Getenv("XAPIFLAT_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("XAPIFLAT_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("XAPIFLAT_STORAGE_PREFIX"); v != "" {
		cfg.Storage.Prefix = v
	}
	if v := os.Getenv("XAPIFLAT_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("XAPIFLAT_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("XAPIFLAT_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("XAPIFLAT_S3_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = parseBool(v)
	}

	return nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
