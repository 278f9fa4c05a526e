// Package manifest writes the optional run manifest that sits next to the
// CSV outputs and records what each input produced.
package manifest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// FileName is the manifest's name inside the output directory.
const FileName = "_manifest.json"

// FingerprintAlgorithm names the hash used for output fingerprints.
const FingerprintAlgorithm = "murmur3_128"

// RunManifest is the _manifest.json structure.
type RunManifest struct {
	RunID      string      `json:"run_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	OutputDir  string      `json:"output_dir"`
	Algorithm  string      `json:"fingerprint_algorithm"`
	Files      []FileEntry `json:"files"`
}

// FileEntry describes one input of the run.
type FileEntry struct {
	Input       string `json:"input"`
	Output      string `json:"output,omitempty"`
	Object      string `json:"object,omitempty"`
	ETag        string `json:"etag,omitempty"`
	Rows        int    `json:"rows"`
	SizeBytes   int64  `json:"size_bytes"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Error       string `json:"error,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`

	// Superseded marks an entry whose output a later input overwrote; its
	// fingerprint describes the CSV as this input wrote it.
	Superseded bool `json:"superseded,omitempty"`
}

// New creates a manifest for a run that started at startedAt.
func New(outputDir string, startedAt time.Time) *RunManifest {
	return &RunManifest{
		RunID:     uuid.New().String(),
		StartedAt: startedAt.UTC(),
		OutputDir: outputDir,
		Algorithm: FingerprintAlgorithm,
	}
}

// Add appends an entry.
func (m *RunManifest) Add(entry FileEntry) {
	m.Files = append(m.Files, entry)
}

// Fingerprint returns the murmur3-128 hex digest and size of a file.
func Fingerprint(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("manifest: failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := murmur3.New128()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("manifest: failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Finish stamps the completion time.
func (m *RunManifest) Finish(finishedAt time.Time) {
	m.FinishedAt = finishedAt.UTC()
}

// WriteToFile writes the manifest as indented JSON, replacing any previous
// manifest atomically.
func (m *RunManifest) WriteToFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: failed to marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("manifest: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: failed to write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: failed to write: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: failed to replace %s: %w", path, err)
	}
	return nil
}
