package flatten

import (
	"encoding/csv"
	"os"
	"path/filepath"

	ferrors "github.com/arkilian/xapiflat/internal/errors"
	"github.com/arkilian/xapiflat/pkg/types"
)

// writeCSV writes the header and rows to path and returns the file size.
// Output goes to a temporary file in the same directory that is renamed
// into place, so readers never observe a partial file.
func writeCSV(path string, header []string, rows []types.FlatRow) (int64, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, ferrors.NewOutputError(ferrors.CodeWriteFailed, "failed to create temporary output file", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		return 0, ferrors.NewOutputError(ferrors.CodeWriteFailed, "failed to write CSV header", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return 0, ferrors.NewOutputError(ferrors.CodeWriteFailed, "failed to write CSV row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, ferrors.NewOutputError(ferrors.CodeWriteFailed, "failed to flush CSV writer", err)
	}

	if err := tmp.Chmod(0644); err != nil {
		return 0, ferrors.NewOutputError(ferrors.CodeWriteFailed, "failed to set output permissions", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, ferrors.NewOutputError(ferrors.CodeWriteFailed, "failed to close output file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		committed = true
		return 0, ferrors.NewOutputError(ferrors.CodeWriteFailed, "failed to move output file into place", err)
	}
	committed = true

	info, err := os.Stat(path)
	if err != nil {
		return 0, ferrors.NewOutputError(ferrors.CodeWriteFailed, "failed to stat output file", err)
	}
	return info.Size(), nil
}
