package flatten

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ferrors "github.com/arkilian/xapiflat/internal/errors"
	"github.com/golang/snappy"
)

// snappyExt marks inputs stored as snappy framed streams.
const snappyExt = ".sz"

// readInput returns the document bytes at path, decompressing snappy
// framed input when the name ends in .sz.
func readInput(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ferrors.NewInputError(ferrors.CodeFileNotFound, "input file does not exist", err)
		}
		return nil, ferrors.NewInputError(ferrors.CodeReadFailed, "failed to open input file", err)
	}
	defer f.Close()

	var r io.Reader = f
	if isSnappy(path) {
		r = snappy.NewReader(f)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ferrors.NewInputError(ferrors.CodeReadFailed, "failed to read input file", err)
	}
	return data, nil
}

func isSnappy(path string) bool {
	return strings.EqualFold(filepath.Ext(path), snappyExt)
}

// Stem returns the base name of path without its final extension.
// A trailing .sz is removed first, so "page1.json.sz" yields "page1".
func Stem(path string) string {
	base := filepath.Base(path)
	// A name that is only ".sz" keeps it.
	if isSnappy(base) && len(base) > len(snappyExt) {
		base = base[:len(base)-len(snappyExt)]
	}
	ext := filepath.Ext(base)
	// A leading dot is part of the name, not an extension (".json" -> ".json").
	if ext == base {
		return base
	}
	return strings.TrimSuffix(base, ext)
}

// OutputPath returns the CSV path for input under outputDir.
func OutputPath(outputDir, input string) string {
	return filepath.Join(outputDir, Stem(input)+".csv")
}
