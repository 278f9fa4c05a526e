package storage

import (
	"fmt"
	"path"
	"strings"
)

// cleanObjectPath normalizes a slash-separated object path and rejects
// absolute paths and parent references.
func cleanObjectPath(objectPath string) (string, error) {
	if strings.HasPrefix(objectPath, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, objectPath)
	}
	cleaned := path.Clean("/" + objectPath)[1:]
	for _, seg := range strings.Split(objectPath, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q leaves the storage root", ErrInvalidPath, objectPath)
		}
	}
	return cleaned, nil
}

// ObjectPath joins a prefix and a name into an object path.
func ObjectPath(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
