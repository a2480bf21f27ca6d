// Package docpath parses combined "collection/path/docId" references.
package docpath

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned when a qualified reference names a collection
// other than the one it was requested through.
var ErrInvalidPath = errors.New("invalid collection path")

// Split splits combined at its last '/'. Everything before is the collection
// path, everything after is the document id. Without a '/' the path is empty.
func Split(combined string) (path, id string) {
	i := strings.LastIndexByte(combined, '/')
	if i < 0 {
		return "", combined
	}
	return combined[:i], combined[i+1:]
}

// SplitWithin is Split with an expected collection path. A bare id resolves
// into defaultPath; a qualified reference must name defaultPath exactly.
// An empty defaultPath therefore only accepts bare ids.
func SplitWithin(combined, defaultPath string) (path, id string, err error) {
	path, id = Split(combined)
	if path == "" {
		path = defaultPath
	}
	if path != defaultPath {
		return "", "", fmt.Errorf("%w: %q (expected %q)", ErrInvalidPath, path, defaultPath)
	}
	return path, id, nil
}

// Join is the inverse of Split.
func Join(path, id string) string {
	if path == "" {
		return id
	}
	return path + "/" + id
}
