// Package imageio resolves image references into pixel data and converts
// between image.Image and gocv.Mat.
package imageio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound indicates the referenced image does not exist in the source.
var ErrNotFound = errors.New("image not found")

// Source resolves an opaque image reference to raw encoded bytes. The
// pipeline never touches storage directly; callers inject whatever
// backend holds the scans.
type Source interface {
	Fetch(ref string) ([]byte, error)
}

// FileSource serves images from a directory tree. An empty root serves
// absolute or working-directory-relative paths as-is.
type FileSource struct {
	Root string
}

// Fetch reads the referenced file.
func (s FileSource) Fetch(ref string) ([]byte, error) {
	path := ref
	if s.Root != "" {
		path = filepath.Join(s.Root, ref)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("reading image %s: %w", ref, err)
	}
	return data, nil
}
