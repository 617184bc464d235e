// Package blobstore defines the opaque object store collaborator used for raw
// images, heatmaps, masks and overlays, plus a local filesystem implementation.
package blobstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/myinspectra/inspectra-go/internal/errors"
)

// Ref is an opaque reference to a stored blob.
type Ref string

// Store is the blob collaborator. Implementations may or may not expose a
// native filesystem path for a blob.
type Store interface {
	// Save stores data under the given logical path and returns its reference.
	Save(path string, data []byte) (Ref, error)
	// Open returns the blob's bytes.
	Open(ref Ref) ([]byte, error)
	// NativePath returns a local filesystem path for the blob when the backing
	// store is the local filesystem, and false otherwise.
	NativePath(ref Ref) (string, bool)
}

// FileStore stores blobs under a base directory on the local filesystem.
type FileStore struct {
	base string
}

// NewFileStore creates a filesystem blob store rooted at base.
func NewFileStore(base string) (*FileStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.New(fmt.Errorf("creating blob store root %s: %w", base, err)).
			Component("blobstore").
			Category(errors.CategoryFileIO).
			Build()
	}
	return &FileStore{base: base}, nil
}

// Save writes data to base/path, creating parent directories as needed.
func (fs *FileStore) Save(path string, data []byte) (Ref, error) {
	full := filepath.Join(fs.base, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errors.New(fmt.Errorf("creating blob directory: %w", err)).
			Component("blobstore").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", errors.New(fmt.Errorf("writing blob: %w", err)).
			Component("blobstore").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return Ref(path), nil
}

// Open reads the blob's bytes from disk.
func (fs *FileStore) Open(ref Ref) ([]byte, error) {
	data, err := os.ReadFile(fs.fullPath(ref))
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading blob %s: %w", ref, err)).
			Component("blobstore").
			Category(errors.CategoryFileIO).
			Build()
	}
	return data, nil
}

// NativePath returns the on-disk path of the blob.
func (fs *FileStore) NativePath(ref Ref) (string, bool) {
	full := fs.fullPath(ref)
	if _, err := os.Stat(full); err != nil {
		return "", false
	}
	return full, true
}

func (fs *FileStore) fullPath(ref Ref) string {
	return filepath.Join(fs.base, filepath.FromSlash(string(ref)))
}
