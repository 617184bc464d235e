// Package tempres provides scoped local materialization of blobs that may
// live in remote storage, with guaranteed cleanup.
package tempres

import (
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/myinspectra/inspectra-go/internal/blobstore"
	"github.com/myinspectra/inspectra-go/internal/errors"
	"github.com/myinspectra/inspectra-go/internal/logging"
)

// Manager records the temp files it creates so the owning workflow can release
// them on every exit path. A Manager is private to one workflow invocation and
// not safe for concurrent use.
type Manager struct {
	log       *slog.Logger
	tempFiles []string
}

// NewManager creates an empty temp resource manager.
func NewManager() *Manager {
	return &Manager{log: logging.ForService("tempres")}
}

// Materialize returns a local filesystem path for the blob. When the store
// exposes a native path it is returned as-is; otherwise the blob is streamed
// to a uniquely named temp file preserving the original extension, and the
// file is recorded for Release.
func (m *Manager) Materialize(store blobstore.Store, ref blobstore.Ref) (string, error) {
	if p, ok := store.NativePath(ref); ok {
		return p, nil
	}

	data, err := store.Open(ref)
	if err != nil {
		return "", err
	}

	ext := path.Ext(string(ref))
	tf, err := os.CreateTemp("", "inspectra-*"+ext)
	if err != nil {
		return "", errors.New(fmt.Errorf("creating temp file for %s: %w", ref, err)).
			Component("tempres").
			Category(errors.CategoryFileIO).
			Build()
	}

	if _, err := tf.Write(data); err != nil {
		tf.Close()
		os.Remove(tf.Name())
		return "", errors.New(fmt.Errorf("writing temp file for %s: %w", ref, err)).
			Component("tempres").
			Category(errors.CategoryFileIO).
			Build()
	}
	if err := tf.Close(); err != nil {
		os.Remove(tf.Name())
		return "", errors.New(fmt.Errorf("closing temp file for %s: %w", ref, err)).
			Component("tempres").
			Category(errors.CategoryFileIO).
			Build()
	}

	m.tempFiles = append(m.tempFiles, tf.Name())
	return tf.Name(), nil
}

// Release deletes every recorded temp file, tolerating already missing ones.
func (m *Manager) Release() {
	for _, p := range m.tempFiles {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			m.log.Warn("failed to remove temp file", "path", p, "error", err)
		}
	}
	m.tempFiles = nil
}
