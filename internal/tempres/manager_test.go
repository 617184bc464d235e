package tempres

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myinspectra/inspectra-go/internal/blobstore"
	"github.com/myinspectra/inspectra-go/internal/logging"
	"github.com/myinspectra/inspectra-go/internal/testutil"
)

func TestMain(m *testing.M) {
	logging.Init(false)
	os.Exit(m.Run())
}

func TestMaterialize_NativePathPassthrough(t *testing.T) {
	store, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ref, err := store.Save("raw_images/case/img.png", []byte("pixels"))
	require.NoError(t, err)

	m := NewManager()
	defer m.Release()

	path, err := m.Materialize(store, ref)

	require.NoError(t, err)
	native, ok := store.NativePath(ref)
	require.True(t, ok)
	assert.Equal(t, native, path)
	// Native paths are not recorded, Release must not delete them.
	m.Release()
	_, err = os.Stat(native)
	assert.NoError(t, err)
}

func TestMaterialize_RemoteBlobStreamsToTempFile(t *testing.T) {
	store := testutil.NewBlobStore()
	ref, err := store.Save("masks/case/v1/lung.png", []byte("maskdata"))
	require.NoError(t, err)

	m := NewManager()
	path, err := m.Materialize(store, ref)

	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".png"), "temp file should keep the blob extension")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("maskdata"), data)

	m.Release()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "Release should delete the temp file")
}

func TestRelease_ToleratesMissingFiles(t *testing.T) {
	store := testutil.NewBlobStore()
	ref, err := store.Save("heatmaps/case/v1/nodule.png", []byte("data"))
	require.NoError(t, err)

	m := NewManager()
	path, err := m.Materialize(store, ref)
	require.NoError(t, err)

	// Simulate an external cleanup between materialize and release.
	require.NoError(t, os.Remove(path))

	assert.NotPanics(t, func() { m.Release() })
}

func TestRelease_RemovesAllRecordedFiles(t *testing.T) {
	store := testutil.NewBlobStore()
	m := NewManager()

	var paths []string
	for _, name := range []string{"a.png", "b.png", "c.jpg"} {
		ref, err := store.Save("artifacts/"+name, []byte(name))
		require.NoError(t, err)
		path, err := m.Materialize(store, ref)
		require.NoError(t, err)
		paths = append(paths, path)
	}

	m.Release()

	for _, path := range paths {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "expected %s to be removed", filepath.Base(path))
	}
}
