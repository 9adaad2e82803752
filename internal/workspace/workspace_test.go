package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sca/pkg/types"
)

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/tmp/example-codebase")

	assert.Equal(t, "/tmp/example-codebase", l.CodebaseRoot())
	assert.Equal(t, filepath.Join("/tmp/example-codebase", ".context"), l.StateDir())
	assert.Contains(t, l.CollectionsDir(), filepath.Join(".context", "vector", "collections"))
	assert.Contains(t, l.SyncDir(), filepath.Join(".context", "sync"))
}

func TestEnsureStateDir(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)

	assert.False(t, l.Exists())
	require.Nil(t, l.EnsureStateDir())
	assert.True(t, l.Exists())

	for _, dir := range []string{l.SyncDir(), l.CollectionsDir(), l.JobsDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestManifestCreateAndReload(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	require.Nil(t, l.EnsureStateDir())

	manifest, envErr := l.WriteManifest()
	require.Nil(t, envErr)
	assert.Equal(t, types.DeriveCodebaseID(root), manifest.CodebaseID)
	assert.Equal(t, ManifestSchemaVersion, manifest.SchemaVersion)
	assert.False(t, manifest.CreatedAt.IsZero())

	// A second write keeps the original manifest.
	again, envErr := l.WriteManifest()
	require.Nil(t, envErr)
	assert.Equal(t, manifest.CodebaseID, again.CodebaseID)
	assert.Equal(t, manifest.CreatedAt.Unix(), again.CreatedAt.Unix())
}

func TestReadManifestMissing(t *testing.T) {
	l := NewLayout(t.TempDir())
	_, envErr := l.ReadManifest()
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeNotFound, envErr.Code)
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	require.Nil(t, AtomicWriteFile(path, []byte(`{"ok":true}`)))

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(payload))

	// Overwrite leaves no temp files behind.
	require.Nil(t, AtomicWriteFile(path, []byte(`{"ok":false}`)))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
