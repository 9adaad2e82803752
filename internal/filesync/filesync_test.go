package filesync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sca/internal/merkle"
	"github.com/dshills/sca/pkg/types"
)

func testCtx() *types.RequestContext {
	return types.NewRequestContext(context.Background())
}

func TestSnapshotPathKeyedByRootHash(t *testing.T) {
	store := NewLocal("/state/sync")

	path := store.SnapshotPath("/tmp/example-codebase")
	assert.Equal(t, filepath.Join("/state/sync", "ea6f3b5ec8b43d1c77f77f0c50a7390d.json"), path)

	// Normalized roots share a snapshot.
	assert.Equal(t, path, store.SnapshotPath("/tmp/example-codebase/"))
}

func TestLoadMissingReturnsNone(t *testing.T) {
	store := NewLocal(t.TempDir())
	snapshot, envErr := store.LoadSnapshot(testCtx(), "/some/root")
	require.Nil(t, envErr)
	assert.Nil(t, snapshot)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := NewLocal(t.TempDir())
	rc := testCtx()
	root := "/tmp/repo"

	snapshot := merkle.Build(map[types.RelativePath]string{
		"src/main.go": types.HashContent([]byte("package main\n")),
	})

	require.Nil(t, store.SaveSnapshot(rc, root, snapshot))

	loaded, envErr := store.LoadSnapshot(rc, root)
	require.Nil(t, envErr)
	require.NotNil(t, loaded)
	assert.Equal(t, snapshot.RootHash(), loaded.RootHash())
	assert.Equal(t, snapshot.FileHashes, loaded.FileHashes)
}

func TestLoadCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	store := NewLocal(dir)
	root := "/tmp/repo"

	require.NoError(t, os.WriteFile(store.SnapshotPath(root), []byte("{not json"), 0o644))

	_, envErr := store.LoadSnapshot(testCtx(), root)
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeCorruptSnapshot, envErr.Code)
	assert.Equal(t, types.KindUnexpected, envErr.Kind)
	assert.Equal(t, types.NonRetriable, envErr.Class)
}

func TestLoadVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	store := NewLocal(dir)
	root := "/tmp/repo"

	payload := `{"version": 42, "fileHashes": [], "dag": {"nodes": [], "rootIds": []}}`
	require.NoError(t, os.WriteFile(store.SnapshotPath(root), []byte(payload), 0o644))

	_, envErr := store.LoadSnapshot(testCtx(), root)
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeCorruptSnapshot, envErr.Code)
}

func TestDeleteSnapshot(t *testing.T) {
	store := NewLocal(t.TempDir())
	rc := testCtx()
	root := "/tmp/repo"

	snapshot := merkle.Build(map[types.RelativePath]string{"a.go": strings.Repeat("0", 64)})
	require.Nil(t, store.SaveSnapshot(rc, root, snapshot))
	require.Nil(t, store.DeleteSnapshot(rc, root))

	loaded, envErr := store.LoadSnapshot(rc, root)
	require.Nil(t, envErr)
	assert.Nil(t, loaded)

	// Deleting again is a no-op.
	require.Nil(t, store.DeleteSnapshot(rc, root))
}
