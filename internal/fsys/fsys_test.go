package fsys

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sca/pkg/types"
)

func newTestFS(t *testing.T) (*Local, string) {
	t.Helper()
	root := t.TempDir()
	return NewLocal(root), root
}

func TestListDirSorted(t *testing.T) {
	fs, root := newTestFS(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "zeta.go"), []byte("z"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "alpha.go"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "mid"), 0o755))

	rc := types.NewRequestContext(context.Background())
	entries, envErr := fs.ListDir(rc, ".")
	require.Nil(t, envErr)

	require.Len(t, entries, 3)
	assert.Equal(t, "alpha.go", entries[0].Name)
	assert.Equal(t, KindFile, entries[0].Kind)
	assert.Equal(t, "mid", entries[1].Name)
	assert.Equal(t, KindDirectory, entries[1].Kind)
	assert.Equal(t, "zeta.go", entries[2].Name)
}

func TestReadFile(t *testing.T) {
	fs, root := newTestFS(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main\n"), 0o644))

	rc := types.NewRequestContext(context.Background())
	content, envErr := fs.ReadFile(rc, "src/main.go", ReadOptions{})
	require.Nil(t, envErr)
	assert.Equal(t, "package main\n", content)
}

func TestReadFileMaxSize(t *testing.T) {
	fs, root := newTestFS(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.go"), []byte("0123456789"), 0o644))

	rc := types.NewRequestContext(context.Background())
	_, envErr := fs.ReadFile(rc, "big.go", ReadOptions{MaxSizeBytes: 5})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeInvalidValue, envErr.Code)

	content, envErr := fs.ReadFile(rc, "big.go", ReadOptions{MaxSizeBytes: 10})
	require.Nil(t, envErr)
	assert.Equal(t, "0123456789", content)
}

func TestReadFileRejectsBinary(t *testing.T) {
	fs, root := newTestFS(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0xff, 0xfe, 0x00, 0x80}, 0o644))

	rc := types.NewRequestContext(context.Background())
	_, envErr := fs.ReadFile(rc, "blob.bin", ReadOptions{})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeSplitterInput, envErr.Code)
}

func TestPathPolicyEnforced(t *testing.T) {
	fs, _ := newTestFS(t)
	rc := types.NewRequestContext(context.Background())

	for _, path := range []string{"/etc/passwd", "../escape", ".context/config.toml"} {
		_, envErr := fs.ReadFile(rc, path, ReadOptions{})
		require.NotNil(t, envErr, "path %q", path)
		assert.Equal(t, types.CodeInvalidPath, envErr.Code, "path %q", path)
	}
}

func TestStat(t *testing.T) {
	fs, root := newTestFS(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.go"), []byte("12345"), 0o644))

	rc := types.NewRequestContext(context.Background())
	stat, envErr := fs.Stat(rc, "f.go")
	require.Nil(t, envErr)
	assert.Equal(t, int64(5), stat.SizeBytes)
	assert.Equal(t, KindFile, stat.Kind)

	_, envErr = fs.Stat(rc, "missing.go")
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeNotFound, envErr.Code)
}

func TestCancelledContext(t *testing.T) {
	fs, _ := newTestFS(t)
	rc := types.NewRequestContext(context.Background())
	rc.Cancel()

	_, envErr := fs.ListDir(rc, ".")
	require.NotNil(t, envErr)
	assert.True(t, envErr.IsCancelled())
}
