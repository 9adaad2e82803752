package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherSegmentSubsequence(t *testing.T) {
	m := NewMatcher([]string{"node_modules/", "target", "docs/generated"})

	assert.True(t, m.Ignored("node_modules/pkg/index.js"))
	assert.True(t, m.Ignored("src/node_modules/pkg/index.js"))
	assert.True(t, m.Ignored("target/debug/main"))
	assert.True(t, m.Ignored("docs/generated/api.md"))
	assert.True(t, m.Ignored("site/docs/generated/api.md"))

	// Sub-sequence must be contiguous; no partial segment matches.
	assert.False(t, m.Ignored("docs/other/generated/api.md"))
	assert.False(t, m.Ignored("node_modules_backup/file.js"))
	assert.False(t, m.Ignored("src/main.rs"))
}

func TestMatcherCaseSensitive(t *testing.T) {
	m := NewMatcher([]string{"Build"})
	assert.True(t, m.Ignored("Build/out.txt"))
	assert.False(t, m.Ignored("build/out.txt"))
}

func TestMatcherNormalizesPatterns(t *testing.T) {
	m := NewMatcher([]string{"  ./vendor//cache/  ", `win\dir`})
	assert.True(t, m.Ignored("vendor/cache/x.go"))
	assert.True(t, m.Ignored("a/win/dir/b"))
}

func TestStateDirAlwaysIgnored(t *testing.T) {
	m := NewMatcher(nil)
	assert.True(t, m.Ignored(".context/config.toml"))
	assert.True(t, m.Ignored(".context"))
	assert.False(t, m.Ignored(".contextignore"))
}

func TestEmptyAndBlankPatternsAreDropped(t *testing.T) {
	m := NewMatcher([]string{"", "   ", "/"})
	assert.False(t, m.Ignored("src/main.go"))
}

func TestNewMatcherForRootReadsIgnoreFile(t *testing.T) {
	root := t.TempDir()
	content := "# build output\ntarget/\n\nvendor\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFileName), []byte(content), 0o644))

	m, envErr := NewMatcherForRoot(root, []string{"dist"})
	require.Nil(t, envErr)

	assert.True(t, m.Ignored("target/out"))
	assert.True(t, m.Ignored("vendor/lib.go"))
	assert.True(t, m.Ignored("dist/bundle.js"))
	assert.False(t, m.Ignored("src/lib.go"))
}

func TestNewMatcherForRootMissingFile(t *testing.T) {
	m, envErr := NewMatcherForRoot(t.TempDir(), []string{"dist"})
	require.Nil(t, envErr)
	assert.True(t, m.Ignored("dist/bundle.js"))
}
