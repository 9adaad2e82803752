package splitter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sca/pkg/types"
)

func testCtx() *types.RequestContext {
	return types.NewRequestContext(context.Background())
}

func TestSplitGoFileAlongASTBoundaries(t *testing.T) {
	content := `package demo

import "fmt"

func First() {
	fmt.Println("first")
}

func Second() {
	fmt.Println("second")
}
`
	s := New()
	chunks, envErr := s.Split(testCtx(), "demo.go", content, types.LangGo, Options{ChunkSizeLines: 6, OverlapLines: 0})
	require.Nil(t, envErr)
	require.NotEmpty(t, chunks)

	// Chunks come out in ascending line order and cover both functions.
	last := 0
	var joined strings.Builder
	for _, chunk := range chunks {
		assert.Greater(t, chunk.Span.Start, last)
		last = chunk.Span.Start
		joined.WriteString(chunk.Content)
	}
	assert.Contains(t, joined.String(), "func First()")
	assert.Contains(t, joined.String(), "func Second()")
}

func TestSplitFallbackLineChunking(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("line\n")
	}

	s := New()
	chunks, envErr := s.Split(testCtx(), "notes.txt", b.String(), types.LangOther, Options{ChunkSizeLines: 4, OverlapLines: 0})
	require.Nil(t, envErr)
	require.Len(t, chunks, 3)

	assert.Equal(t, 1, chunks[0].Span.Start)
	assert.Equal(t, 4, chunks[0].Span.End)
	assert.Equal(t, 5, chunks[1].Span.Start)
	assert.Equal(t, 8, chunks[1].Span.End)
	assert.Equal(t, 9, chunks[2].Span.Start)
	assert.Equal(t, 10, chunks[2].Span.End)
}

func TestSplitOverlapExtendsBackwards(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		b.WriteString("line\n")
	}

	s := New()
	chunks, envErr := s.Split(testCtx(), "notes.txt", b.String(), types.LangOther, Options{ChunkSizeLines: 4, OverlapLines: 2})
	require.Nil(t, envErr)
	require.Len(t, chunks, 2)

	assert.Equal(t, 1, chunks[0].Span.Start)
	// Second window starts two lines early.
	assert.Equal(t, 3, chunks[1].Span.Start)
	assert.Equal(t, 8, chunks[1].Span.End)
}

func TestSplitRejectsBadOptions(t *testing.T) {
	s := New()

	_, envErr := s.Split(testCtx(), "x.txt", "content\n", types.LangOther, Options{ChunkSizeLines: -1})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeSplitterInput, envErr.Code)

	_, envErr = s.Split(testCtx(), "x.txt", "content\n", types.LangOther, Options{ChunkSizeLines: 4, OverlapLines: 4})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeSplitterInput, envErr.Code)
}

func TestSplitCharLimitSubdivides(t *testing.T) {
	line := strings.Repeat("x", 30) + "\n"
	content := strings.Repeat(line, 6)

	s := New()
	chunks, envErr := s.Split(testCtx(), "big.txt", content, types.LangOther, Options{ChunkSizeLines: 100, OverlapLines: 0, MaxChunkChars: 70})
	require.Nil(t, envErr)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Content), 70)
	}
}

func TestSplitSkipsBlankChunks(t *testing.T) {
	content := "\n\n\n\n"
	s := New()
	chunks, envErr := s.Split(testCtx(), "blank.txt", content, types.LangOther, Options{ChunkSizeLines: 2})
	require.Nil(t, envErr)
	assert.Empty(t, chunks)
}

func TestSplitDeterministicIdentity(t *testing.T) {
	content := "package demo\n\nfunc A() {}\n"
	s := New()

	first, envErr := s.Split(testCtx(), "demo.go", content, types.LangGo, Options{})
	require.Nil(t, envErr)
	second, envErr := s.Split(testCtx(), "demo.go", content, types.LangGo, Options{})
	require.Nil(t, envErr)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].ContentHash, second[i].ContentHash)
	}
}

func TestSplitCancelled(t *testing.T) {
	rc := types.NewRequestContext(context.Background())
	rc.Cancel()

	s := New()
	_, envErr := s.Split(rc, "x.go", "package x\n", types.LangGo, Options{})
	require.NotNil(t, envErr)
	assert.True(t, envErr.IsCancelled())
}

func TestGrammarSelection(t *testing.T) {
	assert.NotNil(t, grammarFor(types.LangRust, "main.rs"))
	assert.NotNil(t, grammarFor(types.LangTypeScript, "app.tsx"))
	assert.NotNil(t, grammarFor(types.LangTypeScript, "app.ts"))
	assert.NotNil(t, grammarFor(types.LangCpp, "core.cc"))
	assert.Nil(t, grammarFor(types.LangOther, "notes.txt"))
}
