package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sca/internal/embedder"
	"github.com/dshills/sca/internal/vector"
	"github.com/dshills/sca/pkg/types"
)

func setup(t *testing.T) (*Searcher, vector.Store, types.CollectionName, *types.RequestContext) {
	t.Helper()
	emb := embedder.NewLocal(embedder.WithDimension(32))
	store := vector.NewLocalStore(t.TempDir())
	rc := types.NewRequestContext(context.Background())
	return New(emb, store), store, types.CollectionName("code_chunks_search"), rc
}

func seed(t *testing.T, store vector.Store, rc *types.RequestContext, name types.CollectionName, docs ...types.Document) {
	t.Helper()
	emb := embedder.NewLocal(embedder.WithDimension(32))
	records := make([]vector.Record, 0, len(docs))
	for _, doc := range docs {
		vectors, envErr := emb.EmbedBatch(rc, []string{doc.Content})
		require.Nil(t, envErr)
		records = append(records, vector.Record{
			ID:       doc.ChunkID.String(),
			Vector:   vectors[0],
			Document: doc,
		})
	}
	require.Nil(t, store.Upsert(rc, name, records))
}

func doc(id, path, content string, lang types.Language) types.Document {
	rel := types.RelativePath(path)
	return types.Document{
		ChunkID:       types.ChunkID(id),
		RelativePath:  rel,
		StartLine:     1,
		EndLine:       3,
		Language:      lang,
		FileExtension: rel.Extension(),
		Content:       content,
	}
}

func TestSearchReturnsResults(t *testing.T) {
	s, store, name, rc := setup(t)
	seed(t, store, rc, name,
		doc("chunk_1", "src/main.rs", "fn main() {}\n", types.LangRust),
		doc("chunk_2", "src/lib.rs", "pub fn helper() {}\n", types.LangRust),
	)

	resp, envErr := s.Search(rc, name, Request{Query: "main function", IncludeContent: true})
	require.Nil(t, envErr)
	require.NotEmpty(t, resp.Results)
	assert.LessOrEqual(t, len(resp.Results), DefaultTopK)
	assert.NotEmpty(t, resp.Results[0].Content)
	assert.NotEmpty(t, resp.Results[0].ChunkID)
}

func TestSearchStripsContentByDefault(t *testing.T) {
	s, store, name, rc := setup(t)
	seed(t, store, rc, name, doc("chunk_1", "a.go", "package a\n", types.LangGo))

	resp, envErr := s.Search(rc, name, Request{Query: "package"})
	require.Nil(t, envErr)
	require.NotEmpty(t, resp.Results)
	assert.Empty(t, resp.Results[0].Content)
}

func TestSearchValidation(t *testing.T) {
	s, _, name, rc := setup(t)

	_, envErr := s.Search(rc, name, Request{Query: ""})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeInvalidValue, envErr.Code)

	_, envErr = s.Search(rc, name, Request{Query: "x", TopK: 51})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeInvalidValue, envErr.Code)

	_, envErr = s.Search(rc, name, Request{Query: "x", TopK: -1})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeInvalidValue, envErr.Code)

	bad := float32(1.5)
	_, envErr = s.Search(rc, name, Request{Query: "x", Threshold: &bad})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeInvalidValue, envErr.Code)
}

func TestSearchInvalidFilterExpr(t *testing.T) {
	s, _, name, rc := setup(t)

	_, envErr := s.Search(rc, name, Request{
		Query:      "x",
		FilterExpr: `language=='rust' && startLine > 10`,
	})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeInvalidFilterExpr, envErr.Code)
	assert.Equal(t, types.KindExpected, envErr.Kind)
}

func TestSearchMissingIndex(t *testing.T) {
	s, _, name, rc := setup(t)

	_, envErr := s.Search(rc, name, Request{Query: "anything"})
	require.NotNil(t, envErr)
	assert.Equal(t, types.CodeMissingIndex, envErr.Code)
	assert.Equal(t, types.KindExpected, envErr.Kind)
	assert.Equal(t, types.NonRetriable, envErr.Class)
}

func TestSearchFilterNarrowsResults(t *testing.T) {
	s, store, name, rc := setup(t)
	seed(t, store, rc, name,
		doc("chunk_rs", "main.rs", "fn main() {}\n", types.LangRust),
		doc("chunk_go", "main.go", "func main() {}\n", types.LangGo),
	)

	resp, envErr := s.Search(rc, name, Request{Query: "main", FilterExpr: `language == 'go'`})
	require.Nil(t, envErr)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, types.LangGo, resp.Results[0].Language)
}

func TestSearchThresholdDropsLowScores(t *testing.T) {
	s, store, name, rc := setup(t)
	seed(t, store, rc, name,
		doc("chunk_1", "a.go", "alpha beta\n", types.LangGo),
		doc("chunk_2", "b.go", "completely different text\n", types.LangGo),
	)

	// A self-query scores ~1.0 against its own chunk.
	threshold := float32(0.99)
	resp, envErr := s.Search(rc, name, Request{Query: "alpha beta\n", Threshold: &threshold})
	require.Nil(t, envErr)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, types.ChunkID("chunk_1"), resp.Results[0].ChunkID)
}

func TestSearchCancelled(t *testing.T) {
	s, _, name, rc := setup(t)
	rc.Cancel()

	_, envErr := s.Search(rc, name, Request{Query: "x"})
	require.NotNil(t, envErr)
	assert.True(t, envErr.IsCancelled())
}
