// Package search implements the semantic search use case: validate the
// request, embed the query, query the vector store, and apply threshold and
// content stripping.
package search

import (
	"strconv"

	"github.com/dshills/sca/internal/embedder"
	"github.com/dshills/sca/internal/vector"
	"github.com/dshills/sca/pkg/types"
)

// Limits on request parameters.
const (
	MinTopK     = 1
	MaxTopK     = 50
	DefaultTopK = 5
)

// Request is a semantic search request.
type Request struct {
	Query          string
	TopK           int
	Threshold      *float32
	FilterExpr     string
	IncludeContent bool
}

// Response carries the ordered results.
type Response struct {
	Results []types.SearchResult `json:"results"`
}

// Searcher runs queries against one collection.
type Searcher struct {
	embedder embedder.Embedder
	store    vector.Store
}

// New creates a searcher.
func New(emb embedder.Embedder, store vector.Store) *Searcher {
	return &Searcher{embedder: emb, store: store}
}

// Search validates the request, embeds the query as a one-element batch, and
// returns up to TopK results ordered by (score desc, relativePath asc,
// startLine asc). Results below the threshold are dropped; content is
// stripped unless requested. Searching before any index exists fails with
// config:missing_index.
func (s *Searcher) Search(rc *types.RequestContext, collection types.CollectionName, req Request) (Response, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("search"); env != nil {
		return Response{}, env
	}
	if env := validate(&req); env != nil {
		return Response{}, env
	}

	filter, env := vector.ParseFilter(req.FilterExpr)
	if env != nil {
		return Response{}, env
	}

	exists, env := s.store.HasCollection(rc, collection)
	if env != nil {
		return Response{}, env
	}
	if !exists {
		return Response{}, types.Expected(types.CodeMissingIndex, "no index exists for this codebase; run index first").
			WithMeta("collection", collection.String())
	}

	vectors, env := s.embedder.EmbedBatch(rc, []string{req.Query})
	if env != nil {
		return Response{}, env
	}
	if len(vectors) != 1 {
		return Response{}, types.Invariant(types.CodeInternal, "embedder returned wrong vector count for query").
			WithMeta("found", strconv.Itoa(len(vectors)))
	}

	matches, env := s.store.Search(rc, collection, vectors[0], req.TopK, filter)
	if env != nil {
		return Response{}, env
	}

	results := make([]types.SearchResult, 0, len(matches))
	for _, match := range matches {
		if req.Threshold != nil && match.Score < *req.Threshold {
			continue
		}
		result := types.SearchResult{
			ChunkID:      match.Record.Document.ChunkID,
			RelativePath: match.Record.Document.RelativePath,
			StartLine:    match.Record.Document.StartLine,
			EndLine:      match.Record.Document.EndLine,
			Language:     match.Record.Document.Language,
			Score:        match.Score,
		}
		if req.IncludeContent {
			result.Content = match.Record.Document.Content
		}
		results = append(results, result)
	}
	return Response{Results: results}, nil
}

func validate(req *Request) *types.ErrorEnvelope {
	if req.Query == "" {
		return types.Expected(types.CodeInvalidValue, "query must be non-empty")
	}
	if req.TopK == 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK < MinTopK || req.TopK > MaxTopK {
		return types.Expected(types.CodeInvalidValue, "topK out of range").
			WithMeta("topK", strconv.Itoa(req.TopK)).
			WithMeta("min", strconv.Itoa(MinTopK)).
			WithMeta("max", strconv.Itoa(MaxTopK))
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		return types.Expected(types.CodeInvalidValue, "threshold must be within [0, 1]").
			WithMeta("threshold", strconv.FormatFloat(float64(*req.Threshold), 'f', -1, 32))
	}
	return nil
}
