// Package splitter turns source files into line-spanning chunks. Recognized
// languages are parsed with tree-sitter and chunked along top-level AST
// boundaries; everything else falls back to fixed-size line windows. Output
// ordering is deterministic: chunks are emitted in ascending line order.
package splitter

import (
	"strconv"
	"strings"

	"github.com/dshills/sca/pkg/types"
)

// Defaults applied when options leave fields zero.
const (
	DefaultChunkSizeLines = 200
	DefaultOverlapLines   = 40
	DefaultMaxChunkChars  = 2500
)

// Options control chunk sizing.
type Options struct {
	// ChunkSizeLines is the target chunk height in lines. Must be >= 1.
	ChunkSizeLines int
	// OverlapLines extends each chunk backwards over its predecessor.
	// Must be < ChunkSizeLines.
	OverlapLines int
	// MaxChunkChars splits ranges whose content exceeds this size.
	MaxChunkChars int
}

func (o *Options) normalize() *types.ErrorEnvelope {
	if o.ChunkSizeLines == 0 {
		o.ChunkSizeLines = DefaultChunkSizeLines
	}
	if o.MaxChunkChars == 0 {
		o.MaxChunkChars = DefaultMaxChunkChars
	}
	if o.ChunkSizeLines < 1 {
		return types.Expected(types.CodeSplitterInput, "chunk size must be >= 1").
			WithMeta("chunk_size_lines", strconv.Itoa(o.ChunkSizeLines))
	}
	if o.OverlapLines < 0 || o.OverlapLines >= o.ChunkSizeLines {
		return types.Expected(types.CodeSplitterInput, "overlap must be smaller than chunk size").
			WithMeta("overlap_lines", strconv.Itoa(o.OverlapLines)).
			WithMeta("chunk_size_lines", strconv.Itoa(o.ChunkSizeLines))
	}
	return nil
}

// Splitter is the code-splitter adapter contract.
type Splitter interface {
	Split(rc *types.RequestContext, relativePath types.RelativePath, content string, language types.Language, opts Options) ([]types.Chunk, *types.ErrorEnvelope)
}

// TreeSitter is the AST-aware splitter with a line-based fallback.
type TreeSitter struct{}

// New creates a tree-sitter backed splitter.
func New() *TreeSitter {
	return &TreeSitter{}
}

// Split chunks content for the given language. AST parsing is best-effort:
// any parse failure falls back to line chunking rather than erroring, so a
// file with syntax errors still indexes.
func (s *TreeSitter) Split(rc *types.RequestContext, relativePath types.RelativePath, content string, language types.Language, opts Options) ([]types.Chunk, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("splitter.split"); env != nil {
		return nil, env
	}
	if env := opts.normalize(); env != nil {
		return nil, env
	}

	lines := collectLines(content)
	totalLines := len(lines)

	var ranges []lineRange
	if spans, ok := astSpans(rc.Context(), content, language, relativePath, totalLines); ok && len(spans) > 0 {
		ranges = mergeRanges(spans, opts.ChunkSizeLines, totalLines)
	} else {
		ranges = splitRange(1, totalLines, opts.ChunkSizeLines)
	}

	ranges = applyOverlap(ranges, opts.OverlapLines)
	ranges = splitByCharLimit(ranges, lines, opts.MaxChunkChars)

	chunks := make([]types.Chunk, 0, len(ranges))
	for _, r := range ranges {
		if env := rc.EnsureNotCancelled("splitter.build_chunks"); env != nil {
			return nil, env
		}
		text := joinLines(lines, r)
		if strings.TrimSpace(text) == "" {
			continue
		}
		span, envErr := types.NewLineSpan(r.start, r.end)
		if envErr != nil {
			return nil, types.Invariant(types.CodeInternal, "splitter produced invalid span").
				WithMeta("start_line", strconv.Itoa(r.start)).
				WithMeta("end_line", strconv.Itoa(r.end))
		}
		chunks = append(chunks, types.NewChunk(relativePath, span, language, text))
	}
	return chunks, nil
}

type lineRange struct {
	start int // 1-based inclusive
	end   int // 1-based inclusive
}

// collectLines splits content keeping line terminators, so joining ranges
// reproduces the original bytes. Empty content yields one empty line.
func collectLines(content string) []string {
	if content == "" {
		return []string{""}
	}
	var lines []string
	for len(content) > 0 {
		idx := strings.IndexByte(content, '\n')
		if idx < 0 {
			lines = append(lines, content)
			break
		}
		lines = append(lines, content[:idx+1])
		content = content[idx+1:]
	}
	return lines
}

func joinLines(lines []string, r lineRange) string {
	var b strings.Builder
	for i := r.start; i <= r.end && i <= len(lines); i++ {
		b.WriteString(lines[i-1])
	}
	return b.String()
}

// splitRange divides [start, end] into windows of at most size lines.
func splitRange(start, end, size int) []lineRange {
	if end < start {
		return nil
	}
	var out []lineRange
	for cur := start; cur <= end; cur += size {
		last := cur + size - 1
		if last > end {
			last = end
		}
		out = append(out, lineRange{start: cur, end: last})
	}
	return out
}

// mergeRanges coalesces adjacent AST spans while the merged height stays
// within the chunk size; oversized spans are split into windows.
func mergeRanges(spans []lineRange, size, totalLines int) []lineRange {
	var out []lineRange
	var current *lineRange

	for _, span := range spans {
		span = clampRange(span, totalLines)
		if span.end-span.start+1 > size {
			if current != nil {
				out = append(out, *current)
				current = nil
			}
			out = append(out, splitRange(span.start, span.end, size)...)
			continue
		}

		if current == nil {
			c := span
			current = &c
			continue
		}

		proposedEnd := current.end
		if span.end > proposedEnd {
			proposedEnd = span.end
		}
		if proposedEnd-current.start+1 > size {
			out = append(out, *current)
			c := span
			current = &c
		} else {
			current.end = proposedEnd
		}
	}

	if current != nil {
		out = append(out, *current)
	}
	return out
}

// applyOverlap extends every range after the first backwards, so adjacent
// chunks share context lines.
func applyOverlap(ranges []lineRange, overlap int) []lineRange {
	if overlap <= 0 {
		return ranges
	}
	for i := 1; i < len(ranges); i++ {
		start := ranges[i].start - overlap
		if start < 1 {
			start = 1
		}
		ranges[i].start = start
	}
	return ranges
}

// splitByCharLimit subdivides ranges whose content exceeds maxChars. A single
// line over the limit stays its own range; the pipeline drops it later.
func splitByCharLimit(ranges []lineRange, lines []string, maxChars int) []lineRange {
	if maxChars <= 0 {
		return ranges
	}

	var out []lineRange
	for _, r := range ranges {
		if rangeChars(lines, r) <= maxChars {
			out = append(out, r)
			continue
		}

		start := r.start
		chars := 0
		for line := r.start; line <= r.end; line++ {
			lineLen := len(lines[line-1])
			if chars > 0 && chars+lineLen > maxChars {
				out = append(out, lineRange{start: start, end: line - 1})
				start = line
				chars = 0
			}
			chars += lineLen
		}
		if start <= r.end {
			out = append(out, lineRange{start: start, end: r.end})
		}
	}
	return out
}

func rangeChars(lines []string, r lineRange) int {
	total := 0
	for i := r.start; i <= r.end && i <= len(lines); i++ {
		total += len(lines[i-1])
	}
	return total
}

func clampRange(r lineRange, totalLines int) lineRange {
	if r.start < 1 {
		r.start = 1
	}
	if r.end > totalLines {
		r.end = totalLines
	}
	if r.end < r.start {
		r.end = r.start
	}
	return r
}
