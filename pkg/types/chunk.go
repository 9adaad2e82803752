package types

import "strconv"

// LineSpan is an inclusive 1-based line range.
type LineSpan struct {
	Start int `json:"startLine"`
	End   int `json:"endLine"`
}

// NewLineSpan validates a line span: 1 <= start <= end.
func NewLineSpan(start, end int) (LineSpan, *ErrorEnvelope) {
	if start < 1 || end < 1 {
		return LineSpan{}, Expected(CodeInvalidValue, "line numbers must be >= 1").
			WithMeta("start_line", strconv.Itoa(start)).
			WithMeta("end_line", strconv.Itoa(end))
	}
	if start > end {
		return LineSpan{}, Expected(CodeInvalidValue, "startLine must be <= endLine").
			WithMeta("start_line", strconv.Itoa(start)).
			WithMeta("end_line", strconv.Itoa(end))
	}
	return LineSpan{Start: start, End: end}, nil
}

// Lines returns the number of lines covered by the span.
func (s LineSpan) Lines() int { return s.End - s.Start + 1 }

// Chunk is a contiguous range of source lines produced by the splitter.
// Chunks live for the duration of a pipeline run unless persisted as vector
// records.
type Chunk struct {
	ID           ChunkID
	RelativePath RelativePath
	Span         LineSpan
	Language     Language
	Content      string
	ContentHash  string
}

// NewChunk builds a chunk and derives its id from the identity fields.
func NewChunk(relativePath RelativePath, span LineSpan, language Language, content string) Chunk {
	return Chunk{
		ID:           DeriveChunkID(relativePath, span, content),
		RelativePath: relativePath,
		Span:         span,
		Language:     language,
		Content:      content,
		ContentHash:  HashContent([]byte(content)),
	}
}

// Document is the record stored per vector in a collection.
type Document struct {
	ChunkID       ChunkID      `json:"chunkId"`
	RelativePath  RelativePath `json:"relativePath"`
	StartLine     int          `json:"startLine"`
	EndLine       int          `json:"endLine"`
	Language      Language     `json:"language"`
	FileExtension string       `json:"fileExtension"`
	Content       string       `json:"content"`
}

// DocumentFromChunk builds the stored document for a chunk.
func DocumentFromChunk(chunk Chunk) Document {
	return Document{
		ChunkID:       chunk.ID,
		RelativePath:  chunk.RelativePath,
		StartLine:     chunk.Span.Start,
		EndLine:       chunk.Span.End,
		Language:      chunk.Language,
		FileExtension: chunk.RelativePath.Extension(),
		Content:       chunk.Content,
	}
}
