package parser

import (
	"github.com/google/uuid"

	"tos-rag/internal/models"
)

const (
	defaultChunkSize      = 1500 // runes
	defaultChunkOverlap   = 200  // runes
	defaultMinChunkLength = 100  // runes
)

// Chunker slices documents into fixed windows that overlap by a fixed amount.
// Boundaries depend only on text length, never on content.
type Chunker struct {
	size      int
	overlap   int
	minLength int
}

func NewChunker(size, overlap, minLength int) *Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(defaultChunkOverlap, size/2)
	}
	if minLength < 0 {
		minLength = defaultMinChunkLength
	}
	return &Chunker{size: size, overlap: overlap, minLength: minLength}
}

// Chunk slices every document in order.
func (c *Chunker) Chunk(docs []models.Document) []models.Chunk {
	var chunks []models.Chunk
	for _, d := range docs {
		chunks = append(chunks, c.ChunkText(d.URL, d.Text)...)
	}
	return chunks
}

// ChunkText starts a window every size-overlap runes; windows shorter than
// minLength (the tail of the text) are dropped.
func (c *Chunker) ChunkText(source, text string) []models.Chunk {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	step := c.size - c.overlap

	var chunks []models.Chunk
	for start := 0; start < len(runes); start += step {
		end := min(start+c.size, len(runes))
		if end-start < c.minLength {
			continue
		}
		chunks = append(chunks, models.Chunk{
			ID:     uuid.NewString(),
			Text:   string(runes[start:end]),
			Source: source,
		})
	}
	return chunks
}
