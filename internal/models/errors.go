package models

import "errors"

var (
	// fatal to the run
	ErrFetchTimeout   = errors.New("page load timed out")
	ErrFetch          = errors.New("failed to fetch page")
	ErrQueryEmbedding = errors.New("failed to embed query")
	ErrAnalysis       = errors.New("analysis failed")

	// absorbed with a fallback
	ErrRelatedFetch     = errors.New("failed to fetch related page")
	ErrIndexUnavailable = errors.New("retrieval index unavailable")
	ErrEmbeddingBatch   = errors.New("embedding batch failed")

	ErrLengthMismatch = errors.New("chunks and vectors differ in length")
)
