package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"tos-rag/internal/config"
	"tos-rag/internal/metrics"
	"tos-rag/internal/models"
)

// NewEmbedder creates a langchaingo embedder for the configured provider
func NewEmbedder(llmConfig *config.LLMConfig, batchSize int) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating embedder")

	var client embeddings.EmbedderClient
	switch llmConfig.Provider {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		client = llm
	case "openai":
		llm, err := openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithEmbeddingModel(llmConfig.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", llmConfig.Provider)
	}
	return embeddings.NewEmbedder(client, embeddings.WithBatchSize(batchSize))
}

// BatchProgress is reported after every batch. Err is set when the batch
// failed and was replaced with zero vectors.
type BatchProgress struct {
	Done  int
	Total int
	Err   error
}

type BatchResult struct {
	Vectors       [][]float32
	Batches       int
	FailedBatches int
}

// AllFailed reports whether no batch produced a real embedding.
func (r *BatchResult) AllFailed() bool {
	return r.Batches > 0 && r.FailedBatches == r.Batches
}

// Gateway turns chunk texts into fixed-length vectors. It is safe for
// concurrent use as long as the underlying embedder is.
type Gateway struct {
	embedder  embeddings.Embedder
	batchSize int
	dimension int
	delay     time.Duration
}

func NewGateway(embedder embeddings.Embedder, batchSize, dimension int, delay time.Duration) *Gateway {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Gateway{embedder: embedder, batchSize: batchSize, dimension: dimension, delay: delay}
}

func (g *Gateway) Dimension() int { return g.dimension }

// EmbedBatch embeds texts in batches spaced by the configured delay. A
// failed batch yields zero vectors, so the result always has one vector per
// text, in order. The error is non-nil only when ctx ends.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string, onBatch func(BatchProgress)) (*BatchResult, error) {
	res := &BatchResult{Vectors: make([][]float32, 0, len(texts))}

	var limiter *rate.Limiter
	if g.delay > 0 {
		limiter = rate.NewLimiter(rate.Every(g.delay), 1)
	}

	for start := 0; start < len(texts); start += g.batchSize {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+g.batchSize, len(texts))
		batch := texts[start:end]

		vectors, err := g.embedder.EmbedDocuments(ctx, batch)
		if err == nil {
			err = g.check(vectors, len(batch))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Int("start", start).Int("size", len(batch)).Msg("Embedding batch failed, using zero vectors")
			metrics.EmbeddingBatches.WithLabelValues("failed").Inc()
			err = fmt.Errorf("%w (chunks %d-%d): %v", models.ErrEmbeddingBatch, start, end-1, err)
			vectors = zeroVectors(len(batch), g.dimension)
			res.FailedBatches++
		} else {
			metrics.EmbeddingBatches.WithLabelValues("ok").Inc()
		}

		res.Vectors = append(res.Vectors, vectors...)
		res.Batches++
		if onBatch != nil {
			onBatch(BatchProgress{Done: end, Total: len(texts), Err: err})
		}
	}
	return res, nil
}

// EmbedQuery embeds the retrieval intent.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := g.embedder.EmbedQuery(ctx, text)
	if err == nil {
		err = g.check([][]float32{vector}, 1)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrQueryEmbedding, err)
	}
	return vector, nil
}

func (g *Gateway) check(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("got %d vectors for %d texts", len(vectors), want)
	}
	for _, v := range vectors {
		if len(v) != g.dimension {
			return fmt.Errorf("got vector of length %d, want %d", len(v), g.dimension)
		}
	}
	return nil
}

func zeroVectors(n, dimension int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dimension)
	}
	return out
}
