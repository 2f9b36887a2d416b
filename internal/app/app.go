// Package app builds the pipeline and its collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"tos-rag/internal/chromemdb"
	"tos-rag/internal/config"
	"tos-rag/internal/db"
	"tos-rag/internal/embedding"
	"tos-rag/internal/fetcher"
	"tos-rag/internal/index"
	"tos-rag/internal/llmservice"
	"tos-rag/internal/parser"
	"tos-rag/internal/rag"
	"tos-rag/internal/weaviatedb"
)

const probeTimeout = 5 * time.Second

type App struct {
	Config   *config.Config
	Pipeline *rag.Pipeline
	Models   *llmservice.ModelLister
	Index    *index.Provider

	renderers []fetcher.Renderer
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	strategies, err := Strategies(cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM, cfg.RAG.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	gateway := embedding.NewGateway(embedder, cfg.RAG.BatchSize, cfg.RAG.EmbeddingDimension, cfg.RAG.BatchDelay)

	llm, err := llmservice.NewLLM(&cfg.InferenceLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}

	documents := fetcher.NewHTTPRenderer(cfg.Fetcher.UserAgent)
	var pages fetcher.Renderer = documents
	if cfg.Fetcher.Renderer == "chrome" {
		pages = fetcher.NewChromeRenderer(cfg.Fetcher.UserAgent)
	}

	provider := index.Resolve(ctx, strategies)

	pipeline := rag.New(
		fetcher.New(pages, documents, fetcher.OptionsFromConfig(&cfg.Fetcher)),
		parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, cfg.RAG.MinChunkLength),
		gateway,
		provider,
		llmservice.NewAnalyzer(llm, cfg.Models.Language),
		rag.OptionsFromConfig(cfg),
	)

	a := &App{
		Config:   cfg,
		Pipeline: pipeline,
		Models:   llmservice.NewModelLister(&cfg.InferenceLLM, &cfg.Models),
		Index:    provider,

		renderers: []fetcher.Renderer{documents},
	}
	if pages != documents {
		a.renderers = append(a.renderers, pages)
	}
	return a, nil
}

// Strategies maps the configured names onto index strategies, keeping the
// configured order. Each probe is bounded by probeTimeout.
func Strategies(cfg *config.Config) ([]index.Strategy, error) {
	var out []index.Strategy
	for _, name := range cfg.RAG.Strategies {
		var s index.Strategy
		switch name {
		case weaviatedb.StrategyName:
			s = weaviatedb.Strategy(&cfg.Weaviate)
		case db.StrategyName:
			s = db.Strategy(&cfg.Database)
		case chromemdb.StrategyPersistent:
			s = chromemdb.PersistentStrategy(cfg.RAG.PersistPath)
		case chromemdb.StrategyMemory:
			s = chromemdb.MemoryStrategy()
		default:
			return nil, fmt.Errorf("unknown index strategy %q", name)
		}
		out = append(out, withTimeout(s, probeTimeout))
	}
	return out, nil
}

func withTimeout(s index.Strategy, d time.Duration) index.Strategy {
	open := s.Open
	s.Open = func(ctx context.Context) (index.Backend, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return open(ctx)
	}
	return s
}

func (a *App) Close() error {
	var errs []error
	for _, r := range a.renderers {
		errs = append(errs, r.Close())
	}
	errs = append(errs, a.Index.Close())
	log.Debug().Msg("Application resources released")
	return errors.Join(errs...)
}
