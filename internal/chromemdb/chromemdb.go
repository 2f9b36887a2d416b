package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"tos-rag/internal/helper"
	"tos-rag/internal/index"
	"tos-rag/internal/models"
)

const (
	StrategyMemory     = "chromem-memory"
	StrategyPersistent = "chromem-persistent"

	compress = false
)

var errNoEmbeddingFunc = errors.New("collections only accept precomputed embeddings")

// Backend hosts session collections in a chromem-go database.
type Backend struct {
	name string
	db   *chromem.DB
}

// NewMemoryBackend keeps collections in process memory only.
func NewMemoryBackend() *Backend {
	return &Backend{name: StrategyMemory, db: chromem.NewDB()}
}

// NewPersistentBackend stores collections under dbPath.
func NewPersistentBackend(dbPath string) (*Backend, error) {
	if err := helper.CreateFolder(dbPath); err != nil {
		return nil, err
	}
	db, err := chromem.NewPersistentDB(dbPath, compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	return &Backend{name: StrategyPersistent, db: db}, nil
}

// MemoryStrategy and PersistentStrategy plug the backends into index.Resolve.
func MemoryStrategy() index.Strategy {
	return index.Strategy{Name: StrategyMemory, Open: func(context.Context) (index.Backend, error) {
		return NewMemoryBackend(), nil
	}}
}

func PersistentStrategy(dbPath string) index.Strategy {
	return index.Strategy{Name: StrategyPersistent, Open: func(context.Context) (index.Backend, error) {
		return NewPersistentBackend(dbPath)
	}}
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Create(_ context.Context, collection string) error {
	if b.db.GetCollection(collection, noEmbedding) != nil {
		log.Debug().Str("collection", collection).Msg("Collection exists, recreating")
		if err := b.db.DeleteCollection(collection); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
	}
	if _, err := b.db.CreateCollection(collection, nil, noEmbedding); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (b *Backend) Add(ctx context.Context, collection string, chunks []models.Chunk, vectors [][]float32) error {
	c := b.db.GetCollection(collection, noEmbedding)
	if c == nil {
		return fmt.Errorf("collection %s not found", collection)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Metadata:  chunk.Metadata(),
			Embedding: vectors[i],
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

func (b *Backend) Query(ctx context.Context, collection string, vector []float32, k int) ([]index.Match, error) {
	c := b.db.GetCollection(collection, noEmbedding)
	if c == nil {
		return nil, fmt.Errorf("collection %s not found", collection)
	}

	var matches []index.Match
	// chromem rejects nResults above the document count
	if n := min(k, c.Count()); n > 0 {
		results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
			QueryEmbedding: vector,
			NResults:       n,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query by similarity: %w", err)
		}
		for _, r := range results {
			matches = append(matches, index.Match{
				ID:         r.ID,
				Text:       r.Content,
				Source:     r.Metadata[models.MetadataSource],
				Similarity: r.Similarity,
			})
		}
	}
	return matches, nil
}

func (b *Backend) Destroy(_ context.Context, collection string) error {
	if err := b.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}
