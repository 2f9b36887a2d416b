package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"tos-rag/internal/config"
	"tos-rag/internal/index"
	"tos-rag/internal/models"
)

const StrategyName = "pgvector"

// SessionChunk is one indexed chunk. All sessions share the table and are
// told apart by Collection.
type SessionChunk struct {
	bun.BaseModel `bun:"table:session_chunks,alias:sc"`
	ID            string `bun:"id,pk"`
	Collection    string `bun:"collection,notnull"`
	Content       string `bun:"content,notnull"`
	Source        string `bun:"source,notnull"`
	Embedding     Vector `bun:"embedding,notnull,type:vector"`
}

type scoredChunk struct {
	ID         string  `bun:"id"`
	Content    string  `bun:"content"`
	Source     string  `bun:"source"`
	Similarity float64 `bun:"similarity"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with pgdriver, or with lib/pq when the
// configured driver is "postgres".
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, index.ErrNotConfigured
	}
	if cfg.Driver == "postgres" {
		return sql.Open("postgres", cfg.URL)
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*SessionChunk)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create session_chunks: %w", err)
	}
	_, err := db.NewCreateIndex().
		Model((*SessionChunk)(nil)).
		Index("session_chunks_collection_idx").
		IfNotExists().
		Column("collection").
		Exec(ctx)
	return err
}

// Backend stores session collections in Postgres with pgvector.
type Backend struct {
	db *bun.DB
}

func NewBackend(db *bun.DB) *Backend {
	return &Backend{db: db}
}

// Strategy connects, pings and prepares the schema.
func Strategy(cfg *config.DatabaseConfig) index.Strategy {
	return index.Strategy{Name: StrategyName, Open: func(ctx context.Context) (index.Backend, error) {
		sqldb, err := ConnectDB(cfg)
		if err != nil {
			return nil, err
		}
		db := NewDB(sqldb, cfg.Debug)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to reach database: %w", err)
		}
		if err := InitDB(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return NewBackend(db), nil
	}}
}

func (b *Backend) Name() string { return StrategyName }

// Close releases the connection pool.
func (b *Backend) Close() error { return b.db.Close() }

// Create clears any rows left under the collection name.
func (b *Backend) Create(ctx context.Context, collection string) error {
	return b.clear(ctx, collection)
}

func (b *Backend) Add(ctx context.Context, collection string, chunks []models.Chunk, vectors [][]float32) error {
	rows := make([]SessionChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = SessionChunk{
			ID:         c.ID,
			Collection: collection,
			Content:    c.Text,
			Source:     c.Source,
			Embedding:  vectors[i],
		}
	}
	if _, err := b.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

// Query ranks by cosine distance.
func (b *Backend) Query(ctx context.Context, collection string, vector []float32, k int) ([]index.Match, error) {
	var rows []scoredChunk
	err := b.db.NewSelect().
		Model((*SessionChunk)(nil)).
		Column("id", "content", "source").
		ColumnExpr("1 - (embedding <=> ?::vector) AS similarity", Vector(vector)).
		Where("collection = ?", collection).
		OrderExpr("embedding <=> ?::vector", Vector(vector)).
		Limit(k).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	matches := make([]index.Match, len(rows))
	for i, r := range rows {
		matches[i] = index.Match{ID: r.ID, Text: r.Content, Source: r.Source, Similarity: float32(r.Similarity)}
	}
	return matches, nil
}

func (b *Backend) Destroy(ctx context.Context, collection string) error {
	return b.clear(ctx, collection)
}

func (b *Backend) clear(ctx context.Context, collection string) error {
	res, err := b.db.NewDelete().Model((*SessionChunk)(nil)).Where("collection = ?", collection).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", collection, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Debug().Str("collection", collection).Int64("rows", n).Msg("Cleared collection rows")
	}
	return nil
}
