// Package weaviatedb hosts session collections as Weaviate classes.
package weaviatedb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/rs/zerolog/log"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	wmodels "github.com/weaviate/weaviate/entities/models"

	"tos-rag/internal/config"
	"tos-rag/internal/index"
	"tos-rag/internal/models"
)

const StrategyName = "weaviate"

type Backend struct {
	client *weaviate.Client
}

// NewClient builds a client from config. Host may carry an http:// or
// https:// prefix, which overrides the configured scheme.
func NewClient(cfg *config.WeaviateConfig) (*weaviate.Client, error) {
	if cfg.Host == "" {
		return nil, index.ErrNotConfigured
	}
	wc := weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme}
	if h, ok := strings.CutPrefix(cfg.Host, "https://"); ok {
		wc.Host, wc.Scheme = h, "https"
	} else if h, ok := strings.CutPrefix(cfg.Host, "http://"); ok {
		wc.Host, wc.Scheme = h, "http"
	}
	wc.Host = strings.TrimSuffix(wc.Host, "/")
	if cfg.APIKey != "" {
		wc.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	return weaviate.NewClient(wc)
}

// Strategy opens the backend once the server reports ready.
func Strategy(cfg *config.WeaviateConfig) index.Strategy {
	return index.Strategy{Name: StrategyName, Open: func(ctx context.Context) (index.Backend, error) {
		client, err := NewClient(cfg)
		if err != nil {
			return nil, err
		}
		ready, err := client.Misc().ReadyChecker().Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("weaviate readiness check failed: %w", err)
		}
		if !ready {
			return nil, fmt.Errorf("weaviate at %s is not ready", cfg.Host)
		}
		return &Backend{client: client}, nil
	}}
}

func (b *Backend) Name() string { return StrategyName }

func (b *Backend) Create(ctx context.Context, collection string) error {
	class := ClassName(collection)
	exists, err := b.client.Schema().ClassExistenceChecker().WithClassName(class).Do(ctx)
	if err != nil {
		return fmt.Errorf("checking class %s: %w", class, err)
	}
	if exists {
		log.Debug().Str("class", class).Msg("Class exists, recreating")
		if err := b.client.Schema().ClassDeleter().WithClassName(class).Do(ctx); err != nil {
			return fmt.Errorf("dropping class %s: %w", class, err)
		}
	}

	schema := &wmodels.Class{
		Class:       class,
		Description: "Chunks indexed for one analysis run",
		Vectorizer:  "none",
		Properties: []*wmodels.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
		},
	}
	if err := b.client.Schema().ClassCreator().WithClass(schema).Do(ctx); err != nil {
		return fmt.Errorf("creating class %s: %w", class, err)
	}
	return nil
}

func (b *Backend) Add(ctx context.Context, collection string, chunks []models.Chunk, vectors [][]float32) error {
	class := ClassName(collection)
	objects := make([]*wmodels.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &wmodels.Object{
			Class: class,
			ID:    strfmt.UUID(c.ID),
			Properties: map[string]any{
				"content": c.Text,
				"source":  c.Source,
			},
			Vector: wmodels.C11yVector(vectors[i]),
		}
	}

	result, err := b.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch import failed: %w", err)
	}
	for _, obj := range result {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch import failed for %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

type getResponse struct {
	Get map[string][]struct {
		Content    string `json:"content"`
		Source     string `json:"source"`
		Additional struct {
			ID        string  `json:"id"`
			Certainty float64 `json:"certainty"`
		} `json:"_additional"`
	} `json:"Get"`
}

// Query asks for certainty rather than distance; certainty is in [0,1]
// whatever the distance metric.
func (b *Backend) Query(ctx context.Context, collection string, vector []float32, k int) ([]index.Match, error) {
	class := ClassName(collection)
	nearVector := b.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	resp, err := b.client.GraphQL().Get().
		WithClassName(class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search failed: %s", resp.Errors[0].Message)
	}
	return parseMatches(class, resp)
}

func (b *Backend) Destroy(ctx context.Context, collection string) error {
	return b.client.Schema().ClassDeleter().WithClassName(ClassName(collection)).Do(ctx)
}

func parseMatches(class string, resp *wmodels.GraphQLResponse) ([]index.Match, error) {
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var parsed getResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL response: %w", err)
	}

	hits := parsed.Get[class]
	matches := make([]index.Match, len(hits))
	for i, h := range hits {
		matches[i] = index.Match{
			ID:         h.Additional.ID,
			Text:       h.Content,
			Source:     h.Source,
			Similarity: float32(h.Additional.Certainty),
		}
	}
	return matches, nil
}

// ClassName turns a session name into a valid class name, which must start
// with an upper-case letter.
func ClassName(collection string) string {
	if collection == "" {
		return ""
	}
	return strings.ToUpper(collection[:1]) + collection[1:]
}
