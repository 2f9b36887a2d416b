package llmservice

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"tos-rag/internal/config"
)

// ModelLister discovers analysis models on an OpenAI-compatible endpoint.
type ModelLister struct {
	client   *openai.Client
	filter   string
	fallback []string
}

func NewModelLister(llmConfig *config.LLMConfig, modelsConfig *config.ModelsConfig) *ModelLister {
	cfg := openai.DefaultConfig(strings.TrimPrefix(llmConfig.Key, "Bearer "))
	if llmConfig.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(llmConfig.BaseURL, "/")
	}
	return &ModelLister{
		client:   openai.NewClientWithConfig(cfg),
		filter:   modelsConfig.Filter,
		fallback: modelsConfig.Fallback,
	}
}

// List returns matching model IDs without the "models/" prefix, sorted in
// descending order. It falls back to the static list when discovery fails
// or finds nothing.
func (l *ModelLister) List(ctx context.Context) []string {
	resp, err := l.client.ListModels(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Fetch models failed, using fallback list")
		return slices.Clone(l.fallback)
	}

	var names []string
	for _, m := range resp.Models {
		if l.filter != "" && !strings.Contains(m.ID, l.filter) {
			continue
		}
		names = append(names, strings.TrimPrefix(m.ID, "models/"))
	}
	if len(names) == 0 {
		log.Warn().Str("filter", l.filter).Msg("No models matched, using fallback list")
		return slices.Clone(l.fallback)
	}
	slices.Sort(names)
	slices.Reverse(names)
	return slices.Compact(names)
}
