package llmservice

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"tos-rag/internal/config"
	"tos-rag/internal/models"
)

var (
	thinkTag  = regexp.MustCompile(models.ThinkTag)
	codeFence = regexp.MustCompile(models.CodeFence)
)

// NewLLM builds the generation client for llmConfig.
func NewLLM(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("model", llmConfig.Model).Msg("Creating generation client")
	switch llmConfig.Provider {
	case "openai":
		return openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		)
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", llmConfig.Provider)
	}
}

type AnalysisRequest struct {
	// Model overrides the configured model when set.
	Model   string
	Intent  string
	Context string
}

type Analysis struct {
	Verdict     models.Verdict
	TotalTokens int
}

// Analyzer asks a generation model for a Verdict over an assembled context.
type Analyzer struct {
	llm      llms.Model
	language string
}

func NewAnalyzer(llm llms.Model, language string) *Analyzer {
	return &Analyzer{llm: llm, language: language}
}

func (a *Analyzer) Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	prompt := fmt.Sprintf(models.AnalysisPromptTemplate, req.Intent, req.Context, a.language)
	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}

	opts := []llms.CallOption{llms.WithJSONMode()}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}

	resp, err := a.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAnalysis, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: model returned no choices", models.ErrAnalysis)
	}

	choice := resp.Choices[0]
	verdict, err := ParseVerdict(choice.Content)
	if err != nil {
		return nil, err
	}
	return &Analysis{Verdict: *verdict, TotalTokens: totalTokens(choice.GenerationInfo)}, nil
}

// ParseVerdict decodes the model output, tolerating reasoning tags, a
// markdown code fence and prose around the JSON object.
func ParseVerdict(content string) (*models.Verdict, error) {
	content = strings.TrimSpace(thinkTag.ReplaceAllString(content, ""))
	if m := codeFence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start > 0 && end > start {
		content = content[start : end+1]
	}

	var v models.Verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("%w: response is not a valid verdict: %v", models.ErrAnalysis, err)
	}
	v.Normalize()
	return &v, nil
}

func totalTokens(info map[string]any) int {
	switch n := info["TotalTokens"].(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
