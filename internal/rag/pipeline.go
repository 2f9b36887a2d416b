package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tos-rag/internal/config"
	"tos-rag/internal/embedding"
	"tos-rag/internal/helper"
	"tos-rag/internal/index"
	"tos-rag/internal/llmservice"
	"tos-rag/internal/metrics"
	"tos-rag/internal/models"
	"tos-rag/internal/parser"
)

var tracer = otel.Tracer("tos-rag/internal/rag")

const (
	EngineSinglePage  = "Single Page"
	EngineSetupFailed = "Single Page (RAG Setup Failed)"
	engineRAG         = "RAG | Sources: %d"

	ModeSingle   = "single"
	ModeFallback = "fallback"
	ModeRAG      = "rag"

	progressEvery = 20 // chunks between embedding progress lines
)

type Fetcher interface {
	Fetch(ctx context.Context, url string, maxDepth int, logf func(string)) (*models.ScrapeResult, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, onBatch func(embedding.BatchProgress)) (*embedding.BatchResult, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Indexer interface {
	Available() bool
	Strategy() string
	Create(ctx context.Context, name string) (*index.Session, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, req llmservice.AnalysisRequest) (*llmservice.Analysis, error)
}

type Request struct {
	URL       string
	Intent    string
	Model     string
	EnableRAG bool
}

type Options struct {
	TopK                 int
	FallbackContextLimit int
	// RequestTimeout bounds the work of a run; zero disables it.
	RequestTimeout time.Duration
	// CleanupTimeout bounds index destruction, which runs even after the
	// caller has gone away.
	CleanupTimeout time.Duration
	DefaultModel   string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TopK:                 cfg.RAG.TopK,
		FallbackContextLimit: cfg.Pipeline.FallbackContextLimit,
		RequestTimeout:       cfg.Pipeline.RequestTimeout,
		CleanupTimeout:       cfg.Pipeline.CleanupTimeout,
		DefaultModel:         cfg.Models.Default,
	}
}

// Pipeline runs fetch, retrieval and analysis for one request at a time per
// call. Collaborators are shared between concurrent runs.
type Pipeline struct {
	fetcher  Fetcher
	chunker  *parser.Chunker
	embedder Embedder
	indexer  Indexer
	analyzer Analyzer
	opts     Options
}

func New(fetcher Fetcher, chunker *parser.Chunker, embedder Embedder, indexer Indexer, analyzer Analyzer, opts Options) *Pipeline {
	if opts.TopK <= 0 || opts.TopK > index.MaxK {
		opts.TopK = index.MaxK
	}
	if opts.FallbackContextLimit <= 0 {
		opts.FallbackContextLimit = 100000
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 10 * time.Second
	}
	return &Pipeline{
		fetcher:  fetcher,
		chunker:  chunker,
		embedder: embedder,
		indexer:  indexer,
		analyzer: analyzer,
		opts:     opts,
	}
}

// Stream runs req in a goroutine. The channel closes after the terminal
// event, or early if ctx ends; the consumer should drain it.
func (p *Pipeline) Stream(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		p.Run(ctx, req, func(e Event) {
			select {
			case ch <- e:
			case <-ctx.Done():
			}
		})
	}()
	return ch
}

// Run executes req and passes every event to emit in order. Once ctx is
// done nothing more is emitted, but a created index is still destroyed.
// The index is always destroyed before the terminal event is emitted.
func (p *Pipeline) Run(ctx context.Context, req Request, emit func(Event)) {
	start := time.Now()
	r := &run{p: p, req: req, caller: ctx, emit: emit}

	work := ctx
	if p.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		work, cancel = context.WithTimeout(ctx, p.opts.RequestTimeout)
		defer cancel()
	}
	work, span := tracer.Start(work, "pipeline.run", trace.WithAttributes(
		attribute.String("url", req.URL),
		attribute.Bool("enable_rag", req.EnableRAG),
	))
	defer span.End()

	terminal := r.execute(work)

	if r.session != nil {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.CleanupTimeout)
		r.session.Destroy(cleanup)
		cancel()
	}

	outcome := string(terminal.Kind())
	if ctx.Err() != nil {
		outcome = "canceled"
	}
	if e, ok := terminal.(ErrorEvent); ok {
		span.SetStatus(codes.Error, e.Message)
		log.Error().Str("url", req.URL).Str("reason", e.Message).Msg("Pipeline run failed")
	}
	metrics.PipelineRuns.WithLabelValues(outcome).Inc()
	metrics.ObserveStage("total", start)

	r.send(terminal)
}

type run struct {
	p       *Pipeline
	req     Request
	caller  context.Context
	emit    func(Event)
	session *index.Session
}

func (r *run) send(e Event) {
	if r.caller.Err() != nil {
		return
	}
	if err := e.Validate(); err != nil {
		log.Error().Err(err).Str("kind", string(e.Kind())).Msg("Dropping invalid event")
		if e.Terminal() {
			r.emit(ErrorEvent{Message: "internal error: " + err.Error()})
		}
		return
	}
	r.emit(e)
}

func (r *run) logf(format string, args ...any) {
	r.log(fmt.Sprintf(format, args...))
}

func (r *run) log(msg string) {
	log.Debug().Str("url", r.req.URL).Msg(msg)
	r.send(LogEvent{Message: msg})
}

func fail(err error) Event {
	return ErrorEvent{Message: err.Error()}
}

// execute walks the stages and returns the terminal event without emitting it.
func (r *run) execute(ctx context.Context) (terminal Event) {
	defer func() {
		if v := recover(); v != nil {
			log.Error().Interface("panic", v).Str("url", r.req.URL).Msg("Pipeline panicked")
			terminal = ErrorEvent{Message: fmt.Sprintf("internal error: %v", v)}
		}
	}()

	if strings.TrimSpace(r.req.URL) == "" {
		return ErrorEvent{Message: "url is required"}
	}

	scrape, err := r.fetch(ctx)
	if err != nil {
		return fail(err)
	}
	r.send(DataEvent{Scrape: scrape})

	info := models.DebugInfo{
		Model:            r.model(),
		URL:              r.req.URL,
		Engine:           EngineSinglePage,
		Mode:             ModeSingle,
		KnowledgeBase:    knowledgeBase(scrape),
		RetrievedSources: []string{MainPageOnly},
	}

	var (
		evidence AssembledContext
		matches  []index.Match
		done     bool
	)
	if r.req.EnableRAG {
		info.IndexStrategy = r.p.indexer.Strategy()
		matches, done, err = r.retrieve(ctx, scrape)
		if err != nil {
			return fail(err)
		}
		if done {
			evidence = Assemble(matches)
			info.Engine = fmt.Sprintf(engineRAG, len(evidence.Sources))
			info.Mode = ModeRAG
			info.RetrievedSources = evidence.Sources
		} else {
			info.Mode = ModeFallback
			if r.p.indexer.Available() {
				info.Engine = EngineSetupFailed
			}
		}
	}
	if !done {
		evidence = Fallback(r.req.URL, scrape.Main.Text, r.p.opts.FallbackContextLimit)
	}

	analysis, err := r.analyze(ctx, evidence)
	if err != nil {
		return fail(err)
	}

	return ResultEvent{Payload: &models.ResultPayload{
		Result:         analysis.Verdict,
		ScrapedContent: DisplayContent(scrape.Main, matches),
		TokenUsage:     models.TokenUsage{TotalToken: analysis.TotalTokens},
		DebugInfo:      info,
	}}
}

func (r *run) fetch(ctx context.Context) (*models.ScrapeResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.fetch")
	defer span.End()
	defer metrics.ObserveStage("fetch", start)

	depth := 0
	if r.req.EnableRAG {
		depth = 1
	}
	scrape, err := r.p.fetcher.Fetch(ctx, r.req.URL, depth, r.log)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if strings.TrimSpace(scrape.Main.Text) == "" {
		return nil, fmt.Errorf("%w %s: no readable text", models.ErrFetch, r.req.URL)
	}
	span.SetAttributes(attribute.Int("related", len(scrape.Related)))
	return scrape, nil
}

// retrieve builds the session index and queries it. ok is false when the
// run must fall back to the main document; err is set only for fatal
// failures.
func (r *run) retrieve(ctx context.Context, scrape *models.ScrapeResult) (matches []index.Match, ok bool, err error) {
	if !r.p.indexer.Available() {
		r.log("Retrieval index not available, skipping RAG.")
		r.send(IndexReadyEvent{})
		metrics.Fallbacks.WithLabelValues("unavailable").Inc()
		return nil, false, nil
	}

	session, err := r.setupIndex(ctx, scrape)
	if err != nil {
		return nil, false, err
	}
	if session == nil {
		r.send(IndexReadyEvent{})
		r.log("RAG setup failed, falling back to single page.")
		return nil, false, nil
	}
	r.send(IndexReadyEvent{Session: session, Name: session.Name()})

	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.query")
	defer span.End()
	defer metrics.ObserveStage("query", start)

	r.log("Retrieving relevant context for your intent...")
	intent := r.req.Intent
	if strings.TrimSpace(intent) == "" {
		intent = models.DefaultRetrievalIntent
	}
	vector, err := r.p.embedder.EmbedQuery(ctx, intent)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	matches, err = session.Query(ctx, vector, r.p.opts.TopK)
	if err != nil || len(matches) == 0 {
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			span.RecordError(err)
			log.Warn().Err(err).Str("session", session.Name()).Msg("Index query failed")
		}
		metrics.Fallbacks.WithLabelValues("query").Inc()
		r.log("Retrieval returned nothing usable, falling back to single page.")
		return nil, false, nil
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, true, nil
}

// setupIndex returns a populated session, or nil when retrieval has to be
// abandoned. A session that was created is kept on the run for cleanup
// whatever happens afterwards.
func (r *run) setupIndex(ctx context.Context, scrape *models.ScrapeResult) (*index.Session, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.index")
	defer span.End()
	defer metrics.ObserveStage("index", start)

	name, err := helper.SessionName()
	if err != nil {
		log.Warn().Err(err).Msg("Cannot name session index")
		metrics.Fallbacks.WithLabelValues("create").Inc()
		return nil, nil
	}
	r.logf("Creating vector database: %s", name)

	session, err := r.p.indexer.Create(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		span.RecordError(err)
		log.Warn().Err(err).Str("session", name).Msg("Session index creation failed")
		r.logf("Could not create vector database: %v", err)
		metrics.Fallbacks.WithLabelValues("create").Inc()
		return nil, nil
	}
	r.session = session

	docs := scrape.Documents()
	r.logf("Chunking text data from %d sources...", len(docs))
	chunks := r.p.chunker.Chunk(docs)
	if len(chunks) == 0 {
		r.log("No valid text found to embed.")
		metrics.Fallbacks.WithLabelValues("no_chunks").Inc()
		return nil, nil
	}

	r.logf("Generating embeddings for %d chunks...", len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	last := 0
	res, err := r.p.embedder.EmbedBatch(ctx, texts, func(pr embedding.BatchProgress) {
		if pr.Err != nil {
			r.logf("Embedding batch failed, continuing with placeholders (%d/%d chunks)", pr.Done, pr.Total)
		} else if pr.Done < pr.Total && pr.Done/progressEvery > last/progressEvery {
			r.logf("...Processed %d/%d chunks", pr.Done, pr.Total)
		}
		last = pr.Done
	})
	if err != nil {
		return nil, err
	}
	if res.AllFailed() {
		r.log("All embedding batches failed.")
		metrics.Fallbacks.WithLabelValues("embedding").Inc()
		return nil, nil
	}

	if err := session.Add(ctx, chunks, res.Vectors); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		span.RecordError(err)
		log.Warn().Err(err).Str("session", name).Msg("Storing chunks failed")
		metrics.Fallbacks.WithLabelValues("add").Inc()
		return nil, nil
	}

	r.log("RAG Knowledge Base ready!")
	span.SetAttributes(attribute.String("session", name), attribute.Int("chunks", len(chunks)))
	return session, nil
}

func (r *run) analyze(ctx context.Context, evidence AssembledContext) (*llmservice.Analysis, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.analyze")
	defer span.End()
	defer metrics.ObserveStage("analyze", start)

	r.log("AI is analyzing risks (this may take a few seconds)...")
	intent := r.req.Intent
	if strings.TrimSpace(intent) == "" {
		intent = models.DefaultAnalysisIntent
	}
	analysis, err := r.p.analyzer.Analyze(ctx, llmservice.AnalysisRequest{
		Model:   r.model(),
		Intent:  intent,
		Context: evidence.Text,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("total_tokens", analysis.TotalTokens))
	return analysis, nil
}

func (r *run) model() string {
	if r.req.Model != "" {
		return r.req.Model
	}
	return r.p.opts.DefaultModel
}

func knowledgeBase(s *models.ScrapeResult) []string {
	kb := []string{"Main: " + s.Main.URL}
	for _, d := range s.Related {
		kb = append(kb, "Related: "+d.URL)
	}
	return kb
}
