// Package fetcher retrieves a page and, optionally, the legal documents it
// links to, and returns them as cleaned plain text.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"tos-rag/internal/config"
	"tos-rag/internal/metrics"
	"tos-rag/internal/models"
	"tos-rag/internal/parser"
)

type Options struct {
	MainTimeout    time.Duration
	MainSettle     time.Duration
	RelatedTimeout time.Duration
	RelatedSettle  time.Duration
	MaxTextLength  int
	MinTextLength  int
	MaxRelated     int
	Keywords       []string
}

func OptionsFromConfig(cfg *config.FetcherConfig) Options {
	return Options{
		MainTimeout:    cfg.MainTimeout,
		MainSettle:     cfg.MainSettle,
		RelatedTimeout: cfg.RelatedTimeout,
		RelatedSettle:  cfg.RelatedSettle,
		MaxTextLength:  cfg.MaxTextLength,
		MinTextLength:  cfg.MinTextLength,
		MaxRelated:     cfg.MaxRelated,
		Keywords:       cfg.Keywords,
	}
}

type Fetcher struct {
	renderer  Renderer
	documents Renderer
	opts      Options
	now       func() time.Time
}

// New builds a Fetcher. documents, when non-nil, handles URLs that point at
// files (PDF, DOCX, XLSX, Markdown, text) instead of renderer.
func New(renderer, documents Renderer, opts Options) *Fetcher {
	return &Fetcher{renderer: renderer, documents: documents, opts: opts, now: time.Now}
}

// Fetch loads url and, when maxDepth > 0 and the page has enough text, up to
// MaxRelated linked legal documents. Progress lines go to logf in order.
// Only a main page failure is returned as an error; related page failures
// are reported through logf and skipped.
func (f *Fetcher) Fetch(ctx context.Context, url string, maxDepth int, logf func(string)) (*models.ScrapeResult, error) {
	logf(fmt.Sprintf("Starting scraper on: %s", url))
	logf("Fetching main page content...")

	main, err := f.load(ctx, url, f.opts.MainTimeout, f.opts.MainSettle)
	if err != nil {
		return nil, mainPageError(ctx, url, f.opts.MainTimeout, err)
	}
	result := &models.ScrapeResult{
		Main: models.Document{URL: url, Text: main.Text, DiscoveredAt: f.now()},
	}
	mainLen := utf8.RuneCountInString(main.Text)
	logf(fmt.Sprintf("Main page captured (%d chars)", mainLen))

	if maxDepth <= 0 || mainLen <= f.opts.MinTextLength || main.HTML == nil {
		return result, nil
	}

	logf("Scanning for related legal documents...")
	links := DiscoverLinks(main.HTML, url, f.opts.Keywords, f.opts.MaxRelated)
	log.Debug().Str("url", url).Int("candidates", len(links)).Msg("Related links discovered")

	for i, link := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logf(fmt.Sprintf("Crawling sub-page (%d/%d): %s...", i+1, len(links), parser.Truncate(link.Text, 20)))

		sub, err := f.load(ctx, link.URL, f.opts.RelatedTimeout, f.opts.RelatedSettle)
		if err != nil {
			log.Warn().Err(err).Str("url", link.URL).Msg("Related page fetch failed")
			metrics.RelatedPages.WithLabelValues("failed").Inc()
			logf(fmt.Sprintf("Failed to crawl %s", link.URL))
			continue
		}
		if utf8.RuneCountInString(sub.Text) <= f.opts.MinTextLength {
			log.Debug().Str("url", link.URL).Msg("Related page discarded, too little text")
			metrics.RelatedPages.WithLabelValues("discarded").Inc()
			continue
		}
		metrics.RelatedPages.WithLabelValues("ok").Inc()
		result.Related = append(result.Related, models.Document{URL: link.URL, Text: sub.Text, DiscoveredAt: f.now()})
	}
	return result, nil
}

func (f *Fetcher) load(ctx context.Context, url string, timeout, settle time.Duration) (*parser.Cleaned, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+settle)
		defer cancel()
	}

	r := f.renderer
	if f.documents != nil && parser.IsDocumentURL(url) {
		r = f.documents
	}
	page, err := r.Render(ctx, url, RenderOptions{Timeout: timeout, Settle: settle})
	if err != nil {
		return nil, err
	}
	return parser.CleanContent(page.Body, parser.DetectContentType(page.URL, page.ContentType), f.opts.MaxTextLength)
}

func mainPageError(ctx context.Context, url string, timeout time.Duration, err error) error {
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %s", models.ErrFetchTimeout, timeout, url)
	}
	return fmt.Errorf("%w %s: %v", models.ErrFetch, url, err)
}
