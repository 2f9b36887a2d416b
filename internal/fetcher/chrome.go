package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

const (
	hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`
	domParsed     = `document.readyState !== "loading"`
	pollInterval  = 100 * time.Millisecond
)

// ChromeRenderer renders pages in a shared headless Chrome, one tab per call.
// The browser starts on first use and restarts if it dies.
type ChromeRenderer struct {
	userAgent string

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCtx      context.Context
	allocCancel   context.CancelFunc
}

func NewChromeRenderer(userAgent string) *ChromeRenderer {
	return &ChromeRenderer{userAgent: userAgent}
}

func (r *ChromeRenderer) browser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx != nil && r.browserCtx.Err() == nil {
		return r.browserCtx, nil
	}
	if r.browserCancel != nil {
		// the browser died; reap its allocator before starting another
		log.Warn().Msg("Headless browser exited, restarting")
		r.stop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.UserAgent(r.userAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	log.Info().Msg("Headless browser started")

	r.browserCtx, r.browserCancel = browserCtx, browserCancel
	r.allocCtx, r.allocCancel = allocCtx, allocCancel
	return browserCtx, nil
}

// Render navigates a fresh tab to url and waits for DOMContentLoaded, bounded
// by opts.Timeout. It then lets scripts run for opts.Settle before taking
// the markup. Subresources that never finish loading do not hold it up.
func (r *ChromeRenderer) Render(ctx context.Context, url string, opts RenderOptions) (*Page, error) {
	browserCtx, err := r.browser()
	if err != nil {
		return nil, err
	}
	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()
	// the tab hangs off the browser context, so tie it to the caller's context
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()

	var html string
	err = chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
			return err
		}),
		navigate(url, opts.Timeout),
		chromedp.Sleep(opts.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return &Page{URL: url, Body: []byte(html), ContentType: "text/html"}, nil
}

// navigate loads url and returns once the document is parsed, without
// waiting for the load event.
func navigate(url string, timeout time.Duration) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		_, _, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("navigation to %s failed: %s", url, errorText)
		}

		// Navigate returns on commit, so readyState belongs to the new document
		var parsed bool
		if err := chromedp.Poll(domParsed, &parsed, chromedp.WithPollingInterval(pollInterval)).Do(ctx); err != nil {
			return fmt.Errorf("waiting for %s to parse: %w", url, err)
		}
		return nil
	}
}

func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stop()
	return nil
}

// stop cancels the browser and its allocator. Callers hold r.mu.
func (r *ChromeRenderer) stop() {
	if r.browserCancel == nil {
		return
	}
	r.browserCancel()
	r.allocCancel()
	r.browserCtx, r.browserCancel = nil, nil
	r.allocCtx, r.allocCancel = nil, nil
}
