package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxBodyBytes = 10 << 20

// Page is what a renderer returns for one URL.
type Page struct {
	URL         string
	Body        []byte
	ContentType string
}

type RenderOptions struct {
	Timeout time.Duration
	// Settle is how long to wait after load for client-side rendering.
	Settle time.Duration
}

// Renderer loads a URL and returns its final markup. Implementations must be
// safe for concurrent use.
type Renderer interface {
	Render(ctx context.Context, url string, opts RenderOptions) (*Page, error)
	Close() error
}

// HTTPRenderer fetches raw responses without executing scripts. It serves
// static hosts and downloadable documents (PDF, DOCX, XLSX, Markdown).
type HTTPRenderer struct {
	client    *http.Client
	userAgent string
}

func NewHTTPRenderer(userAgent string) *HTTPRenderer {
	return &HTTPRenderer{
		client:    &http.Client{},
		userAgent: userAgent,
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, url string, opts RenderOptions) (*Page, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/markdown,text/plain;q=0.9,*/*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &Page{
		URL:         resp.Request.URL.String(),
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (r *HTTPRenderer) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
