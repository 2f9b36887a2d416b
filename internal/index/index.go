// Package index defines the session-scoped retrieval index: a named vector
// collection created for one pipeline run and destroyed when it ends.
package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"tos-rag/internal/metrics"
	"tos-rag/internal/models"
)

// MaxK caps the number of matches a session query returns.
const MaxK = 15

// Match is one query hit.
type Match struct {
	ID         string
	Text       string
	Source     string
	Similarity float32
}

// Backend is a vector engine able to host many named collections. Backends
// must be safe for concurrent use across collections.
type Backend interface {
	Name() string
	// Create makes an empty collection, dropping any existing one of that name.
	Create(ctx context.Context, collection string) error
	Add(ctx context.Context, collection string, chunks []models.Chunk, vectors [][]float32) error
	Query(ctx context.Context, collection string, vector []float32, k int) ([]Match, error)
	Destroy(ctx context.Context, collection string) error
}

// Session is the handle to one run's collection.
//
// All-zero vectors (failed embedding batches) have no direction, so engines
// either reject them or score them NaN. The session keeps those chunks
// itself, reports them at similarity 0 and ranks them after every real
// match, including matches with negative similarity.
type Session struct {
	name      string
	backend   Backend
	destroyed atomic.Bool

	mu           sync.Mutex
	placeholders []Match
}

func (s *Session) Name() string { return s.name }

// Backend returns the name of the engine hosting the session.
func (s *Session) Backend() string { return s.backend.Name() }

// Add stores chunks with their vectors. Both slices must have equal length;
// empty input is a no-op.
func (s *Session) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", models.ErrLengthMismatch, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	var (
		keep    = make([]models.Chunk, 0, len(chunks))
		vecs    = make([][]float32, 0, len(vectors))
		pending []Match
	)
	for i, c := range chunks {
		if isZero(vectors[i]) {
			pending = append(pending, Match{ID: c.ID, Text: c.Text, Source: c.Source})
			continue
		}
		keep = append(keep, c)
		vecs = append(vecs, vectors[i])
	}
	if len(keep) > 0 {
		if err := s.backend.Add(ctx, s.name, keep, vecs); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.placeholders = append(s.placeholders, pending...)
	s.mu.Unlock()
	return nil
}

// Query returns at most min(k, MaxK) matches: real matches by non-increasing
// similarity, then placeholders in insertion order.
func (s *Session) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	k = min(k, MaxK)
	if k <= 0 {
		return nil, nil
	}
	matches, err := s.backend.Query(ctx, s.name, vector, k)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Compare(rank(b.Similarity), rank(a.Similarity))
	})
	if len(matches) < k {
		s.mu.Lock()
		matches = append(matches, s.placeholders...)
		s.mu.Unlock()
	}
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Destroy drops the collection. It never fails: the collection is transient,
// so a failed drop is logged and discarded. Safe on a nil or destroyed session.
func (s *Session) Destroy(ctx context.Context) {
	if s == nil || !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	metrics.ActiveSessions.Dec()
	if err := s.backend.Destroy(ctx, s.name); err != nil {
		log.Warn().Err(err).Str("session", s.name).Str("backend", s.backend.Name()).Msg("Failed to destroy session index, ignoring")
		return
	}
	log.Debug().Str("session", s.name).Msg("Session index destroyed")
}

// NaN similarities (zero vectors on some engines) sort last.
func rank(f float32) float64 {
	if math.IsNaN(float64(f)) {
		return math.Inf(-1)
	}
	return float64(f)
}

func isZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// Strategy opens one kind of backend.
type Strategy struct {
	Name string
	Open func(ctx context.Context) (Backend, error)
}

// Provider is the backend chosen at startup. It is read-only after Resolve.
type Provider struct {
	backend Backend
}

// Resolve tries strategies in order and keeps the first that opens. With no
// usable strategy the provider is unavailable and every run takes the
// single-page path.
func Resolve(ctx context.Context, strategies []Strategy) *Provider {
	for _, s := range strategies {
		b, err := s.Open(ctx)
		if err != nil {
			log.Warn().Err(err).Str("strategy", s.Name).Msg("Index strategy unavailable, trying next")
			continue
		}
		log.Info().Str("strategy", s.Name).Msg("Retrieval index backend selected")
		return &Provider{backend: b}
	}
	log.Warn().Msg("No retrieval index backend available, retrieval disabled")
	return &Provider{}
}

// NewProvider wraps an already opened backend.
func NewProvider(b Backend) *Provider {
	return &Provider{backend: b}
}

func (p *Provider) Available() bool { return p != nil && p.backend != nil }

// Strategy names the selected backend, or "none".
func (p *Provider) Strategy() string {
	if !p.Available() {
		return "none"
	}
	return p.backend.Name()
}

// Close releases the backend's connections when it holds any.
func (p *Provider) Close() error {
	if !p.Available() {
		return nil
	}
	if c, ok := p.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Create allocates a collection named name.
func (p *Provider) Create(ctx context.Context, name string) (*Session, error) {
	if !p.Available() {
		return nil, models.ErrIndexUnavailable
	}
	if err := p.backend.Create(ctx, name); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIndexUnavailable, err)
	}
	metrics.ActiveSessions.Inc()
	return &Session{name: name, backend: p.backend}, nil
}

// ErrNotConfigured is returned by strategies whose endpoint is not set.
var ErrNotConfigured = errors.New("not configured")
