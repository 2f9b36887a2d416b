package index

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tos-rag/internal/models"
)

type fakeBackend struct {
	mu         sync.Mutex
	name       string
	createErr  error
	destroyErr error
	queryErr   error
	results    []Match
	added      map[string]int
	destroyed  []string
	lastK      int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{name: "fake", added: map[string]int{}}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Create(_ context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.added[collection] = 0
	return nil
}

func (f *fakeBackend) Add(_ context.Context, collection string, chunks []models.Chunk, _ [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added[collection] += len(chunks)
	return nil
}

func (f *fakeBackend) Query(_ context.Context, _ string, _ []float32, k int) ([]Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastK = k
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return append([]Match(nil), f.results...), nil
}

func (f *fakeBackend) Destroy(_ context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, collection)
	return f.destroyErr
}

func TestResolve_FirstWorkingStrategyWins(t *testing.T) {
	second := newFakeBackend()
	second.name = "second"
	var tried []string

	p := Resolve(context.Background(), []Strategy{
		{Name: "first", Open: func(context.Context) (Backend, error) {
			tried = append(tried, "first")
			return nil, errors.New("unreachable")
		}},
		{Name: "second", Open: func(context.Context) (Backend, error) {
			tried = append(tried, "second")
			return second, nil
		}},
		{Name: "third", Open: func(context.Context) (Backend, error) {
			tried = append(tried, "third")
			return newFakeBackend(), nil
		}},
	})

	assert.True(t, p.Available())
	assert.Equal(t, "second", p.Strategy())
	assert.Equal(t, []string{"first", "second"}, tried)
}

func TestResolve_NoneAvailable(t *testing.T) {
	p := Resolve(context.Background(), []Strategy{
		{Name: "remote", Open: func(context.Context) (Backend, error) { return nil, ErrNotConfigured }},
	})

	assert.False(t, p.Available())
	assert.Equal(t, "none", p.Strategy())

	s, err := p.Create(context.Background(), "session_x")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, models.ErrIndexUnavailable)
}

func TestProvider_CreateFailure(t *testing.T) {
	b := newFakeBackend()
	b.createErr = errors.New("connection refused")

	_, err := NewProvider(b).Create(context.Background(), "session_x")
	assert.ErrorIs(t, err, models.ErrIndexUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSession_Add(t *testing.T) {
	b := newFakeBackend()
	s, err := NewProvider(b).Create(context.Background(), "session_add")
	require.NoError(t, err)
	assert.Equal(t, "session_add", s.Name())
	assert.Equal(t, "fake", s.Backend())

	err = s.Add(context.Background(), []models.Chunk{{ID: "1"}}, nil)
	assert.ErrorIs(t, err, models.ErrLengthMismatch)

	require.NoError(t, s.Add(context.Background(), nil, nil))
	assert.Zero(t, b.added["session_add"])

	chunks := []models.Chunk{{ID: "1"}, {ID: "2"}}
	require.NoError(t, s.Add(context.Background(), chunks, [][]float32{{1}, {2}}))
	assert.Equal(t, 2, b.added["session_add"])
}

func TestSession_QueryOrdersAndCaps(t *testing.T) {
	b := newFakeBackend()
	for i := range 20 {
		b.results = append(b.results, Match{ID: string(rune('a' + i)), Similarity: float32(i) / 20})
	}
	b.results = append(b.results, Match{ID: "nan", Similarity: float32(math.NaN())})

	s, err := NewProvider(b).Create(context.Background(), "session_q")
	require.NoError(t, err)

	matches, err := s.Query(context.Background(), []float32{1}, 50)
	require.NoError(t, err)
	assert.Equal(t, MaxK, b.lastK)
	require.Len(t, matches, MaxK)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Similarity, matches[i].Similarity)
	}
	assert.Equal(t, "t", matches[0].ID)
}

func TestSession_QueryFewerThanK(t *testing.T) {
	b := newFakeBackend()
	b.results = []Match{
		{ID: "low", Similarity: 0.1},
		{ID: "nan", Similarity: float32(math.NaN())},
		{ID: "high", Similarity: 0.9},
	}
	s, err := NewProvider(b).Create(context.Background(), "session_few")
	require.NoError(t, err)

	matches, err := s.Query(context.Background(), []float32{1}, 15)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "high", matches[0].ID)
	assert.Equal(t, "low", matches[1].ID)
	assert.Equal(t, "nan", matches[2].ID)

	matches, err = s.Query(context.Background(), []float32{1}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSession_QueryError(t *testing.T) {
	b := newFakeBackend()
	b.queryErr = errors.New("boom")
	s, err := NewProvider(b).Create(context.Background(), "session_err")
	require.NoError(t, err)

	_, err = s.Query(context.Background(), []float32{1}, 5)
	assert.Error(t, err)
}

func TestSession_DestroyIsIdempotentAndSwallowsErrors(t *testing.T) {
	b := newFakeBackend()
	b.destroyErr = errors.New("gone")
	s, err := NewProvider(b).Create(context.Background(), "session_d")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		s.Destroy(context.Background())
		s.Destroy(context.Background())
	})
	assert.Equal(t, []string{"session_d"}, b.destroyed)
}

func TestSession_DestroyNil(t *testing.T) {
	var s *Session
	assert.NotPanics(t, func() { s.Destroy(context.Background()) })
}

func TestSession_ZeroVectorsRankLast(t *testing.T) {
	b := newFakeBackend()
	b.results = []Match{
		{ID: "opposite", Similarity: -0.4},
		{ID: "close", Similarity: 0.8},
	}
	s, err := NewProvider(b).Create(context.Background(), "session_zero")
	require.NoError(t, err)

	chunks := []models.Chunk{{ID: "close"}, {ID: "failed", Source: "https://x.test/"}, {ID: "opposite"}}
	vectors := [][]float32{{1, 0}, {0, 0}, {-1, 0}}
	require.NoError(t, s.Add(context.Background(), chunks, vectors))
	assert.Equal(t, 2, b.added["session_zero"], "placeholders never reach the backend")

	matches, err := s.Query(context.Background(), []float32{1, 0}, 15)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, []string{"close", "opposite", "failed"}, []string{matches[0].ID, matches[1].ID, matches[2].ID})
	assert.Zero(t, matches[2].Similarity)
	assert.Equal(t, "https://x.test/", matches[2].Source)
}

func TestSession_NegativeMatchBeatsPlaceholder(t *testing.T) {
	b := newFakeBackend()
	b.results = []Match{{ID: "real", Similarity: -0.98}}
	s, err := NewProvider(b).Create(context.Background(), "session_negative")
	require.NoError(t, err)

	chunks := []models.Chunk{{ID: "real"}, {ID: "failed"}}
	vectors := [][]float32{{-1, 0.2, 0, 0}, {0, 0, 0, 0}}
	require.NoError(t, s.Add(context.Background(), chunks, vectors))

	matches, err := s.Query(context.Background(), []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "real", matches[0].ID)
}

func TestSession_OnlyPlaceholders(t *testing.T) {
	b := newFakeBackend()
	s, err := NewProvider(b).Create(context.Background(), "session_empty")
	require.NoError(t, err)

	require.NoError(t, s.Add(context.Background(), []models.Chunk{{ID: "a"}, {ID: "b"}}, [][]float32{{0, 0}, {0, 0}}))

	matches, err := s.Query(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
}

type closingBackend struct {
	*fakeBackend
	closed int
}

func (c *closingBackend) Close() error {
	c.closed++
	return nil
}

func TestProvider_Close(t *testing.T) {
	b := &closingBackend{fakeBackend: newFakeBackend()}
	p := NewProvider(b)

	require.NoError(t, p.Close())
	assert.Equal(t, 1, b.closed)

	// backends without resources and unavailable providers close cleanly
	assert.NoError(t, NewProvider(newFakeBackend()).Close())
	assert.NoError(t, Resolve(context.Background(), nil).Close())
	var nilProvider *Provider
	assert.NoError(t, nilProvider.Close())
}
