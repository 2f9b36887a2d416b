package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tos-rag/internal/config"
	"tos-rag/internal/models"
)

const dim = 4

// fakeEmbedder fails the calls whose index (0-based) is listed in failCalls.
type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	failCalls map[int]bool
	batches   [][]string
	queryErr  error
	dimension int
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	f.batches = append(f.batches, texts)
	if f.failCalls[call] {
		return nil, errors.New("quota exceeded")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t, f.dimension)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return vectorFor(text, f.dimension), nil
}

func vectorFor(text string, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(len(text) + i + 1)
	}
	return v
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a'+i%26)) + "-chunk"
	}
	return out
}

func TestEmbedBatch_BatchesInOrder(t *testing.T) {
	f := &fakeEmbedder{dimension: dim}
	g := NewGateway(f, 10, dim, 0)

	var progress []BatchProgress
	res, err := g.EmbedBatch(context.Background(), texts(25), func(p BatchProgress) { progress = append(progress, p) })
	require.NoError(t, err)

	require.Len(t, res.Vectors, 25)
	assert.Equal(t, 3, res.Batches)
	assert.Zero(t, res.FailedBatches)
	assert.False(t, res.AllFailed())
	require.Len(t, f.batches, 3)
	assert.Len(t, f.batches[0], 10)
	assert.Len(t, f.batches[2], 5)
	assert.Equal(t, []int{10, 20, 25}, []int{progress[0].Done, progress[1].Done, progress[2].Done})
}

func TestEmbedBatch_FailedBatchYieldsZeroVectors(t *testing.T) {
	f := &fakeEmbedder{dimension: dim, failCalls: map[int]bool{1: true}}
	g := NewGateway(f, 10, dim, 0)
	in := texts(25)

	var failures int
	res, err := g.EmbedBatch(context.Background(), in, func(p BatchProgress) {
		if p.Err != nil {
			failures++
			assert.ErrorIs(t, p.Err, models.ErrEmbeddingBatch)
		}
	})
	require.NoError(t, err)

	require.Len(t, res.Vectors, len(in))
	assert.Equal(t, 1, res.FailedBatches)
	assert.Equal(t, 1, failures)
	for i := 0; i < 10; i++ {
		assert.Equal(t, vectorFor(in[i], dim), res.Vectors[i])
	}
	for i := 10; i < 20; i++ {
		assert.Equal(t, make([]float32, dim), res.Vectors[i], "index %d", i)
	}
	for i := 20; i < 25; i++ {
		assert.Equal(t, vectorFor(in[i], dim), res.Vectors[i])
	}
}

func TestEmbedBatch_WrongDimensionCountsAsFailure(t *testing.T) {
	f := &fakeEmbedder{dimension: dim + 1}
	g := NewGateway(f, 10, dim, 0)

	res, err := g.EmbedBatch(context.Background(), texts(3), nil)
	require.NoError(t, err)

	assert.True(t, res.AllFailed())
	require.Len(t, res.Vectors, 3)
	assert.Len(t, res.Vectors[0], dim)
}

func TestEmbedBatch_Empty(t *testing.T) {
	g := NewGateway(&fakeEmbedder{dimension: dim}, 10, dim, 0)

	res, err := g.EmbedBatch(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Vectors)
	assert.False(t, res.AllFailed())
}

func TestEmbedBatch_DelaysBetweenBatches(t *testing.T) {
	g := NewGateway(&fakeEmbedder{dimension: dim}, 1, dim, 30*time.Millisecond)

	start := time.Now()
	_, err := g.EmbedBatch(context.Background(), texts(3), nil)
	require.NoError(t, err)

	// the first batch goes out immediately, the next two wait
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestEmbedBatch_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGateway(&fakeEmbedder{dimension: dim}, 10, dim, 0)

	_, err := g.EmbedBatch(ctx, texts(5), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedQuery(t *testing.T) {
	g := NewGateway(&fakeEmbedder{dimension: dim}, 10, dim, 0)

	v, err := g.EmbedQuery(context.Background(), "intent")
	require.NoError(t, err)
	assert.Len(t, v, dim)
}

func TestEmbedQuery_Failure(t *testing.T) {
	g := NewGateway(&fakeEmbedder{dimension: dim, queryErr: errors.New("unauthorized")}, 10, dim, 0)

	_, err := g.EmbedQuery(context.Background(), "intent")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrQueryEmbedding)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(&config.LLMConfig{Provider: "carrier-pigeon"}, 10)
	assert.Error(t, err)
}
