package index

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/ai"
	"docchat/internal/errs"
	"docchat/internal/model"
)

// keywordEmbedder puts one dimension per keyword, counting occurrences.
type keywordEmbedder struct {
	keywords []string
	calls    atomic.Int32
	failOn   string
	err      error
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, e.err
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.keywords))
	for i, k := range e.keywords {
		vec[i] = float32(strings.Count(lower, k))
	}
	return vec, nil
}

func (e *keywordEmbedder) Model() string { return "keywords" }

var geoPages = []model.Page{
	page("D1", 1, "Paris is the capital of France."),
	page("D2", 1, "Berlin is the capital of Germany."),
	page("D3", 1, "Madrid is the capital of Spain."),
}

var geoConfig = ChunkConfig{MaxChunkSize: 40, SplitOn: SplitSentence}

func buildGeo(t *testing.T, emb ai.Embedder) *Index {
	t.Helper()
	idx, err := NewBuilder(emb, 2, MetricCosine).Build(context.Background(), "corpus-1", geoPages, geoConfig)
	require.NoError(t, err)
	return idx
}

func TestBuild_EmbedsEachChunkOnce(t *testing.T) {
	emb := &keywordEmbedder{keywords: []string{"france", "germany", "spain", "capital"}}
	idx := buildGeo(t, emb)

	assert.Equal(t, 3, idx.Len())
	assert.EqualValues(t, 3, emb.calls.Load())
	assert.Equal(t, "keywords", idx.Model())
	assert.Equal(t, 4, idx.Dimension())
	for i := 0; i < idx.Len(); i++ {
		c, ok := idx.Chunk(i)
		require.True(t, ok)
		assert.Equal(t, "corpus-1", c.CorpusID)
		assert.Len(t, c.Embedding, 4)
	}
}

func TestBuild_Failures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		emb := &keywordEmbedder{keywords: []string{"x"}, failOn: "Berlin", err: errors.New("connection reset")}
		idx, err := NewBuilder(emb, 1, MetricCosine).Build(context.Background(), "c", geoPages, geoConfig)
		assert.Nil(t, idx)
		assert.ErrorIs(t, err, errs.ErrIndexing)
		assert.True(t, errs.IsRetryable(err))
	})

	t.Run("empty corpus", func(t *testing.T) {
		emb := &keywordEmbedder{keywords: []string{"x"}}
		_, err := NewBuilder(emb, 1, MetricCosine).Build(context.Background(), "c", []model.Page{page("a", 1, "  ")}, geoConfig)
		assert.ErrorIs(t, err, errs.ErrIndexing)
		assert.ErrorIs(t, err, ErrEmptyCorpus)
		assert.False(t, errs.IsRetryable(err))
		assert.Zero(t, emb.calls.Load())
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		emb := &keywordEmbedder{keywords: []string{"x"}}
		_, err := NewBuilder(emb, 1, MetricCosine).Build(ctx, "c", geoPages, geoConfig)
		assert.ErrorIs(t, err, errs.ErrIndexing)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid config", func(t *testing.T) {
		emb := &keywordEmbedder{keywords: []string{"x"}}
		_, err := NewBuilder(emb, 1, MetricCosine).Build(context.Background(), "c", geoPages, ChunkConfig{})
		assert.ErrorIs(t, err, errs.ErrIndexing)
	})
}

func TestNearestNeighbors_Ranking(t *testing.T) {
	idx := buildGeo(t, &keywordEmbedder{keywords: []string{"france", "germany", "spain", "capital"}})

	got, err := idx.NearestNeighbors(model.Embedding{Model: "keywords", Values: []float32{0, 1, 0, 1}}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Chunk.Text, "Berlin")
	// France and Spain score the same, lower id wins
	assert.Contains(t, got[1].Chunk.Text, "Paris")

	all, err := idx.NearestNeighbors(model.Embedding{Model: "keywords", Values: []float32{0, 0, 0, 1}}, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{all[0].Chunk.ChunkID, all[1].Chunk.ChunkID, all[2].Chunk.ChunkID})

	none, err := idx.NearestNeighbors(model.Embedding{Model: "keywords", Values: []float32{0, 0, 0, 1}}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNearestNeighbors_Deterministic(t *testing.T) {
	idx := buildGeo(t, &keywordEmbedder{keywords: []string{"france", "germany", "spain", "capital"}})
	q := model.Embedding{Model: "keywords", Values: []float32{1, 0, 1, 1}}

	first, err := idx.NearestNeighbors(q, 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := idx.NearestNeighbors(q, 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNearestNeighbors_Mismatch(t *testing.T) {
	idx := buildGeo(t, &keywordEmbedder{keywords: []string{"france", "germany", "spain", "capital"}})

	_, err := idx.NearestNeighbors(model.Embedding{Model: "other", Values: []float32{0, 1, 0, 1}}, 1)
	assert.ErrorIs(t, err, errs.ErrEmbeddingMismatch)

	_, err = idx.NearestNeighbors(model.Embedding{Model: "keywords", Values: []float32{0, 1}}, 1)
	assert.ErrorIs(t, err, errs.ErrEmbeddingMismatch)
}

func TestNew_RejectsMixedDimensions(t *testing.T) {
	_, err := New("c", "m", MetricCosine, []model.Chunk{
		{ChunkID: 0, Embedding: []float32{1, 2}},
		{ChunkID: 1, Embedding: []float32{1}},
	})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestDotMetric(t *testing.T) {
	idx, err := New("c", "m", MetricDot, []model.Chunk{
		{ChunkID: 0, Embedding: []float32{1, 0}},
		{ChunkID: 1, Embedding: []float32{3, 0}},
	})
	require.NoError(t, err)

	got, err := idx.NearestNeighbors(model.Embedding{Model: "m", Values: []float32{1, 0}}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, got[0].Chunk.ChunkID)
	assert.InDelta(t, 3.0, got[0].Score, 1e-9)

	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)
	_, err = ParseMetric("euclid")
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	idx := buildGeo(t, &keywordEmbedder{keywords: []string{"france", "germany", "spain", "capital"}})
	path := filepath.Join(t.TempDir(), "index.db")

	require.NoError(t, idx.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, idx.CorpusID(), loaded.CorpusID())
	assert.Equal(t, idx.Model(), loaded.Model())
	assert.Equal(t, idx.Dimension(), loaded.Dimension())
	assert.Equal(t, idx.Metric(), loaded.Metric())

	q := model.Embedding{Model: "keywords", Values: []float32{0, 0, 1, 1}}
	want, err := idx.NearestNeighbors(q, 3)
	require.NoError(t, err)
	got, err := loaded.NearestNeighbors(q, 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = loaded.NearestNeighbors(model.Embedding{Model: "other", Values: q.Values}, 1)
	assert.ErrorIs(t, err, errs.ErrEmbeddingMismatch)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}
