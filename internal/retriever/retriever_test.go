package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/errs"
	"docchat/internal/index"
	"docchat/internal/model"
)

type keywordEmbedder struct {
	model    string
	keywords []string
	calls    int
	err      error
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.keywords))
	for i, k := range e.keywords {
		vec[i] = float32(strings.Count(lower, k))
	}
	return vec, nil
}

func (e *keywordEmbedder) Model() string { return e.model }

type mapCache struct {
	data   map[string][]float32
	getErr error
	sets   int
}

func (c *mapCache) GetEmbedding(_ context.Context, m, text string) ([]float32, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[m+"|"+text]
	return v, ok, nil
}

func (c *mapCache) SetEmbedding(_ context.Context, m, text string, vec []float32) error {
	c.sets++
	c.data[m+"|"+text] = vec
	return nil
}

func geoIndex(t *testing.T, emb *keywordEmbedder) *index.Index {
	t.Helper()
	pages := []model.Page{
		{SourceDocumentID: "D1", PageIndex: 1, RawText: "Paris is the capital of France."},
		{SourceDocumentID: "D2", PageIndex: 1, RawText: "Berlin is the capital of Germany."},
		{SourceDocumentID: "D3", PageIndex: 1, RawText: "Madrid is the capital of Spain."},
	}
	idx, err := index.NewBuilder(emb, 1, index.MetricCosine).
		Build(context.Background(), "c", pages, index.ChunkConfig{MaxChunkSize: 40, SplitOn: index.SplitSentence})
	require.NoError(t, err)
	return idx
}

func newEmbedder() *keywordEmbedder {
	return &keywordEmbedder{model: "kw", keywords: []string{"france", "germany", "spain", "capital"}}
}

func TestRetrieve_RanksAndJoins(t *testing.T) {
	emb := newEmbedder()
	idx := geoIndex(t, emb)
	r := New(emb, nil)

	res, err := r.Retrieve(context.Background(), idx, "capital of Germany", 2, 0)
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.Contains(t, res.Chunks[0].Chunk.Text, "Berlin")
	assert.Equal(t, res.Chunks[0].Chunk.Text+contextSeparator+res.Chunks[1].Chunk.Text, res.Context)
}

func TestRetrieve_ContextBudget(t *testing.T) {
	emb := newEmbedder()
	idx := geoIndex(t, emb)
	r := New(emb, nil)

	full, err := r.Retrieve(context.Background(), idx, "capital", 3, 0)
	require.NoError(t, err)
	require.Len(t, full.Chunks, 3)

	first := len([]rune(full.Chunks[0].Chunk.Text))
	res, err := r.Retrieve(context.Background(), idx, "capital", 3, first+2)
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, full.Chunks[0].Chunk.Text, res.Context)

	none, err := r.Retrieve(context.Background(), idx, "capital", 3, 5)
	require.NoError(t, err)
	assert.Empty(t, none.Chunks)
	assert.Empty(t, none.Context)
}

func TestRetrieve_EmbeddingFailure(t *testing.T) {
	emb := newEmbedder()
	idx := geoIndex(t, emb)
	emb.err = errors.New("upstream timeout")

	_, err := New(emb, nil).Retrieve(context.Background(), idx, "capital", 2, 0)
	assert.ErrorIs(t, err, errs.ErrEmbedding)
	assert.True(t, errs.IsRetryable(err))
}

func TestRetrieve_ModelMismatch(t *testing.T) {
	idx := geoIndex(t, newEmbedder())
	other := newEmbedder()
	other.model = "kw-v2"

	_, err := New(other, nil).Retrieve(context.Background(), idx, "capital", 2, 0)
	assert.ErrorIs(t, err, errs.ErrEmbeddingMismatch)
}

func TestRetrieve_UsesCache(t *testing.T) {
	emb := newEmbedder()
	idx := geoIndex(t, emb)
	cache := &mapCache{data: map[string][]float32{}}
	r := New(emb, cache)

	before := emb.calls
	_, err := r.Retrieve(context.Background(), idx, "capital of Spain", 1, 0)
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), idx, "capital of Spain", 1, 0)
	require.NoError(t, err)

	assert.Equal(t, before+1, emb.calls)
	assert.Equal(t, 1, cache.sets)
}

func TestRetrieve_CacheErrorIgnored(t *testing.T) {
	emb := newEmbedder()
	idx := geoIndex(t, emb)
	r := New(emb, &mapCache{data: map[string][]float32{}, getErr: errors.New("redis down")})

	res, err := r.Retrieve(context.Background(), idx, "capital of Spain", 1, 0)
	require.NoError(t, err)
	assert.Contains(t, res.Chunks[0].Chunk.Text, "Madrid")
}
