// Package index chunks a corpus, embeds every chunk and answers nearest-neighbour queries.
package index

import (
	"fmt"
	"math"
	"sort"

	"docchat/internal/errs"
	"docchat/internal/model"
)

type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricDot:
		return MetricDot, nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q", s)
	}
}

type ScoredChunk struct {
	Chunk model.Chunk `json:"chunk"`
	Score float64     `json:"score"`
}

// Index is an immutable, fully embedded set of chunks for one corpus.
type Index struct {
	corpusID  string
	model     string
	dimension int
	metric    Metric
	chunks    []model.Chunk
	norms     []float64
}

// New assembles an index from embedded chunks. Every chunk must carry a vector of the same dimension.
func New(corpusID, embeddingModel string, metric Metric, chunks []model.Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyCorpus
	}
	dim := len(chunks[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("chunk 0 has no embedding")
	}
	norms := make([]float64, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) != dim {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, expected %d", ErrDimension, c.ChunkID, len(c.Embedding), dim)
		}
		norms[i] = norm(c.Embedding)
	}
	return &Index{
		corpusID:  corpusID,
		model:     embeddingModel,
		dimension: dim,
		metric:    metric,
		chunks:    chunks,
		norms:     norms,
	}, nil
}

func (idx *Index) CorpusID() string { return idx.corpusID }
func (idx *Index) Model() string    { return idx.model }
func (idx *Index) Dimension() int   { return idx.dimension }
func (idx *Index) Metric() Metric   { return idx.metric }
func (idx *Index) Len() int         { return len(idx.chunks) }

// Chunk returns the chunk with the given id.
func (idx *Index) Chunk(id int) (model.Chunk, bool) {
	if id < 0 || id >= len(idx.chunks) {
		return model.Chunk{}, false
	}
	return idx.chunks[id], true
}

// NearestNeighbors ranks chunks by similarity to q, highest first, ties broken by
// ascending chunk id. k larger than the index returns every chunk.
func (idx *Index) NearestNeighbors(q model.Embedding, k int) ([]ScoredChunk, error) {
	if q.Model != idx.model {
		return nil, errs.New(errs.ErrEmbeddingMismatch, "search", false,
			fmt.Errorf("query model %q, index model %q", q.Model, idx.model))
	}
	if len(q.Values) != idx.dimension {
		return nil, errs.New(errs.ErrEmbeddingMismatch, "search", false,
			fmt.Errorf("query has %d dimensions, index has %d", len(q.Values), idx.dimension))
	}
	if k <= 0 {
		return []ScoredChunk{}, nil
	}

	qNorm := norm(q.Values)
	scored := make([]ScoredChunk, len(idx.chunks))
	for i, c := range idx.chunks {
		scored[i] = ScoredChunk{Chunk: c, Score: idx.score(q.Values, qNorm, i)}
	}
	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		return scored[a].Chunk.ChunkID < scored[b].Chunk.ChunkID
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

func (idx *Index) score(q []float32, qNorm float64, i int) float64 {
	d := dot(q, idx.chunks[i].Embedding)
	if idx.metric == MetricDot {
		return d
	}
	if qNorm == 0 || idx.norms[i] == 0 {
		return 0
	}
	return d / (qNorm * idx.norms[i])
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
