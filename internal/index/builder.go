package index

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"docchat/internal/ai"
	"docchat/internal/errs"
	"docchat/internal/model"
)

const stageIndex = "index"

var (
	ErrEmptyCorpus = errors.New("corpus has no text to index")
	ErrDimension   = errors.New("inconsistent embedding dimension")
)

// Builder embeds chunks through an Embedder, at most concurrency calls at a time.
type Builder struct {
	embedder    ai.Embedder
	concurrency int
	metric      Metric
}

func NewBuilder(embedder ai.Embedder, concurrency int, metric Metric) *Builder {
	if concurrency <= 0 {
		concurrency = 1
	}
	if metric == "" {
		metric = MetricCosine
	}
	return &Builder{embedder: embedder, concurrency: concurrency, metric: metric}
}

// Build splits pages into chunks and embeds each one exactly once.
// It returns a complete index or an indexing error, never a partial index.
func (b *Builder) Build(ctx context.Context, corpusID string, pages []model.Page, cfg ChunkConfig) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.New(errs.ErrIndexing, stageIndex, false, err)
	}

	chunks, _ := Split(pages, cfg)
	if len(chunks) == 0 {
		return nil, errs.New(errs.ErrIndexing, stageIndex, false, ErrEmptyCorpus)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := b.embedder.Embed(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d failed: %w", i, err)
			}
			chunks[i].CorpusID = corpusID
			chunks[i].Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.New(errs.ErrIndexing, stageIndex, ai.IsTransient(err), err)
	}
	// the group may have stopped launching without any call failing
	if err := ctx.Err(); err != nil {
		return nil, errs.New(errs.ErrIndexing, stageIndex, false, err)
	}

	idx, err := New(corpusID, b.embedder.Model(), b.metric, chunks)
	if err != nil {
		return nil, errs.New(errs.ErrIndexing, stageIndex, false, err)
	}
	return idx, nil
}
