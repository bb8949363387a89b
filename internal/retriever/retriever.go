// Package retriever turns a query into a ranked, size-bounded context block.
package retriever

import (
	"context"
	"log"
	"strings"
	"unicode/utf8"

	"docchat/internal/ai"
	"docchat/internal/errs"
	"docchat/internal/index"
	"docchat/internal/model"
)

const (
	stageRetrieve    = "retrieve"
	contextSeparator = "\n---\n"
)

// QueryCache memoises query embeddings. Failures are not fatal to retrieval.
type QueryCache interface {
	GetEmbedding(ctx context.Context, model, text string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, model, text string, vec []float32) error
}

type Result struct {
	Context string
	Chunks  []index.ScoredChunk
}

type Retriever struct {
	embedder ai.Embedder
	cache    QueryCache
}

// New builds a retriever. cache may be nil.
func New(embedder ai.Embedder, cache QueryCache) *Retriever {
	return &Retriever{embedder: embedder, cache: cache}
}

// Retrieve embeds query, takes the k nearest chunks and concatenates them, in rank
// order, while the context stays within maxContextChars runes. A chunk that does not
// fit ends the context; chunks are never cut. maxContextChars <= 0 means no limit.
func (r *Retriever) Retrieve(ctx context.Context, idx *index.Index, query string, k, maxContextChars int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.New(errs.ErrEmbedding, stageRetrieve, false, err)
	}

	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, errs.New(errs.ErrEmbedding, stageRetrieve, ai.IsTransient(err), err)
	}

	ranked, err := idx.NearestNeighbors(model.Embedding{Model: r.embedder.Model(), Values: vec}, k)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	used := 0
	kept := make([]index.ScoredChunk, 0, len(ranked))
	for _, sc := range ranked {
		add := utf8.RuneCountInString(sc.Chunk.Text)
		if len(kept) > 0 {
			add += utf8.RuneCountInString(contextSeparator)
		}
		if maxContextChars > 0 && used+add > maxContextChars {
			break
		}
		if len(kept) > 0 {
			sb.WriteString(contextSeparator)
		}
		sb.WriteString(sc.Chunk.Text)
		used += add
		kept = append(kept, sc)
	}
	return &Result{Context: sb.String(), Chunks: kept}, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	name := r.embedder.Model()
	if r.cache != nil {
		vec, ok, err := r.cache.GetEmbedding(ctx, name, query)
		if err != nil {
			log.Printf("query embedding cache read failed: %v", err)
		} else if ok {
			return vec, nil
		}
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetEmbedding(ctx, name, query, vec); err != nil {
			log.Printf("query embedding cache write failed: %v", err)
		}
	}
	return vec, nil
}
