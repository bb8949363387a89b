package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageError_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("provider timeout")
	err := New(ErrEmbedding, "embed", true, cause)

	assert.ErrorIs(t, err, ErrEmbedding)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrMerge)
	assert.Equal(t, "embed: embedding error: provider timeout", err.Error())
}

func TestWrap_InheritsRetryable(t *testing.T) {
	inner := New(ErrEmbedding, "embed", true, errors.New("503"))
	outer := Wrap(ErrGeneration, "retrieve", inner)

	assert.True(t, IsRetryable(outer))
	assert.ErrorIs(t, outer, ErrGeneration)
	assert.ErrorIs(t, outer, ErrEmbedding)
	assert.Equal(t, "retrieve", Stage(outer))

	structural := Wrap(ErrGeneration, "retrieve", New(ErrEmbeddingMismatch, "query", false, nil))
	assert.False(t, IsRetryable(structural))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(New(ErrCompletion, "answer", true, context.Canceled)))
	assert.True(t, IsRetryable(fmt.Errorf("ask failed: %w", New(ErrCompletion, "answer", true, nil))))
}
