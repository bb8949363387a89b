// Package errs defines the failure taxonomy of the document-to-answer pipeline.
package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMerge             = errors.New("merge error")
	ErrExtraction        = errors.New("extraction error")
	ErrIndexing          = errors.New("indexing error")
	ErrEmbedding         = errors.New("embedding error")
	ErrEmbeddingMismatch = errors.New("embedding mismatch error")
	ErrCompletion        = errors.New("completion error")
	ErrGeneration        = errors.New("generation error")
)

// StageError carries the failure kind, the pipeline stage that failed and the
// underlying cause. errors.Is matches both the kind and anything in the cause chain.
type StageError struct {
	Kind      error
	Stage     string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds a StageError with an explicit retry classification.
func New(kind error, stage string, retryable bool, err error) error {
	return &StageError{Kind: kind, Stage: stage, Retryable: retryable, Err: err}
}

// Wrap builds a StageError whose retry classification is inherited from err.
func Wrap(kind error, stage string, err error) error {
	return &StageError{Kind: kind, Stage: stage, Retryable: IsRetryable(err), Err: err}
}

// IsRetryable reports whether the outermost StageError in err is marked retryable.
// Cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// Stage returns the stage name of the outermost StageError, or "".
func Stage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
