// Package ai holds the completion and embedding capabilities and their provider adapters.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrContentFiltered = errors.New("response blocked by content filter")
	ErrEmptyInput      = errors.New("input is empty")
	ErrEmptyResponse   = errors.New("provider returned no result")
)

// Embedder maps text to a fixed-dimension vector. Model names the embedding
// space; vectors from different models must never be compared.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Completer produces a text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, temperature float64, system string) (string, error)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider response status %d: %s", e.Code, e.Body)
}

// IsTransient reports whether retrying the same request could succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrContentFiltered) || errors.Is(err, ErrEmptyInput) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests, se.Code == http.StatusRequestTimeout:
			return true
		case se.Code >= 400 && se.Code < 500:
			return false
		}
	}
	return true
}
