// Package embedder generates vector embeddings for chunks and queries.
//
// Two production providers are available: FastEmbed (local ONNX models,
// no external service) and an OpenAI-compatible HTTP provider that
// works against OpenAI or a TEI server. The hash provider exists for
// deterministic tests and offline development.
package embedder

import (
	"context"
	"errors"
)

var (
	ErrEmptyInput      = errors.New("empty input")
	ErrInvalidConfig   = errors.New("invalid embedder configuration")
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder turns text into vectors. EmbedDocuments is used at ingestion
// time (passage mode for models that distinguish), EmbedQuery at search
// time. Dimension is the fixed output width.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Close() error
}

// TransientError marks a failure worth retrying, such as a remote
// embedding service hiccup. Local inference failures are permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// MarkTransient wraps err so IsTransient reports true. Context
// cancellation is never transient.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
