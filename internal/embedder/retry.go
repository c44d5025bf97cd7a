package embedder

import (
	"context"
	"time"
)

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 8 * time.Second
)

// Retry wraps an Embedder with bounded exponential backoff on transient
// failures (500ms, 1s, 2s, ... capped at 8s). Permanent failures and
// context cancellation return immediately.
type Retry struct {
	inner       Embedder
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

var _ Embedder = (*Retry)(nil)

// WithRetry wraps inner with the default retry policy.
func WithRetry(inner Embedder) *Retry {
	return &Retry{
		inner:       inner,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
	}
}

func (r *Retry) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.do(ctx, func() error {
		var err error
		out, err = r.inner.EmbedDocuments(ctx, texts)
		return err
	})
	return out, err
}

func (r *Retry) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.do(ctx, func() error {
		var err error
		out, err = r.inner.EmbedQuery(ctx, text)
		return err
	})
	return out, err
}

func (r *Retry) Dimension() int {
	return r.inner.Dimension()
}

func (r *Retry) Close() error {
	return r.inner.Close()
}

func (r *Retry) do(ctx context.Context, fn func() error) error {
	delay := r.baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) || attempt >= r.maxAttempts {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
}
