package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	h, err := NewHash(64)
	require.NoError(t, err)

	ctx := context.Background()
	a, err := h.EmbedQuery(ctx, "routing middleware for web servers")
	require.NoError(t, err)
	b, err := h.EmbedQuery(ctx, "routing middleware for web servers")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashNormalized(t *testing.T) {
	h, err := NewHash(32)
	require.NoError(t, err)

	vec, err := h.EmbedQuery(context.Background(), "some text with several words")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashSimilarTextScoresHigher(t *testing.T) {
	h, err := NewHash(128)
	require.NoError(t, err)

	ctx := context.Background()
	docs, err := h.EmbedDocuments(ctx, []string{
		"http router and middleware chain",
		"dairy farming subsidies in the alpine region",
	})
	require.NoError(t, err)

	q, err := h.EmbedQuery(ctx, "middleware for an http router")
	require.NoError(t, err)

	dot := func(a, b []float32) float64 {
		var sum float64
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		return sum
	}
	assert.Greater(t, dot(q, docs[0]), dot(q, docs[1]))
}

func TestHashRejectsEmptyInput(t *testing.T) {
	h, err := NewHash(16)
	require.NoError(t, err)

	_, err = h.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = h.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNewHashRejectsBadDimension(t *testing.T) {
	_, err := NewHash(0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
