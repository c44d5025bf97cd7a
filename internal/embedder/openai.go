package embedder

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures the OpenAI-compatible provider. It works
// against OpenAI itself or any server speaking the same API, such as
// TEI (Text Embeddings Inference).
type OpenAIConfig struct {
	// BaseURL, e.g. https://api.openai.com/v1 or http://localhost:8080/v1.
	BaseURL string
	// Model, e.g. text-embedding-3-small or BAAI/bge-small-en-v1.5.
	Model string
	// APIKey is required for OpenAI, optional for TEI.
	APIKey string
	// Dimension the model produces. Remote APIs do not report it, so
	// the deployment states it.
	Dimension int
}

// OpenAI embeds via an OpenAI-compatible HTTP API using langchaingo.
// Failures are marked transient so the retry wrapper backs off and
// retries them.
type OpenAI struct {
	embedder  *embeddings.EmbedderImpl
	dimension int
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates the provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if cfg.Dimension < 1 {
		return nil, fmt.Errorf("%w: dimension required", ErrInvalidConfig)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token; TEI ignores it.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAI{embedder: emb, dimension: cfg.Dimension}, nil
}

func (p *OpenAI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, MarkTransient(fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
	}
	return vectors, nil
}

func (p *OpenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, MarkTransient(fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
	}
	return vector, nil
}

func (p *OpenAI) Dimension() int {
	return p.dimension
}

func (p *OpenAI) Close() error {
	return nil
}
