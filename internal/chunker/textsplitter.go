package chunker

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// character splits into fixed-size windows with overlap using
// langchaingo's recursive character splitter, which prefers paragraph
// and sentence boundaries before hard cuts.
type character struct {
	splitter textsplitter.RecursiveCharacter
}

func newCharacter(opts Options) *character {
	size := opts.ChunkSize
	if size == 0 {
		size = defaultCharSize
	}
	overlap := opts.ChunkOverlap
	if overlap == 0 {
		overlap = defaultCharOverlap
	}
	return &character{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}
}

func (c *character) Name() string { return StrategyCharacter }

func (c *character) Chunk(text string) ([]Section, error) {
	return splitWith(c.splitter, text)
}

// token splits by tiktoken token counts, for deployments that size
// chunks against a model context window.
type token struct {
	splitter textsplitter.TokenSplitter
}

func newToken(opts Options) *token {
	size := opts.ChunkSize
	if size == 0 {
		size = defaultTokenSize
	}
	overlap := opts.ChunkOverlap
	if overlap == 0 {
		overlap = defaultTokenOverlap
	}
	model := opts.TokenModel
	if model == "" {
		model = defaultTokenModel
	}
	return &token{
		splitter: textsplitter.NewTokenSplitter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithModelName(model),
		),
	}
}

func (t *token) Name() string { return StrategyToken }

func (t *token) Chunk(text string) ([]Section, error) {
	return splitWith(t.splitter, text)
}

type splitter interface {
	SplitText(text string) ([]string, error)
}

func splitWith(s splitter, text string) ([]Section, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}

	title := "Introduction"
	for _, line := range strings.Split(trimmed, "\n") {
		if t := strings.TrimSpace(line); strings.HasPrefix(t, "# ") {
			title = strings.TrimSpace(strings.TrimPrefix(t, "# "))
			break
		}
	}

	parts, err := s.SplitText(trimmed)
	if err != nil {
		return nil, fmt.Errorf("splitting text: %w", err)
	}

	out := make([]Section, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, Section{Title: title, Text: part})
	}
	return out, nil
}
