// Package chunker splits documents into retrievable sections.
//
// Four strategies exist: markdown-h3 (the default, heading-aware),
// paragraph (blank-line coalescing), and character/token (fixed-size
// windows via langchaingo's textsplitter). All strategies are
// deterministic: identical input yields identical chunks.
package chunker

import (
	"errors"
	"fmt"
)

// Strategy names accepted by New.
const (
	StrategyMarkdownH3 = "markdown-h3"
	StrategyParagraph  = "paragraph"
	StrategyCharacter  = "character"
	StrategyToken      = "token"
)

var ErrUnknownStrategy = errors.New("unknown chunking strategy")

// Section is one chunk of a document, before embedding.
type Section struct {
	// Title is the heading the content sits under, or the document
	// title for preamble content.
	Title string
	// Text is the chunk body, heading line included for markdown.
	Text string
}

// Chunker splits a document into sections.
type Chunker interface {
	Chunk(text string) ([]Section, error)
	Name() string
}

// Options tunes chunk sizing. Zero values mean defaults.
type Options struct {
	// MaxChunkChars caps section size for markdown-h3 and paragraph;
	// oversize sections are subdivided on paragraph boundaries.
	// Default 6000.
	MaxChunkChars int
	// ChunkSize and ChunkOverlap apply to the character and token
	// strategies. Defaults 2000/200 characters and 512/64 tokens.
	ChunkSize    int
	ChunkOverlap int
	// TokenModel names the tiktoken encoding model for the token
	// strategy. Default gpt-3.5-turbo.
	TokenModel string
}

const (
	defaultMaxChunkChars = 6000
	defaultCharSize      = 2000
	defaultCharOverlap   = 200
	defaultTokenSize     = 512
	defaultTokenOverlap  = 64
	defaultTokenModel    = "gpt-3.5-turbo"
)

// New returns the chunker for a strategy name. An empty name selects
// markdown-h3.
func New(strategy string, opts Options) (Chunker, error) {
	switch strategy {
	case "", StrategyMarkdownH3:
		return newMarkdownH3(opts), nil
	case StrategyParagraph:
		return newParagraph(opts), nil
	case StrategyCharacter:
		return newCharacter(opts), nil
	case StrategyToken:
		return newToken(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}
