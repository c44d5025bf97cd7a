package chunker

import "strings"

// paragraph coalesces blank-line-separated paragraphs into chunks of at
// most MaxChunkChars, ignoring markdown structure apart from fenced
// code blocks, which stay whole.
type paragraph struct {
	maxChunkChars int
}

func newParagraph(opts Options) *paragraph {
	max := opts.MaxChunkChars
	if max == 0 {
		max = defaultMaxChunkChars
	}
	return &paragraph{maxChunkChars: max}
}

func (p *paragraph) Name() string { return StrategyParagraph }

func (p *paragraph) Chunk(text string) ([]Section, error) {
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

	pieces := coalesceParagraphs(splitParagraphs(trimmed), p.maxChunkChars)
	out := make([]Section, 0, len(pieces))
	for _, piece := range pieces {
		out = append(out, Section{Title: title, Text: piece})
	}
	return out, nil
}
