package chunker

import (
	"strings"
)

// markdownH3 splits on `### ` headings. Content before the first h3 is
// grouped under the document title (the first `# ` heading when
// present, "Introduction" otherwise). Sections larger than
// MaxChunkChars are subdivided on paragraph boundaries with the
// heading carried into each piece. Fenced code blocks are never split
// and heading markers inside them are ignored.
type markdownH3 struct {
	maxChunkChars int
}

func newMarkdownH3(opts Options) *markdownH3 {
	max := opts.MaxChunkChars
	if max == 0 {
		max = defaultMaxChunkChars
	}
	return &markdownH3{maxChunkChars: max}
}

func (m *markdownH3) Name() string { return StrategyMarkdownH3 }

func (m *markdownH3) Chunk(text string) ([]Section, error) {
	lines := strings.Split(text, "\n")

	docTitle := "Introduction"
	inFence := false
	var fenceMarker string

	type rawSection struct {
		title string
		lines []string
	}

	sections := []rawSection{{title: ""}}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if inFence {
			sections[len(sections)-1].lines = append(sections[len(sections)-1].lines, line)
			if strings.HasPrefix(trimmed, fenceMarker) {
				inFence = false
			}
			continue
		}

		if marker := fenceOpen(trimmed); marker != "" {
			inFence = true
			fenceMarker = marker
			sections[len(sections)-1].lines = append(sections[len(sections)-1].lines, line)
			continue
		}

		if docTitle == "Introduction" && strings.HasPrefix(trimmed, "# ") {
			docTitle = strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}

		if strings.HasPrefix(trimmed, "### ") {
			title := strings.TrimSpace(strings.TrimPrefix(trimmed, "### "))
			sections = append(sections, rawSection{title: title, lines: []string{line}})
			continue
		}

		sections[len(sections)-1].lines = append(sections[len(sections)-1].lines, line)
	}

	var out []Section
	for i, sec := range sections {
		body := strings.TrimSpace(strings.Join(sec.lines, "\n"))
		if body == "" {
			continue
		}
		title := sec.title
		if i == 0 || title == "" {
			title = docTitle
		}
		if len(body) <= m.maxChunkChars {
			out = append(out, Section{Title: title, Text: body})
			continue
		}
		// Every sub-piece carries the section heading so each chunk is
		// self-describing when rendered on its own.
		for _, piece := range coalesceParagraphs(splitParagraphs(body), m.maxChunkChars) {
			if sec.title != "" && !strings.HasPrefix(piece, "### ") {
				piece = "### " + sec.title + "\n\n" + piece
			}
			out = append(out, Section{Title: title, Text: piece})
		}
	}

	if len(out) == 0 && strings.TrimSpace(text) != "" {
		out = append(out, Section{Title: docTitle, Text: strings.TrimSpace(text)})
	}
	return out, nil
}

// fenceOpen returns the fence marker when a line opens a fenced code
// block, or "" otherwise.
func fenceOpen(trimmed string) string {
	if strings.HasPrefix(trimmed, "```") {
		return "```"
	}
	if strings.HasPrefix(trimmed, "~~~") {
		return "~~~"
	}
	return ""
}

// splitParagraphs breaks text on blank lines, keeping fenced code
// blocks whole.
func splitParagraphs(text string) []string {
	lines := strings.Split(text, "\n")

	var paragraphs []string
	var current []string
	inFence := false
	var fenceMarker string

	flush := func() {
		para := strings.TrimSpace(strings.Join(current, "\n"))
		if para != "" {
			paragraphs = append(paragraphs, para)
		}
		current = current[:0]
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if inFence {
			current = append(current, line)
			if strings.HasPrefix(trimmed, fenceMarker) {
				inFence = false
			}
			continue
		}
		if marker := fenceOpen(trimmed); marker != "" {
			inFence = true
			fenceMarker = marker
			current = append(current, line)
			continue
		}
		if trimmed == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return paragraphs
}

// coalesceParagraphs packs paragraphs into pieces no larger than max,
// except when a single paragraph (such as a long code block) already
// exceeds it; that paragraph becomes its own piece untouched.
func coalesceParagraphs(paragraphs []string, max int) []string {
	var pieces []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if len(para) > max {
			flush()
			pieces = append(pieces, para)
			continue
		}
		if current.Len() > 0 && current.Len()+2+len(para) > max {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return pieces
}
