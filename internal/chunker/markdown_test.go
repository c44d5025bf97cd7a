package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `# Echo Guide

Echo is a web framework.

### Routing

Register handlers on the router.

### Middleware

Chain middleware with Use.

` + "```go" + `
e.Use(middleware.Logger())
### this is code, not a heading
` + "```" + `

Middleware runs in order.
`

func TestMarkdownH3SplitsOnHeadings(t *testing.T) {
	c := newMarkdownH3(Options{})
	sections, err := c.Chunk(sampleDoc)
	require.NoError(t, err)
	require.Len(t, sections, 3)

	assert.Equal(t, "Echo Guide", sections[0].Title)
	assert.Contains(t, sections[0].Text, "Echo is a web framework.")

	assert.Equal(t, "Routing", sections[1].Title)
	assert.True(t, strings.HasPrefix(sections[1].Text, "### Routing"))

	assert.Equal(t, "Middleware", sections[2].Title)
	assert.Contains(t, sections[2].Text, "e.Use(middleware.Logger())")
	// The heading-looking line inside the fence must not start a section.
	assert.Contains(t, sections[2].Text, "### this is code, not a heading")
}

func TestMarkdownH3Deterministic(t *testing.T) {
	c := newMarkdownH3(Options{})
	a, err := c.Chunk(sampleDoc)
	require.NoError(t, err)
	b, err := c.Chunk(sampleDoc)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarkdownH3NoHeadingsFallsBackToWholeDoc(t *testing.T) {
	c := newMarkdownH3(Options{})
	sections, err := c.Chunk("just a plain paragraph\n\nand another one\n")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Introduction", sections[0].Title)
}

func TestMarkdownH3SubdividesOversizeSections(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("### Big Section\n\n")
	for i := 0; i < 40; i++ {
		sb.WriteString(strings.Repeat("word ", 20))
		sb.WriteString("\n\n")
	}

	c := newMarkdownH3(Options{MaxChunkChars: 500})
	sections, err := c.Chunk(sb.String())
	require.NoError(t, err)
	require.Greater(t, len(sections), 1)

	heading := "### Big Section"
	for _, sec := range sections {
		assert.Equal(t, "Big Section", sec.Title)
		// Every piece repeats the heading so it renders standalone.
		assert.True(t, strings.HasPrefix(sec.Text, heading), "piece missing heading: %q", sec.Text[:40])
		assert.LessOrEqual(t, len(sec.Text), 500+len(heading)+2)
	}
}

func TestMarkdownH3KeepsOversizeCodeBlockWhole(t *testing.T) {
	code := "```\n" + strings.Repeat("line of code\n", 100) + "```"
	doc := "### Example\n\nIntro text.\n\n" + code + "\n"

	c := newMarkdownH3(Options{MaxChunkChars: 200})
	sections, err := c.Chunk(doc)
	require.NoError(t, err)

	var found bool
	for _, sec := range sections {
		if strings.Contains(sec.Text, "```") {
			// The fence survives in one piece.
			assert.Equal(t, 2, strings.Count(sec.Text, "```"))
			found = true
		}
	}
	assert.True(t, found, "code block missing from output")
}

func TestParagraphCoalesces(t *testing.T) {
	doc := "# Title\n\nfirst para\n\nsecond para\n\nthird para\n"
	c := newParagraph(Options{MaxChunkChars: 25})
	sections, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Greater(t, len(sections), 1)
	for _, sec := range sections {
		assert.Equal(t, "Title", sec.Title)
	}
}

func TestParagraphEmptyInput(t *testing.T) {
	c := newParagraph(Options{})
	sections, err := c.Chunk("   \n\n  ")
	require.NoError(t, err)
	assert.Empty(t, sections)
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	_, err := New("sentences", Options{})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestNewDefaultsToMarkdownH3(t *testing.T) {
	c, err := New("", Options{})
	require.NoError(t, err)
	assert.Equal(t, StrategyMarkdownH3, c.Name())
}

func TestCharacterStrategySplits(t *testing.T) {
	c, err := New(StrategyCharacter, Options{ChunkSize: 100, ChunkOverlap: 10})
	require.NoError(t, err)

	sections, err := c.Chunk(strings.Repeat("some sentence here. ", 50))
	require.NoError(t, err)
	assert.Greater(t, len(sections), 1)
}
