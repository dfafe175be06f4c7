package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParagraphSplitter(t *testing.T) {
	splitter := NewParagraphSplitter()

	content := "First paragraph about chips.\n\nSecond paragraph about clouds.\n\n\n\nThird."
	spans := splitter.Split("proj-1", "doc-1", content)

	require.Len(t, spans, 1) // well under MaxChars, packed together
	assert.Equal(t, "proj-1", spans[0].ProjectID)
	assert.Equal(t, "doc-1", spans[0].DocumentID)
	assert.Equal(t, 0, spans[0].Ordinal)
	assert.Contains(t, spans[0].Content, "Third.")
}

func TestParagraphSplitterRespectsMaxChars(t *testing.T) {
	splitter := &ParagraphSplitter{MaxChars: 40}

	paras := []string{
		strings.Repeat("a", 30),
		strings.Repeat("b", 30),
		strings.Repeat("c", 30),
	}
	spans := splitter.Split("p", "d", strings.Join(paras, "\n\n"))

	require.Len(t, spans, 3)
	for i, span := range spans {
		assert.Equal(t, i, span.Ordinal)
		assert.NotEmpty(t, span.ChunkID)
	}
}

func TestParagraphSplitterEmptyInput(t *testing.T) {
	splitter := NewParagraphSplitter()
	assert.Empty(t, splitter.Split("p", "d", "  \n\n  "))
}

func TestParagraphSplitterOversizedParagraph(t *testing.T) {
	splitter := &ParagraphSplitter{MaxChars: 10}
	spans := splitter.Split("p", "d", strings.Repeat("x", 50))
	require.Len(t, spans, 1)
	assert.Len(t, spans[0].Content, 50)
}
