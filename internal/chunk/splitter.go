package chunk

import (
	"strings"

	"github.com/google/uuid"
)

// Splitter turns a document into ordered text spans. The splitting
// algorithm is a collaborator boundary; the engine only depends on this
// interface.
type Splitter interface {
	Split(projectID, documentID, content string) []TextSpan
}

// ParagraphSplitter splits on blank lines and re-packs paragraphs into
// spans of at most MaxChars characters. Paragraphs longer than MaxChars
// are emitted as oversized single spans rather than cut mid-sentence.
type ParagraphSplitter struct {
	// MaxChars is the target maximum span size. Default 2000.
	MaxChars int
}

// NewParagraphSplitter creates a splitter with default sizing.
func NewParagraphSplitter() *ParagraphSplitter {
	return &ParagraphSplitter{MaxChars: 2000}
}

// Split implements Splitter.
func (s *ParagraphSplitter) Split(projectID, documentID, content string) []TextSpan {
	maxChars := s.MaxChars
	if maxChars <= 0 {
		maxChars = 2000
	}

	var (
		spans   []TextSpan
		current strings.Builder
	)

	flush := func() {
		text := strings.TrimSpace(current.String())
		current.Reset()
		if text == "" {
			return
		}
		spans = append(spans, TextSpan{
			ChunkID:    uuid.New().String(),
			DocumentID: documentID,
			ProjectID:  projectID,
			Content:    text,
			Ordinal:    len(spans),
		})
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		if current.Len() >= maxChars {
			flush()
		}
	}
	flush()

	return spans
}

var _ Splitter = (*ParagraphSplitter)(nil)
