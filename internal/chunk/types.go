// Package chunk defines the chunk data model and document splitting.
package chunk

// TextSpan is a contiguous span of a document's text produced by a Splitter.
// Immutable once created; the labeling pipeline owns it until it is
// persisted as a Chunk.
type TextSpan struct {
	ChunkID    string
	DocumentID string
	ProjectID  string
	Content    string
	Ordinal    int
}

// Chunk is the persisted unit of labeling and embedding. Metadata fields
// (Summary, Domain, SubDomain, Tags, Language) start empty and are written
// exactly once per successful labeling pass.
type Chunk struct {
	ID         string
	ProjectID  string
	DocumentID string
	Content    string
	Summary    string
	Domain     string
	SubDomain  string
	Tags       []string
	Language   string
}

// DisplayName is the short label used for graph nodes.
func (c Chunk) DisplayName() string {
	const limit = 48
	if len(c.Content) <= limit {
		return c.Content
	}
	return c.Content[:limit] + "..."
}
