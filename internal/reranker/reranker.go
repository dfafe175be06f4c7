// Package reranker re-scores retrieval candidates against the query to
// improve the final ordering.
package reranker

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

// Candidate is a retrieval hit under consideration for reranking.
type Candidate struct {
	ChunkID string
	Content string
	// Score is the similarity score from the vector search.
	Score float32
}

// Ranked is a candidate after reranking.
type Ranked struct {
	Candidate
	// RerankScore is the reranker's own relevance estimate, 0.0 to 1.0.
	RerankScore float32
	// OriginalRank is the candidate's position before reranking,
	// 0-indexed.
	OriginalRank int
}

// Reranker re-orders candidates by relevance to the query.
type Reranker interface {
	// Rerank returns at most topK candidates sorted by descending
	// relevance. topK <= 0 means no limit.
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error)

	Close() error
}

// TermOverlapReranker scores candidates by lexical overlap with the
// query, blended with the original similarity score. It needs no model
// or external service, which makes it the default.
type TermOverlapReranker struct{}

// NewTermOverlapReranker creates a TermOverlapReranker.
func NewTermOverlapReranker() *TermOverlapReranker {
	return &TermOverlapReranker{}
}

// Rerank blends the vector similarity score with the fraction of query
// terms present in each candidate, half weight each, then sorts.
func (r *TermOverlapReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if topK <= 0 {
		topK = len(candidates)
	}
	if len(candidates) == 0 {
		return []Ranked{}, nil
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return rankByScore(candidates, topK), nil
	}

	type scored struct {
		ranked   Ranked
		combined float32
	}

	all := make([]scored, len(candidates))
	for i, c := range candidates {
		overlap := termOverlap(queryTerms, tokenize(c.Content))
		all[i] = scored{
			ranked: Ranked{
				Candidate:    c,
				RerankScore:  overlap,
				OriginalRank: i,
			},
			combined: 0.5*c.Score + 0.5*overlap,
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].combined > all[j].combined
	})

	if topK > len(all) {
		topK = len(all)
	}
	result := make([]Ranked, topK)
	for i := 0; i < topK; i++ {
		result[i] = all[i].ranked
	}
	return result, nil
}

func (r *TermOverlapReranker) Close() error {
	return nil
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// stopwords and terms of two characters or fewer.
func tokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})

	filtered := tokens[:0]
	for _, token := range tokens {
		if len(token) > 2 && !stopwords[token] {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true,
	"from": true, "was": true, "are": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "you": true, "they": true,
	"what": true, "which": true, "who": true, "when": true,
	"where": true, "why": true, "how": true, "not": true, "all": true,
}

// termOverlap returns the fraction of unique query terms found in the
// candidate's terms.
func termOverlap(queryTerms, docTerms []string) float32 {
	if len(queryTerms) == 0 {
		return 0
	}

	docSet := make(map[string]bool, len(docTerms))
	for _, t := range docTerms {
		docSet[t] = true
	}

	matched := make(map[string]bool)
	for _, t := range queryTerms {
		if docSet[t] {
			matched[t] = true
		}
	}

	unique := make(map[string]bool, len(queryTerms))
	for _, t := range queryTerms {
		unique[t] = true
	}
	return float32(len(matched)) / float32(len(unique))
}

// rankByScore orders candidates by their original similarity score
// when the query yields no usable terms.
func rankByScore(candidates []Candidate, topK int) []Ranked {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	if topK > len(sorted) {
		topK = len(sorted)
	}
	result := make([]Ranked, topK)
	for i := 0; i < topK; i++ {
		result[i] = Ranked{
			Candidate:    sorted[i],
			RerankScore:  sorted[i].Score,
			OriginalRank: i,
		}
	}
	return result
}
