package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var crossEncoderTracer = otel.Tracer("veldt.reranker.crossencoder")

// ErrRerankUnavailable is returned when the reranking service cannot
// be reached or responds with a server error.
var ErrRerankUnavailable = errors.New("rerank service unavailable")

// CrossEncoderConfig holds configuration for a text-embeddings-inference
// style reranking service.
type CrossEncoderConfig struct {
	// BaseURL is the service root, e.g. "http://localhost:8080".
	BaseURL string `koanf:"base_url"`

	// Timeout bounds each rerank request.
	// Default: 10s
	Timeout time.Duration `koanf:"timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *CrossEncoderConfig) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate validates the configuration.
func (c CrossEncoderConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base URL required")
	}
	return nil
}

// CrossEncoderReranker calls an external cross-encoder service that
// scores each (query, text) pair jointly. Slower than term overlap but
// markedly better ordering.
type CrossEncoderReranker struct {
	config CrossEncoderConfig
	client *http.Client
}

// NewCrossEncoderReranker creates a CrossEncoderReranker.
func NewCrossEncoderReranker(config CrossEncoderConfig) (*CrossEncoderReranker, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &CrossEncoderReranker{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResponse []struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Rerank sends the query and candidate texts to the service and orders
// candidates by the returned scores.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	ctx, span := crossEncoderTracer.Start(ctx, "CrossEncoderReranker.Rerank")
	defer span.End()
	span.SetAttributes(attribute.Int("candidate_count", len(candidates)))

	if topK <= 0 {
		topK = len(candidates)
	}
	if len(candidates) == 0 {
		return []Ranked{}, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("encoding rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrRerankUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("%w: status %d: %s", ErrRerankUnavailable, resp.StatusCode, payload)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var scores rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}

	ranked := make([]Ranked, 0, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank response references index %d out of %d candidates", s.Index, len(candidates))
		}
		ranked = append(ranked, Ranked{
			Candidate:    candidates[s.Index],
			RerankScore:  s.Score,
			OriginalRank: s.Index,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RerankScore > ranked[j].RerankScore
	})
	if topK > len(ranked) {
		topK = len(ranked)
	}

	span.SetStatus(codes.Ok, "success")
	return ranked[:topK], nil
}

func (r *CrossEncoderReranker) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

var (
	_ Reranker = (*TermOverlapReranker)(nil)
	_ Reranker = (*CrossEncoderReranker)(nil)
)
