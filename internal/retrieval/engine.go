// Package retrieval answers queries against indexed chunks: embed the
// query, search the project's collection, optionally rerank.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/veldtlabs/veldt/internal/index"
	"github.com/veldtlabs/veldt/internal/logging"
	"github.com/veldtlabs/veldt/internal/reranker"
	"github.com/veldtlabs/veldt/internal/vectorstore"
)

var tracer = otel.Tracer("veldt.retrieval")

// ErrEmptyQuery is returned when the query text is empty.
var ErrEmptyQuery = errors.New("query text cannot be empty")

// Hit is a retrieved chunk.
type Hit struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// Options tunes a single query.
type Options struct {
	// TopK is how many results the query returns.
	// Default: 10
	TopK int

	// WithRerank enables the reranking stage.
	WithRerank bool

	// RerankTopK is how many candidates the vector search fetches for
	// the reranker to choose from. Raised to TopK when smaller, so the
	// rerank pool is never narrower than the final result set.
	// Default: TopK
	RerankTopK int
}

func (o *Options) applyDefaults() {
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.RerankTopK < o.TopK {
		o.RerankTopK = o.TopK
	}
}

// searchLimit is how many candidates the vector search returns. A
// reranking query fetches the wider candidate pool.
func (o Options) searchLimit() int {
	if o.WithRerank {
		return o.RerankTopK
	}
	return o.TopK
}

// Engine runs retrieval queries. The embedder is supplied per query so
// each query searches the collection of the model that embedded it.
type Engine struct {
	store    vectorstore.Store
	reranker reranker.Reranker
	logger   *logging.Logger
}

// NewEngine creates an Engine. The reranker may be nil, in which case
// rerank requests degrade to plain similarity ordering.
func NewEngine(store vectorstore.Store, rr reranker.Reranker, logger *logging.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:    store,
		reranker: rr,
		logger:   logger.Named("retrieval"),
	}, nil
}

// Query retrieves the chunks most similar to queryText from the
// collection for (projectID, embedder.ModelID()). A collection that
// has never been indexed yields empty results, not an error.
func (e *Engine) Query(ctx context.Context, projectID string, embedder index.Embedder, queryText string, opts Options) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "Engine.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("embedding_model", embedder.ModelID()),
		attribute.Bool("with_rerank", opts.WithRerank),
	)

	if queryText == "" {
		return nil, ErrEmptyQuery
	}
	opts.applyDefaults()

	vector, err := embedder.Embed(ctx, queryText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	name := index.CollectionName(projectID, embedder.ModelID())
	span.SetAttributes(attribute.String("collection", name))

	filter := map[string]string{vectorstore.PayloadProjectID: projectID}
	raw, err := e.store.Search(ctx, name, vector, filter, opts.searchLimit())
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		e.logger.Debug("query against unindexed collection",
			zap.String("collection", name),
			zap.String("project_id", projectID),
		)
		span.SetStatus(codes.Ok, "collection absent")
		return []Hit{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", name, err)
	}

	hits := make([]Hit, 0, len(raw))
	for _, h := range raw {
		content := h.Payload[vectorstore.PayloadContent]
		if content == "" {
			continue
		}
		hits = append(hits, Hit{
			ChunkID:    h.Payload[vectorstore.PayloadChunkID],
			DocumentID: h.Payload[vectorstore.PayloadDocumentID],
			Content:    content,
			Score:      h.Score,
		})
	}

	if opts.WithRerank && e.reranker != nil && len(hits) > 0 {
		hits, err = e.rerank(ctx, queryText, hits, opts.TopK)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func (e *Engine) rerank(ctx context.Context, queryText string, hits []Hit, topK int) ([]Hit, error) {
	candidates := make([]reranker.Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = reranker.Candidate{
			ChunkID: h.ChunkID,
			Content: h.Content,
			Score:   h.Score,
		}
	}

	ranked, err := e.reranker.Rerank(ctx, queryText, candidates, topK)
	if err != nil {
		return nil, fmt.Errorf("reranking: %w", err)
	}

	out := make([]Hit, 0, len(ranked))
	for _, r := range ranked {
		h := hits[r.OriginalRank]
		h.Score = r.RerankScore
		out = append(out, h)
	}
	return out, nil
}
