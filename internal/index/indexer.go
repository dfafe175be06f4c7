// Package index embeds labeled chunks and writes them into the vector
// store, one collection per project and embedding model pair.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/veldtlabs/veldt/internal/chunk"
	"github.com/veldtlabs/veldt/internal/logging"
	"github.com/veldtlabs/veldt/internal/vectorstore"
)

var tracer = otel.Tracer("veldt.index")

var (
	// ErrNoChunks is returned when an indexing request carries no chunks.
	ErrNoChunks = errors.New("no chunks to index")

	// ErrEmbeddingFailed is returned when any chunk in a request fails
	// to embed. Indexing is all or nothing, so one failure aborts the
	// whole request before anything is written.
	ErrEmbeddingFailed = errors.New("embedding failed")
)

// Embedder produces a vector for a piece of text. ModelID identifies
// the embedding model so vectors land in that model's collection.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

// Config holds indexer configuration.
type Config struct {
	// BatchSize is how many chunks are embedded concurrently.
	// Default: 5
	BatchSize int `koanf:"batch_size"`

	// Distance is the metric used when provisioning new collections.
	// Default: cosine
	Distance vectorstore.Distance `koanf:"distance"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 5
	}
	if c.Distance == "" {
		c.Distance = vectorstore.DistanceCosine
	}
}

// Result describes a completed indexing request.
type Result struct {
	// Collection is the collection the points were written to.
	Collection string

	// PointIDs are the ids assigned to the written points, in chunk
	// order. Every call assigns fresh ids, so re-indexing a chunk
	// produces a new point rather than overwriting the old one.
	PointIDs []string
}

// Indexer embeds chunks and upserts them into the vector store. The
// embedder is supplied per request so each request's model writes into
// its own collection.
type Indexer struct {
	store  vectorstore.Store
	config Config
	logger *logging.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(store vectorstore.Store, config Config, logger *logging.Logger) (*Indexer, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	config.ApplyDefaults()

	return &Indexer{
		store:  store,
		config: config,
		logger: logger.Named("index"),
	}, nil
}

// CollectionName derives the collection name for a project and
// embedding model. Uppercase letters are lowercased and any byte
// outside [a-z0-9_] is substituted with its hex encoding, so distinct
// inputs stay distinct. Names that would exceed the store's length
// limit collapse to a hash.
func CollectionName(projectID, embeddingModelID string) string {
	name := escapeNamePart(projectID) + "__" + escapeNamePart(embeddingModelID)
	if len(name) > 64 {
		sum := sha256.Sum256([]byte(projectID + "\x00" + embeddingModelID))
		name = "c_" + hex.EncodeToString(sum[:16])
	}
	return name
}

func escapeNamePart(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b >= 'a' && b <= 'z', b >= '0' && b <= '9', b == '_':
			out = append(out, b)
		case b >= 'A' && b <= 'Z':
			out = append(out, b+('a'-'A'))
		default:
			out = append(out, []byte(fmt.Sprintf("%02x", b))...)
		}
	}
	return string(out)
}

// IndexChunks embeds the chunks with embedder and writes them to the
// collection for (projectID, embedder.ModelID()), provisioning the
// collection from the first vector's dimensionality if it does not
// exist yet. Deriving the collection from the embedder keeps each
// model's vectors in that model's partition. The request is all or
// nothing: any embedding failure or dimension conflict aborts before a
// single point is written.
func (ix *Indexer) IndexChunks(ctx context.Context, projectID string, embedder Embedder, chunks []chunk.Chunk) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Indexer.IndexChunks")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("embedding_model", embedder.ModelID()),
		attribute.Int("chunk_count", len(chunks)),
	)

	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	vectors, err := ix.embedAll(ctx, embedder, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			err := fmt.Errorf("%w: chunk %s has dim %d, expected %d",
				vectorstore.ErrDimensionMismatch, chunks[i].ID, len(v), dim)
			span.RecordError(err)
			return nil, err
		}
	}

	name := CollectionName(projectID, embedder.ModelID())
	span.SetAttributes(attribute.String("collection", name))

	if err := ix.ensureCollection(ctx, name, dim); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	points := make([]vectorstore.Point, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = uuid.New().String()
		points[i] = vectorstore.Point{
			ID:     ids[i],
			Vector: vectors[i],
			Payload: map[string]string{
				vectorstore.PayloadChunkID:    c.ID,
				vectorstore.PayloadDocumentID: c.DocumentID,
				vectorstore.PayloadProjectID:  c.ProjectID,
				vectorstore.PayloadContent:    c.Content,
			},
		}
	}

	if err := ix.store.Upsert(ctx, name, points); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting %d points: %w", len(points), err)
	}

	ix.logger.Info("indexed chunks",
		zap.String("collection", name),
		zap.Int("count", len(chunks)),
		zap.Int("dim", dim),
	)
	span.SetStatus(codes.Ok, "success")
	return &Result{Collection: name, PointIDs: ids}, nil
}

// embedAll embeds chunk contents in batches, concurrently within a
// batch. Batches run sequentially so a failure in one stops further
// work quickly.
func (ix *Indexer) embedAll(ctx context.Context, embedder Embedder, chunks []chunk.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	errs := make([]error, len(chunks))

	for start := 0; start < len(chunks); start += ix.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embedding canceled: %w", err)
		}
		end := start + ix.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				vectors[i], errs[i] = embedder.Embed(ctx, chunks[i].Content)
			}(i)
		}
		wg.Wait()

		for i := start; i < end; i++ {
			if errs[i] != nil {
				return nil, fmt.Errorf("%w: chunk %s: %v", ErrEmbeddingFailed, chunks[i].ID, errs[i])
			}
			if len(vectors[i]) == 0 {
				return nil, fmt.Errorf("%w: chunk %s: empty vector", ErrEmbeddingFailed, chunks[i].ID)
			}
		}
	}
	return vectors, nil
}

// ensureCollection creates the collection if absent, or verifies its
// dimensionality if present. A concurrent creator winning the race is
// fine, CreateCollection treats already-exists as success.
func (ix *Indexer) ensureCollection(ctx context.Context, name string, dim int) error {
	exists, err := ix.store.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}

	if !exists {
		if err := ix.store.CreateCollection(ctx, name, dim, ix.config.Distance); err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
		return nil
	}

	existing, err := ix.store.CollectionDim(ctx, name)
	if err != nil {
		return fmt.Errorf("reading dim of collection %s: %w", name, err)
	}
	if existing != dim {
		return fmt.Errorf("%w: collection %s has dim %d, vectors have dim %d",
			vectorstore.ErrDimensionMismatch, name, existing, dim)
	}
	return nil
}
