package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/veldtlabs/veldt/internal/logging"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("veldt.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded vector
// database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means
	// in-memory only.
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`
}

// ChromemStore implements the Store interface using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies. No external service needed, which makes it the default
// backend for single-node deployments and tests.
//
// chromem-go only supports cosine similarity, so CreateCollection
// rejects other distance metrics.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *logging.Logger

	// mu guards dims. chromem does not expose collection
	// dimensionality, so the store tracks it itself and persists it
	// to a sidecar file alongside the database.
	mu   sync.Mutex
	dims map[string]int
}

// NewChromemStore creates a ChromemStore. With an empty Path the store
// is purely in-memory.
func NewChromemStore(config ChromemConfig, logger *logging.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	store := &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
		dims:   make(map[string]int),
	}
	if err := store.loadDims(); err != nil {
		return nil, err
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
	)

	return store, nil
}

func (s *ChromemStore) dimsPath() string {
	return filepath.Join(s.config.Path, "collection_dims.json")
}

func (s *ChromemStore) loadDims() error {
	if s.config.Path == "" {
		return nil
	}
	data, err := os.ReadFile(s.dimsPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading collection dims: %w", err)
	}
	if err := json.Unmarshal(data, &s.dims); err != nil {
		return fmt.Errorf("parsing collection dims: %w", err)
	}
	return nil
}

// saveDims persists the dim map. Callers must hold mu.
func (s *ChromemStore) saveDims() error {
	if s.config.Path == "" {
		return nil
	}
	data, err := json.Marshal(s.dims)
	if err != nil {
		return fmt.Errorf("encoding collection dims: %w", err)
	}
	if err := os.WriteFile(s.dimsPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing collection dims: %w", err)
	}
	return nil
}

// embeddingFunc is passed to chromem to satisfy its API. All vectors
// are precomputed upstream, so chromem must never call it. Passing nil
// would make chromem fall back to its default OpenAI embedder.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding requested inside vector store, vectors must be precomputed")
	}
}

// CollectionExists checks if a collection exists.
func (s *ChromemStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.CollectionExists")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}

	collection := s.db.GetCollection(name, s.embeddingFunc())
	span.SetStatus(codes.Ok, "success")
	return collection != nil, nil
}

// CreateCollection creates a collection. Creating a collection that
// already exists is a no-op success.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string, dim int, distance Distance) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.CreateCollection")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("dim", dim),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dim)
	}
	if distance != DistanceCosine {
		return fmt.Errorf("%w: chromem only supports cosine distance, got %q", ErrInvalidConfig, distance)
	}

	if _, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.dims[name]; ok {
		if existing != dim {
			return fmt.Errorf("%w: collection %s has dim %d, requested %d", ErrDimensionMismatch, name, existing, dim)
		}
		span.SetStatus(codes.Ok, "success")
		return nil
	}
	s.dims[name] = dim
	if err := s.saveDims(); err != nil {
		return err
	}

	s.logger.Info("created chromem collection",
		zap.String("collection", name),
		zap.Int("dim", dim),
	)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionDim returns the vector dimensionality of a collection.
func (s *ChromemStore) CollectionDim(ctx context.Context, name string) (int, error) {
	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}

	s.mu.Lock()
	dim, ok := s.dims[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return dim, nil
}

// Upsert writes points into a collection.
func (s *ChromemStore) Upsert(ctx context.Context, name string, points []Point) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("point_count", len(points)),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if len(points) == 0 {
		return ErrEmptyPoints
	}

	collection := s.db.GetCollection(name, s.embeddingFunc())
	if collection == nil {
		span.SetStatus(codes.Error, "collection not found")
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        p.ID,
			Content:   p.Payload[PayloadContent],
			Metadata:  p.Payload,
			Embedding: p.Vector,
		}
	}

	// Concurrency of 1: embeddings are already present, AddDocuments
	// does no work worth parallelizing.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting to collection %s: %w", name, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted points to chromem",
		zap.String("collection", name),
		zap.Int("count", len(points)),
	)
	return nil
}

// Search performs similarity search with optional payload filters.
func (s *ChromemStore) Search(ctx context.Context, name string, vector []float32, filter map[string]string, limit int) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("limit", limit),
	)

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	collection := s.db.GetCollection(name, s.embeddingFunc())
	if collection == nil {
		span.SetStatus(codes.Error, "collection not found")
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	// chromem requires nResults <= document count.
	count := collection.Count()
	if count == 0 {
		span.SetStatus(codes.Ok, "success")
		return []Hit{}, nil
	}
	if limit > count {
		limit = count
	}

	results, err := collection.QueryEmbedding(ctx, vector, limit, filter, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		payload := make(map[string]string, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		if r.Content != "" {
			payload[PayloadContent] = r.Content
		}
		hits[i] = Hit{
			ID:      r.ID,
			Score:   r.Similarity,
			Payload: payload,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// DeletePoints deletes points by id.
func (s *ChromemStore) DeletePoints(ctx context.Context, name string, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeletePoints")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("id_count", len(ids)),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	collection := s.db.GetCollection(name, s.embeddingFunc())
	if collection == nil {
		span.SetStatus(codes.Error, "collection not found")
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	if err := collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points from %s: %w", name, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Close closes the store. chromem persists on write, so there is
// nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
