package index_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/veldt/internal/chunk"
	"github.com/veldtlabs/veldt/internal/index"
	"github.com/veldtlabs/veldt/internal/vectorstore"
)

// fakeEmbedder returns fixed-dimension vectors, with optional per-text
// failures and dimension overrides. Embed is called concurrently
// within a batch, so the call log is mutex guarded.
type fakeEmbedder struct {
	model  string
	dim    int
	failOn map[string]error
	dimOn  map[string]int

	mu       sync.Mutex
	embedded []string
}

func (e *fakeEmbedder) ModelID() string {
	if e.model == "" {
		return "minilm"
	}
	return e.model
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.failOn[text]; err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.embedded = append(e.embedded, text)
	e.mu.Unlock()
	dim := e.dim
	if override, ok := e.dimOn[text]; ok {
		dim = override
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(len(text)%7+1) / 10
	}
	return v, nil
}

// fakeStore records calls against the vector store.
type fakeStore struct {
	collections map[string]int
	upserts     map[string][]vectorstore.Point
	upsertErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collections: make(map[string]int),
		upserts:     make(map[string][]vectorstore.Point),
	}
}

func (s *fakeStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, ok := s.collections[name]
	return ok, nil
}

func (s *fakeStore) CreateCollection(ctx context.Context, name string, dim int, distance vectorstore.Distance) error {
	s.collections[name] = dim
	return nil
}

func (s *fakeStore) CollectionDim(ctx context.Context, name string) (int, error) {
	dim, ok := s.collections[name]
	if !ok {
		return 0, vectorstore.ErrCollectionNotFound
	}
	return dim, nil
}

func (s *fakeStore) Upsert(ctx context.Context, name string, points []vectorstore.Point) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts[name] = append(s.upserts[name], points...)
	return nil
}

func (s *fakeStore) Search(ctx context.Context, name string, vector []float32, filter map[string]string, limit int) ([]vectorstore.Hit, error) {
	return nil, nil
}

func (s *fakeStore) DeletePoints(ctx context.Context, name string, ids []string) error {
	return nil
}

func (s *fakeStore) Close() error { return nil }

func testChunks(n int) []chunk.Chunk {
	chunks := make([]chunk.Chunk, n)
	for i := range chunks {
		chunks[i] = chunk.Chunk{
			ID:         fmt.Sprintf("chunk-%d", i),
			ProjectID:  "proj_a",
			DocumentID: "doc-1",
			Content:    fmt.Sprintf("chunk content number %d", i),
		}
	}
	return chunks
}

func TestCollectionName(t *testing.T) {
	tests := []struct {
		name    string
		project string
		model   string
		want    string
	}{
		{name: "clean inputs", project: "proj_a", model: "minilm", want: "proj_a__minilm"},
		{name: "uppercase lowered", project: "ProjA", model: "MiniLM", want: "proja__minilm"},
		{name: "specials hex escaped", project: "proj-a", model: "text.v2", want: "proj2da__text2ev2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := index.CollectionName(tt.project, tt.model)
			assert.Equal(t, tt.want, got)
			require.NoError(t, vectorstore.ValidateCollectionName(got))
		})
	}
}

func TestCollectionNameDistinctInputsStayDistinct(t *testing.T) {
	a := index.CollectionName("proj-a", "m")
	b := index.CollectionName("proj_a", "m")
	assert.NotEqual(t, a, b)
}

func TestCollectionNameLongInputsHash(t *testing.T) {
	long := index.CollectionName("a-very-long-project-identifier-padding-padding", "an-equally-long-model-identifier")
	require.NoError(t, vectorstore.ValidateCollectionName(long))
	assert.LessOrEqual(t, len(long), 64)

	// Deterministic.
	assert.Equal(t, long, index.CollectionName("a-very-long-project-identifier-padding-padding", "an-equally-long-model-identifier"))
}

func TestIndexChunksProvisionsCollection(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{dim: 8}
	ix, err := index.NewIndexer(store, index.Config{}, nil)
	require.NoError(t, err)

	result, err := ix.IndexChunks(context.Background(), "proj_a", embedder, testChunks(3))
	require.NoError(t, err)

	assert.Equal(t, "proj_a__minilm", result.Collection)
	require.Len(t, result.PointIDs, 3)

	// Collection provisioned from the first vector's dimensionality.
	assert.Equal(t, 8, store.collections["proj_a__minilm"])

	points := store.upserts["proj_a__minilm"]
	require.Len(t, points, 3)
	assert.Equal(t, "chunk-0", points[0].Payload[vectorstore.PayloadChunkID])
	assert.Equal(t, "doc-1", points[0].Payload[vectorstore.PayloadDocumentID])
	assert.Equal(t, "proj_a", points[0].Payload[vectorstore.PayloadProjectID])
	assert.Equal(t, "chunk content number 0", points[0].Payload[vectorstore.PayloadContent])
}

func TestIndexChunksFreshPointIDs(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{dim: 4}
	ix, err := index.NewIndexer(store, index.Config{}, nil)
	require.NoError(t, err)

	first, err := ix.IndexChunks(context.Background(), "proj_a", embedder, testChunks(2))
	require.NoError(t, err)
	second, err := ix.IndexChunks(context.Background(), "proj_a", embedder, testChunks(2))
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, id := range append(first.PointIDs, second.PointIDs...) {
		assert.False(t, seen[id], "point id %s reused", id)
		seen[id] = true
	}
	// Re-indexing appends rather than overwriting.
	assert.Len(t, store.upserts["proj_a__minilm"], 4)
}

func TestIndexChunksAllOrNothingOnEmbedFailure(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{
		dim:    4,
		failOn: map[string]error{"chunk content number 1": errors.New("provider down")},
	}
	ix, err := index.NewIndexer(store, index.Config{}, nil)
	require.NoError(t, err)

	_, err = ix.IndexChunks(context.Background(), "proj_a", embedder, testChunks(3))
	require.ErrorIs(t, err, index.ErrEmbeddingFailed)

	// Nothing written, no collection provisioned.
	assert.Empty(t, store.upserts)
	assert.Empty(t, store.collections)
}

func TestIndexChunksDimensionMismatch(t *testing.T) {
	store := newFakeStore()
	store.collections["proj_a__minilm"] = 16

	ix, err := index.NewIndexer(store, index.Config{}, nil)
	require.NoError(t, err)

	_, err = ix.IndexChunks(context.Background(), "proj_a", &fakeEmbedder{dim: 8}, testChunks(2))
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	assert.Empty(t, store.upserts)
}

func TestIndexChunksMixedDimsRejected(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{
		dim:   8,
		dimOn: map[string]int{"chunk content number 2": 4},
	}
	ix, err := index.NewIndexer(store, index.Config{}, nil)
	require.NoError(t, err)

	_, err = ix.IndexChunks(context.Background(), "proj_a", embedder, testChunks(3))
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	assert.Empty(t, store.upserts)
}

func TestIndexChunksEmpty(t *testing.T) {
	ix, err := index.NewIndexer(newFakeStore(), index.Config{}, nil)
	require.NoError(t, err)

	_, err = ix.IndexChunks(context.Background(), "proj_a", &fakeEmbedder{dim: 4}, nil)
	require.ErrorIs(t, err, index.ErrNoChunks)
}

func TestIndexChunksCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix, err := index.NewIndexer(newFakeStore(), index.Config{}, nil)
	require.NoError(t, err)

	_, err = ix.IndexChunks(ctx, "proj_a", &fakeEmbedder{dim: 4}, testChunks(2))
	require.ErrorIs(t, err, context.Canceled)
}

func TestIndexChunksCollectionFollowsEmbedderModel(t *testing.T) {
	store := newFakeStore()
	ix, err := index.NewIndexer(store, index.Config{}, nil)
	require.NoError(t, err)

	embedder := &fakeEmbedder{model: "embed-b", dim: 4}
	result, err := ix.IndexChunks(context.Background(), "proj_a", embedder, testChunks(2))
	require.NoError(t, err)

	// The collection is derived from the embedder that produced the
	// vectors, so one model's vectors cannot land in another's
	// collection.
	assert.Equal(t, "proj_a__embed2db", result.Collection)
	assert.Len(t, store.upserts["proj_a__embed2db"], 2)
	assert.Len(t, embedder.embedded, 2)
}
