package vectorstore_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/veldt/internal/vectorstore"
)

// unitVector builds a normalized test vector whose direction is
// controlled by seed, so closeness between seeds is predictable.
func unitVector(dim int, seed int) []float32 {
	v := make([]float32, dim)
	var sumSq float32
	for i := range v {
		v[i] = float32((seed+i)%7 + 1)
		sumSq += v[i] * v[i]
	}
	norm := sqrt32(sumSq)
	for i := range v {
		v[i] /= norm
	}
	return v
}

func sqrt32(x float32) float32 {
	z := x / 2
	for i := 0; i < 12; i++ {
		z = (z + x/z) / 2
	}
	return z
}

func newTestStore(t *testing.T) *vectorstore.ChromemStore {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	return store
}

func TestChromemCreateCollection(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateCollection(ctx, "proj_a", 4, vectorstore.DistanceCosine))

	exists, err := store.CollectionExists(ctx, "proj_a")
	require.NoError(t, err)
	assert.True(t, exists)

	dim, err := store.CollectionDim(ctx, "proj_a")
	require.NoError(t, err)
	assert.Equal(t, 4, dim)

	// Creating an existing collection with the same dim succeeds.
	require.NoError(t, store.CreateCollection(ctx, "proj_a", 4, vectorstore.DistanceCosine))

	// A conflicting dim is rejected.
	err = store.CreateCollection(ctx, "proj_a", 8, vectorstore.DistanceCosine)
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestChromemRejectsNonCosine(t *testing.T) {
	store := newTestStore(t)
	err := store.CreateCollection(context.Background(), "proj_a", 4, vectorstore.DistanceEuclid)
	require.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}

func TestChromemCollectionNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	exists, err := store.CollectionExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.CollectionDim(ctx, "missing")
	require.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)

	err = store.Upsert(ctx, "missing", []vectorstore.Point{{ID: "p1", Vector: unitVector(4, 1)}})
	require.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)

	_, err = store.Search(ctx, "missing", unitVector(4, 1), nil, 5)
	require.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestChromemUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateCollection(ctx, "proj_a", 8, vectorstore.DistanceCosine))

	points := make([]vectorstore.Point, 3)
	for i := range points {
		points[i] = vectorstore.Point{
			ID:     fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i),
			Vector: unitVector(8, i*3),
			Payload: map[string]string{
				vectorstore.PayloadChunkID:    fmt.Sprintf("chunk-%d", i),
				vectorstore.PayloadProjectID:  "proj_a",
				vectorstore.PayloadDocumentID: "doc-1",
				vectorstore.PayloadContent:    fmt.Sprintf("content %d", i),
			},
		}
	}
	require.NoError(t, store.Upsert(ctx, "proj_a", points))

	hits, err := store.Search(ctx, "proj_a", unitVector(8, 0), nil, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	// Exact match ranks first.
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", hits[0].ID)
	assert.Equal(t, "chunk-0", hits[0].Payload[vectorstore.PayloadChunkID])
	assert.Equal(t, "content 0", hits[0].Payload[vectorstore.PayloadContent])
	assert.InDelta(t, 1.0, hits[0].Score, 0.001)

	// Scores are descending.
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i].Score, hits[i-1].Score)
	}
}

func TestChromemSearchLimitClamped(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateCollection(ctx, "proj_a", 4, vectorstore.DistanceCosine))

	require.NoError(t, store.Upsert(ctx, "proj_a", []vectorstore.Point{
		{ID: "00000000-0000-0000-0000-000000000001", Vector: unitVector(4, 1), Payload: map[string]string{vectorstore.PayloadContent: "only"}},
	}))

	hits, err := store.Search(ctx, "proj_a", unitVector(4, 1), nil, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestChromemSearchEmptyCollection(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateCollection(ctx, "proj_a", 4, vectorstore.DistanceCosine))

	hits, err := store.Search(ctx, "proj_a", unitVector(4, 1), nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemSearchWithFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateCollection(ctx, "shared", 4, vectorstore.DistanceCosine))

	require.NoError(t, store.Upsert(ctx, "shared", []vectorstore.Point{
		{ID: "00000000-0000-0000-0000-000000000001", Vector: unitVector(4, 1), Payload: map[string]string{vectorstore.PayloadProjectID: "proj_a", vectorstore.PayloadContent: "a"}},
		{ID: "00000000-0000-0000-0000-000000000002", Vector: unitVector(4, 2), Payload: map[string]string{vectorstore.PayloadProjectID: "proj_b", vectorstore.PayloadContent: "b"}},
	}))

	hits, err := store.Search(ctx, "shared", unitVector(4, 1),
		map[string]string{vectorstore.PayloadProjectID: "proj_b"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "proj_b", hits[0].Payload[vectorstore.PayloadProjectID])
}

func TestChromemUpsertEmptyPoints(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateCollection(ctx, "proj_a", 4, vectorstore.DistanceCosine))

	err := store.Upsert(ctx, "proj_a", nil)
	require.ErrorIs(t, err, vectorstore.ErrEmptyPoints)
}

func TestChromemDeletePoints(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateCollection(ctx, "proj_a", 4, vectorstore.DistanceCosine))

	require.NoError(t, store.Upsert(ctx, "proj_a", []vectorstore.Point{
		{ID: "00000000-0000-0000-0000-000000000001", Vector: unitVector(4, 1), Payload: map[string]string{vectorstore.PayloadContent: "a"}},
		{ID: "00000000-0000-0000-0000-000000000002", Vector: unitVector(4, 2), Payload: map[string]string{vectorstore.PayloadContent: "b"}},
	}))

	require.NoError(t, store.DeletePoints(ctx, "proj_a", []string{"00000000-0000-0000-0000-000000000001"}))

	hits, err := store.Search(ctx, "proj_a", unitVector(4, 1), nil, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "00000000-0000-0000-0000-000000000002", hits[0].ID)

	// Deleting nothing is a no-op.
	require.NoError(t, store.DeletePoints(ctx, "proj_a", nil))
}

func TestChromemPersistentDims(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection(ctx, "proj_a", 16, vectorstore.DistanceCosine))
	require.NoError(t, store.Close())

	reopened, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)

	dim, err := reopened.CollectionDim(ctx, "proj_a")
	require.NoError(t, err)
	assert.Equal(t, 16, dim)
}

func TestValidateCollectionName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid simple", input: "proj_a"},
		{name: "valid with digits", input: "proj_1_model_2"},
		{name: "empty", input: "", wantErr: true},
		{name: "uppercase", input: "ProjA", wantErr: true},
		{name: "hyphen", input: "proj-a", wantErr: true},
		{name: "space", input: "proj a", wantErr: true},
		{name: "too long", input: strings.Repeat("a", 65), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := vectorstore.ValidateCollectionName(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
