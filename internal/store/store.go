// Package store persists chunks and their extracted annotations.
//
// The engine treats the relational store as a collaborator with bulk
// upsert/query operations. No transaction spans a metadata update plus an
// entity insert; callers needing atomicity across both must provide it.
package store

import (
	"context"
	"errors"

	"github.com/veldtlabs/veldt/internal/chunk"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable indicates the backing database cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ChunkMetadata is the labeling result written onto a chunk.
type ChunkMetadata struct {
	Summary   string
	Domain    string
	SubDomain string
	Tags      []string
}

// ExtractedEntity is one entity row scoped to a chunk. NormalizedID is the
// model-proposed stable key; identity across chunks is string equality of
// NormalizedID, an accepted source of noise.
type ExtractedEntity struct {
	ChunkID      string
	Type         string
	SurfaceName  string
	NormalizedID string
}

// ExtractedRelation is one relation row scoped to the chunk that produced it.
type ExtractedRelation struct {
	ChunkID            string
	SourceNormalizedID string
	TargetNormalizedID string
	Label              string
}

// ChunkWithEntities pairs a chunk with its entity rows for graph derivation.
type ChunkWithEntities struct {
	Chunk    chunk.Chunk
	Entities []ExtractedEntity
}

// Store is the relational persistence collaborator.
type Store interface {
	// CreateChunks inserts chunks with empty metadata fields.
	CreateChunks(ctx context.Context, chunks []chunk.Chunk) error

	// GetChunk returns one chunk by id, or ErrNotFound.
	GetChunk(ctx context.Context, id string) (chunk.Chunk, error)

	// UpdateChunkMetadata overwrites the metadata fields of one chunk.
	UpdateChunkMetadata(ctx context.Context, id string, meta ChunkMetadata) error

	// InsertEntities bulk-inserts entity rows. Atomic: all or none.
	InsertEntities(ctx context.Context, entities []ExtractedEntity) error

	// InsertRelations bulk-inserts relation rows. Atomic: all or none.
	InsertRelations(ctx context.Context, relations []ExtractedRelation) error

	// DeleteChunkAnnotations removes all entity and relation rows for a
	// chunk. Used by re-labeling to avoid accumulating stale rows.
	DeleteChunkAnnotations(ctx context.Context, chunkID string) error

	// ListChunks returns chunks in scope with their entity rows.
	// documentID may be empty to select the whole project.
	ListChunks(ctx context.Context, projectID, documentID string) ([]ChunkWithEntities, error)
}
