// Package vectorstore defines the interface for vector storage operations.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a vector's dimensionality does
	// not match the collection it targets.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrStoreUnavailable indicates the vector store cannot be reached.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrEmptyPoints indicates an empty or nil point batch.
	ErrEmptyPoints = errors.New("empty or nil points")
)

// Distance is the similarity metric for a collection.
type Distance string

const (
	DistanceCosine Distance = "cosine"
	DistanceEuclid Distance = "euclid"
	DistanceDot    Distance = "dot"
)

// Payload keys every indexed point carries.
const (
	PayloadChunkID    = "chunkId"
	PayloadDocumentID = "documentId"
	PayloadProjectID  = "projectId"
	PayloadContent    = "content"
)

// Point is one stored vector with its payload.
type Point struct {
	// ID is an opaque unique identifier.
	ID string

	// Vector is the embedding. All points in a collection share one
	// dimensionality.
	Vector []float32

	// Payload carries chunkId, documentId, projectId and content.
	Payload map[string]string
}

// Hit is one similarity search result, highest score first.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Store is the vector store collaborator interface.
//
// Implementations map their native "not found" signal (e.g. gRPC NotFound)
// onto ErrCollectionNotFound, and treat creating an existing collection as
// success so that concurrent check-then-create callers do not need a lock.
type Store interface {
	// CollectionExists checks if a collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// CreateCollection creates a collection with the given dimensionality
	// and distance metric. Creating an existing collection is not an error.
	CreateCollection(ctx context.Context, name string, dim int, distance Distance) error

	// CollectionDim returns the vector dimensionality of a collection,
	// or ErrCollectionNotFound.
	CollectionDim(ctx context.Context, name string) (int, error)

	// Upsert writes points into a collection. Re-upserting an id overwrites.
	Upsert(ctx context.Context, name string, points []Point) error

	// Search returns up to limit hits ordered by similarity score,
	// restricted to points whose payload matches every filter entry.
	// A missing collection is ErrCollectionNotFound.
	Search(ctx context.Context, name string, vector []float32, filter map[string]string, limit int) ([]Hit, error)

	// DeletePoints deletes points by id.
	DeletePoints(ctx context.Context, name string, ids []string) error

	// Close releases the store's resources.
	Close() error
}

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name.
// Rejects uppercase, special characters, path traversal and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}
