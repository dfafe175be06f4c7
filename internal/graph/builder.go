// Package graph builds the chunk co-occurrence knowledge graph.
//
// Entity rows are ingested per chunk as labeling completes. The graph
// itself is derived on demand: two chunks are connected when their
// normalized-entity-id sets share at least two elements. Derivation is
// deterministic for fixed input data regardless of map iteration order.
package graph

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/veldtlabs/veldt/internal/logging"
	"github.com/veldtlabs/veldt/internal/store"
)

var tracer = otel.Tracer("veldt.graph")

// CoOccurrenceThreshold is the minimum shared normalized entity ids for an
// edge between two chunks.
const CoOccurrenceThreshold = 2

// Node is one graph node, emitted 1:1 with chunks in scope.
type Node struct {
	ChunkID string `json:"chunkId"`
	Label   string `json:"label"`
}

// Edge is a derived co-occurrence edge between two chunks.
// ChunkA < ChunkB lexicographically.
type Edge struct {
	ChunkA            string `json:"chunkA"`
	ChunkB            string `json:"chunkB"`
	SharedEntityCount int    `json:"sharedEntityCount"`
	Label             string `json:"label"`
}

// Storage is the subset of the relational store the builder needs.
type Storage interface {
	DeleteChunkAnnotations(ctx context.Context, chunkID string) error
	InsertEntities(ctx context.Context, entities []store.ExtractedEntity) error
	InsertRelations(ctx context.Context, relations []store.ExtractedRelation) error
	ListChunks(ctx context.Context, projectID, documentID string) ([]store.ChunkWithEntities, error)
}

// Builder ingests extracted annotations and derives the chunk graph.
type Builder struct {
	storage Storage
	logger  *logging.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(storage Storage, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{storage: storage, logger: logger.Named("graph")}
}

// Ingest replaces the entity and relation rows for one chunk.
//
// Prior rows for the chunk are cleared first so that re-labeling does not
// accumulate duplicates. NormalizedID collisions across chunks are left
// as-is; derivation treats equal ids as the same logical entity.
func (b *Builder) Ingest(ctx context.Context, chunkID string, entities []store.ExtractedEntity, relations []store.ExtractedRelation) error {
	if err := b.storage.DeleteChunkAnnotations(ctx, chunkID); err != nil {
		return fmt.Errorf("clearing annotations for %s: %w", chunkID, err)
	}

	for i := range entities {
		entities[i].ChunkID = chunkID
	}
	for i := range relations {
		relations[i].ChunkID = chunkID
	}

	if err := b.storage.InsertEntities(ctx, entities); err != nil {
		return fmt.Errorf("inserting entities for %s: %w", chunkID, err)
	}
	if err := b.storage.InsertRelations(ctx, relations); err != nil {
		return fmt.Errorf("inserting relations for %s: %w", chunkID, err)
	}

	b.logger.Debug("annotations ingested",
		zap.String("chunk_id", chunkID),
		zap.Int("entities", len(entities)),
		zap.Int("relations", len(relations)),
	)
	return nil
}

// DeriveChunkGraph computes nodes and co-occurrence edges for the chunks in
// scope. documentID may be empty to cover the whole project.
//
// Pairwise comparison is O(n^2) over the scoped chunk set; derivation is
// always scoped to a project or document, never the whole corpus.
func (b *Builder) DeriveChunkGraph(ctx context.Context, projectID, documentID string) ([]Node, []Edge, error) {
	ctx, span := tracer.Start(ctx, "Builder.DeriveChunkGraph")
	defer span.End()

	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("document_id", documentID),
	)

	chunks, err := b.storage.ListChunks(ctx, projectID, documentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, fmt.Errorf("listing chunks: %w", err)
	}

	// Fixed ordering keeps the emitted node and edge sets deterministic.
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Chunk.ID < chunks[j].Chunk.ID
	})

	nodes := make([]Node, len(chunks))
	entitySets := make([]map[string]struct{}, len(chunks))
	for i, c := range chunks {
		nodes[i] = Node{ChunkID: c.Chunk.ID, Label: c.Chunk.DisplayName()}
		set := make(map[string]struct{}, len(c.Entities))
		for _, e := range c.Entities {
			set[e.NormalizedID] = struct{}{}
		}
		entitySets[i] = set
	}

	var edges []Edge
	for i := 0; i < len(chunks); i++ {
		for j := i + 1; j < len(chunks); j++ {
			shared := intersectionSize(entitySets[i], entitySets[j])
			if shared < CoOccurrenceThreshold {
				continue
			}
			edges = append(edges, Edge{
				ChunkA:            chunks[i].Chunk.ID,
				ChunkB:            chunks[j].Chunk.ID,
				SharedEntityCount: shared,
				Label:             fmt.Sprintf("%d shared entities", shared),
			})
		}
	}

	span.SetAttributes(
		attribute.Int("node_count", len(nodes)),
		attribute.Int("edge_count", len(edges)),
	)
	span.SetStatus(codes.Ok, "success")
	return nodes, edges, nil
}

func intersectionSize(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for id := range a {
		if _, ok := b[id]; ok {
			n++
		}
	}
	return n
}
