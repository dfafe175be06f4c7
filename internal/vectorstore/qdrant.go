package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("veldt.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int `koanf:"port"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// MaxRetries is the maximum retry count for transient failures.
	// Default: 3
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff duration, doubled per retry.
	// Default: 1s
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int `koanf:"max_message_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// isTransientError reports whether a gRPC error should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

func isAlreadyExists(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.AlreadyExists
}

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// gRPC (port 6334) avoids the HTTP layer's payload limits on large
// document batches and gives binary protobuf encoding.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig

	// collections caches collection existence to avoid repeated checks.
	collections sync.Map

	// dims caches collection dimensionality.
	dims sync.Map
}

// NewQdrantStore creates a QdrantStore and health-checks the connection.
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	store := &QdrantStore{client: client, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check failed: %v", ErrStoreUnavailable, err)
	}

	return store, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC failures.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !isTransientError(err) {
			return err
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%w: %s failed after %d retries: %v", ErrStoreUnavailable, operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// CollectionExists checks if a collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.CollectionExists")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}
	if _, ok := s.collections.Load(name); ok {
		return true, nil
	}

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if isNotFound(err) {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("checking collection %s: %w", name, err)
	}

	if exists {
		s.collections.Store(name, true)
	}
	span.SetStatus(codes.Ok, "success")
	return exists, nil
}

// CreateCollection creates a collection. An AlreadyExists response from a
// concurrent creator is treated as success.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, dim int, distance Distance) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.CreateCollection")
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

	err := s.retryOperation(ctx, "create_collection", func() error {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrantDistance(distance),
			}),
		})
		if err != nil && isAlreadyExists(err) {
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.collections.Store(name, true)
	s.dims.Store(name, dim)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionDim returns the vector dimensionality of a collection.
func (s *QdrantStore) CollectionDim(ctx context.Context, name string) (int, error) {
	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}
	if dim, ok := s.dims.Load(name); ok {
		return dim.(int), nil
	}

	var dim int
	err := s.retryOperation(ctx, "collection_dim", func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if isNotFound(err) {
				return ErrCollectionNotFound
			}
			return err
		}
		params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
		if params == nil {
			return fmt.Errorf("collection %s has no vector params", name)
		}
		dim = int(params.GetSize())
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.dims.Store(name, dim)
	return dim, nil
}

// Upsert writes points into a collection in one call.
func (s *QdrantStore) Upsert(ctx context.Context, name string, points []Point) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
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

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = qdrant.NewValueString(v)
		}
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         qdrantPoints,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return fmt.Errorf("upserting to collection %s: %w", name, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search performs similarity search with optional payload filters.
func (s *QdrantStore) Search(ctx context.Context, name string, vector []float32, filter map[string]string, limit int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
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

	var qdrantFilter *qdrant.Filter
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for key, value := range filter {
			conditions = append(conditions, qdrant.NewMatch(key, value))
		}
		qdrantFilter = &qdrant.Filter{Must: conditions}
	}

	var results []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         qdrantFilter,
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, fmt.Errorf("searching collection %s: %w", name, err)
	}

	hits := make([]Hit, len(results))
	for i, point := range results {
		hit := Hit{Score: point.Score, Payload: make(map[string]string)}
		if id := point.GetId(); id != nil {
			hit.ID = id.GetUuid()
		}
		for k, v := range point.GetPayload() {
			if sv, ok := v.GetKind().(*qdrant.Value_StringValue); ok {
				hit.Payload[k] = sv.StringValue
			}
		}
		hits[i] = hit
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// DeletePoints deletes points by id.
func (s *QdrantStore) DeletePoints(ctx context.Context, name string, ids []string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeletePoints")
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

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	err := s.retryOperation(ctx, "delete_points", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Points:         qdrant.NewPointsSelector(pointIDs...),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points from %s: %w", name, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

func qdrantDistance(d Distance) qdrant.Distance {
	switch d {
	case DistanceEuclid:
		return qdrant.Distance_Euclid
	case DistanceDot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
