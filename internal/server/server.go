// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/veldtlabs/veldt/internal/chunk"
	"github.com/veldtlabs/veldt/internal/graph"
	"github.com/veldtlabs/veldt/internal/index"
	"github.com/veldtlabs/veldt/internal/labeling"
	"github.com/veldtlabs/veldt/internal/llm"
	"github.com/veldtlabs/veldt/internal/logging"
	"github.com/veldtlabs/veldt/internal/retrieval"
	"github.com/veldtlabs/veldt/internal/store"
	"github.com/veldtlabs/veldt/internal/vectorstore"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Deps are the collaborators the server exposes.
type Deps struct {
	Splitter  chunk.Splitter
	Store     store.Store
	Pipeline  *labeling.Pipeline
	Indexer   *index.Indexer
	Engine    *retrieval.Engine
	Graph     *graph.Builder
	Models    ModelResolver
	Embedders EmbedderResolver
	Embedding string // default embedding model config id
}

// ModelResolver resolves a model config id to its configuration.
type ModelResolver interface {
	Resolve(id string) (llm.ModelConfig, bool)
	DefaultCompletion() (llm.ModelConfig, bool)
}

// EmbedderResolver produces the embedder bound to a model config id.
// Index and query handlers resolve through it per request, so vectors
// always come from the model whose collection they land in.
type EmbedderResolver interface {
	For(modelID string) (index.Embedder, bool)
}

// Server is the veldtd HTTP server.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config Config
}

// NewServer creates the server and registers routes.
func NewServer(deps Deps, cfg Config, logger *logging.Logger) (*Server, error) {
	if deps.Store == nil || deps.Pipeline == nil || deps.Indexer == nil || deps.Engine == nil || deps.Graph == nil {
		return nil, errors.New("all engine collaborators are required")
	}
	if deps.Splitter == nil {
		deps.Splitter = chunk.NewParagraphSplitter()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var httpErr *echo.HTTPError
				if errors.As(err, &httpErr) {
					status = httpErr.Code
				}
			}
			requestsTotal.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).Inc()

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger.Named("server"),
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/documents", s.handleIngestDocument)
	v1.POST("/label", s.handleLabel)
	v1.POST("/index", s.handleIndex)
	v1.POST("/query", s.handleQuery)
	v1.GET("/graph", s.handleGraph)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// IngestDocumentRequest is the body for POST /api/v1/documents.
type IngestDocumentRequest struct {
	ProjectID  string `json:"projectId"`
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
}

// IngestDocumentResponse lists the chunk ids created for a document.
type IngestDocumentResponse struct {
	ChunkIDs []string `json:"chunkIds"`
}

func (s *Server) handleIngestDocument(c echo.Context) error {
	var req IngestDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ProjectID == "" || req.DocumentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "projectId and documentId are required")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	spans := s.deps.Splitter.Split(req.ProjectID, req.DocumentID, req.Content)
	chunks := make([]chunk.Chunk, len(spans))
	ids := make([]string, len(spans))
	for i, span := range spans {
		chunks[i] = chunk.Chunk{
			ID:         span.ChunkID,
			ProjectID:  span.ProjectID,
			DocumentID: span.DocumentID,
			Content:    span.Content,
		}
		ids[i] = span.ChunkID
	}

	if err := s.deps.Store.CreateChunks(c.Request().Context(), chunks); err != nil {
		s.logger.Error("creating chunks failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "persisting chunks failed")
	}
	return c.JSON(http.StatusCreated, IngestDocumentResponse{ChunkIDs: ids})
}

// LabelRequest is the body for POST /api/v1/label.
type LabelRequest struct {
	ProjectID    string `json:"projectId"`
	DocumentID   string `json:"documentId"`
	ModelID      string `json:"modelId"`
	Mode         string `json:"mode"`
	GlobalPrompt string `json:"globalPrompt"`
	DomainPrompt string `json:"domainPrompt"`
}

// LabelOutcome is the per-chunk result in a LabelResponse.
type LabelOutcome struct {
	ChunkID       string   `json:"chunkId"`
	Summary       string   `json:"summary,omitempty"`
	Domain        string   `json:"domain,omitempty"`
	SubDomain     string   `json:"subDomain,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	EntityCount   int      `json:"entityCount"`
	RelationCount int      `json:"relationCount"`
	Error         string   `json:"error,omitempty"`
}

// LabelResponse is the body for POST /api/v1/label responses.
type LabelResponse struct {
	Outcomes []LabelOutcome `json:"outcomes"`
	Failed   int            `json:"failed"`
}

func (s *Server) handleLabel(c echo.Context) error {
	var req LabelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "projectId is required")
	}

	mode := labeling.ModeStrict
	switch req.Mode {
	case "", string(labeling.ModeStrict):
	case string(labeling.ModeBestEffort):
		mode = labeling.ModeBestEffort
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
	}

	modelCfg, err := s.resolveCompletionModel(req.ModelID)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	scoped, err := s.deps.Store.ListChunks(ctx, req.ProjectID, req.DocumentID)
	if err != nil {
		s.logger.Error("listing chunks failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing chunks failed")
	}
	if len(scoped) == 0 {
		return c.JSON(http.StatusOK, LabelResponse{Outcomes: []LabelOutcome{}})
	}

	chunks := make([]chunk.Chunk, len(scoped))
	for i, sc := range scoped {
		chunks[i] = sc.Chunk
	}

	outcomes := s.deps.Pipeline.Label(ctx, chunks, modelCfg, labeling.Prompts{
		Global: req.GlobalPrompt,
		Domain: req.DomainPrompt,
	})

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			chunksLabeled.WithLabelValues("failed").Inc()
			if mode == labeling.ModeBestEffort {
				s.logger.Warn("chunk labeling failed",
					zap.String("chunk_id", o.ChunkID),
					zap.Error(o.Err),
				)
			}
		} else {
			chunksLabeled.WithLabelValues("labeled").Inc()
		}
	}

	// The mode is a reporting contract. Strict returns every outcome and
	// flags partial failure with 207; best effort logs failures and hands
	// the caller only the chunks that labeled cleanly.
	status := http.StatusOK
	if mode == labeling.ModeBestEffort {
		outcomes = labeling.Successes(outcomes)
	} else if failed > 0 {
		status = http.StatusMultiStatus
	}

	resp := LabelResponse{Outcomes: make([]LabelOutcome, len(outcomes))}
	for i, o := range outcomes {
		lo := LabelOutcome{
			ChunkID:       o.ChunkID,
			EntityCount:   o.EntityCount,
			RelationCount: o.RelationCount,
		}
		if o.Err != nil {
			lo.Error = o.Err.Error()
		} else {
			lo.Summary = o.Metadata.Summary
			lo.Domain = o.Metadata.Domain
			lo.SubDomain = o.Metadata.SubDomain
			lo.Tags = o.Metadata.Tags
		}
		resp.Outcomes[i] = lo
	}
	if mode == labeling.ModeStrict {
		resp.Failed = failed
	}
	return c.JSON(status, resp)
}

// IndexRequest is the body for POST /api/v1/index.
type IndexRequest struct {
	ProjectID  string `json:"projectId"`
	DocumentID string `json:"documentId"`
	ModelID    string `json:"modelId"`
}

// IndexResponse is the body for POST /api/v1/index responses.
type IndexResponse struct {
	Collection string `json:"collection"`
	Indexed    int    `json:"indexed"`
}

func (s *Server) handleIndex(c echo.Context) error {
	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "projectId is required")
	}

	embedder, err := s.resolveEmbedder(req.ModelID)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	scoped, err := s.deps.Store.ListChunks(ctx, req.ProjectID, req.DocumentID)
	if err != nil {
		s.logger.Error("listing chunks failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing chunks failed")
	}

	chunks := make([]chunk.Chunk, len(scoped))
	for i, sc := range scoped {
		chunks[i] = sc.Chunk
	}

	result, err := s.deps.Indexer.IndexChunks(ctx, req.ProjectID, embedder, chunks)
	switch {
	case err == nil:
	case errors.Is(err, index.ErrNoChunks):
		return echo.NewHTTPError(http.StatusBadRequest, "no chunks in scope")
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, index.ErrEmbeddingFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("indexing failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "indexing failed")
	}

	chunksIndexed.Add(float64(len(result.PointIDs)))
	return c.JSON(http.StatusOK, IndexResponse{
		Collection: result.Collection,
		Indexed:    len(result.PointIDs),
	})
}

// QueryRequest is the body for POST /api/v1/query.
type QueryRequest struct {
	ProjectID  string `json:"projectId"`
	ModelID    string `json:"modelId"`
	Query      string `json:"query"`
	TopK       int    `json:"topK"`
	WithRerank bool   `json:"withRerank"`
	RerankTopK int    `json:"rerankTopK"`
}

// QueryResponse is the body for POST /api/v1/query responses.
type QueryResponse struct {
	Hits []retrieval.Hit `json:"hits"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "projectId is required")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	embedder, err := s.resolveEmbedder(req.ModelID)
	if err != nil {
		return err
	}

	start := time.Now()
	hits, err := s.deps.Engine.Query(c.Request().Context(), req.ProjectID, embedder, req.Query, retrieval.Options{
		TopK:       req.TopK,
		WithRerank: req.WithRerank,
		RerankTopK: req.RerankTopK,
	})
	queryDuration.WithLabelValues(strconv.FormatBool(req.WithRerank)).Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}
	if hits == nil {
		hits = []retrieval.Hit{}
	}
	return c.JSON(http.StatusOK, QueryResponse{Hits: hits})
}

// GraphResponse is the body for GET /api/v1/graph responses.
type GraphResponse struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

func (s *Server) handleGraph(c echo.Context) error {
	projectID := c.QueryParam("projectId")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "projectId is required")
	}
	documentID := c.QueryParam("documentId")

	nodes, edges, err := s.deps.Graph.DeriveChunkGraph(c.Request().Context(), projectID, documentID)
	if err != nil {
		s.logger.Error("graph derivation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "graph derivation failed")
	}
	if nodes == nil {
		nodes = []graph.Node{}
	}
	if edges == nil {
		edges = []graph.Edge{}
	}
	return c.JSON(http.StatusOK, GraphResponse{Nodes: nodes, Edges: edges})
}

func (s *Server) resolveEmbedder(id string) (index.Embedder, error) {
	if s.deps.Embedders == nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "no embedding models configured")
	}
	if id == "" {
		id = s.deps.Embedding
	}
	if id == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "modelId is required, no default embedding model configured")
	}
	embedder, ok := s.deps.Embedders.For(id)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown embedding model %q", id))
	}
	return embedder, nil
}

func (s *Server) resolveCompletionModel(id string) (llm.ModelConfig, error) {
	if s.deps.Models == nil {
		return llm.ModelConfig{}, echo.NewHTTPError(http.StatusInternalServerError, "no models configured")
	}
	if id == "" {
		cfg, ok := s.deps.Models.DefaultCompletion()
		if !ok {
			return llm.ModelConfig{}, echo.NewHTTPError(http.StatusBadRequest, "modelId is required, no default completion model configured")
		}
		return cfg, nil
	}
	cfg, ok := s.deps.Models.Resolve(id)
	if !ok {
		return llm.ModelConfig{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown model %q", id))
	}
	return cfg, nil
}

// Echo exposes the underlying router, mainly for tests and extra
// routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start begins serving. Blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
