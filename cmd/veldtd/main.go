// Veldtd is the knowledge extraction and retrieval daemon.
//
// It ingests documents as chunks, labels them through an LLM gateway,
// maintains a co-occurrence chunk graph, indexes embeddings into a
// vector store, and answers retrieval queries over HTTP.
//
// Usage:
//
//	# Start with defaults (chromem vector store under ./data)
//	veldtd
//
//	# Load a config file and override via environment
//	VELDT_SERVER_PORT=9090 veldtd -config /etc/veldt/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/veldtlabs/veldt/internal/config"
	"github.com/veldtlabs/veldt/internal/graph"
	"github.com/veldtlabs/veldt/internal/index"
	"github.com/veldtlabs/veldt/internal/labeling"
	"github.com/veldtlabs/veldt/internal/llm"
	"github.com/veldtlabs/veldt/internal/logging"
	"github.com/veldtlabs/veldt/internal/reranker"
	"github.com/veldtlabs/veldt/internal/retrieval"
	"github.com/veldtlabs/veldt/internal/server"
	"github.com/veldtlabs/veldt/internal/store"
	"github.com/veldtlabs/veldt/internal/telemetry"
	"github.com/veldtlabs/veldt/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  veldtd            Start the veldtd daemon\n")
			fmt.Fprintf(os.Stderr, "  veldtd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("veldtd by Veldt Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Initialization order: configuration, logger, telemetry, relational
// store, vector store, gateway and pipeline, indexer, retrieval engine,
// HTTP server. Everything downstream of the config takes the logger.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting veldtd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("vector_provider", cfg.VectorStore.Provider))

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()
	if degraded, reason := tel.Degraded(); degraded {
		logger.Warn("telemetry degraded", zap.String("reason", reason))
	}

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	srv, err := server.NewServer(server.Deps{
		Store:     deps.store,
		Pipeline:  deps.pipeline,
		Indexer:   deps.indexer,
		Engine:    deps.engine,
		Graph:     deps.graph,
		Models:    modelCatalog{models: cfg.Models},
		Embedders: deps.embedders,
		Embedding: cfg.Models.DefaultEmbedding,
	}, server.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// dependencies holds the wired engine components.
type dependencies struct {
	store       *store.SQLiteStore
	vectorStore vectorstore.Store
	graph       *graph.Builder
	pipeline    *labeling.Pipeline
	indexer     *index.Indexer
	engine      *retrieval.Engine
	embedders   embedderCatalog
	logger      *logging.Logger
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.vectorStore != nil {
		if err := d.vectorStore.Close(); err != nil {
			d.logger.Warn("closing vector store failed", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("closing store failed", zap.Error(err))
		}
	}
}

// initDependencies wires the relational store, vector store, LLM
// gateway, labeling pipeline, indexer, and retrieval engine.
func initDependencies(cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	st, err := store.NewSQLiteStore(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening relational store: %w", err)
	}
	logger.Info("relational store ready", zap.String("path", st.Path()))

	vs, err := newVectorStore(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	gateway := llm.NewGatewayContext(logger)
	builder := graph.NewBuilder(st, logger)

	pipeline, err := labeling.NewPipeline(gateway, st, builder, cfg.Labeling, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating labeling pipeline: %w", err)
	}

	embedders := embedderCatalog{gateway: gateway, models: cfg.Models}
	if err := validateDefaultEmbedding(cfg); err != nil {
		st.Close()
		return nil, err
	}

	indexer, err := index.NewIndexer(vs, cfg.Index, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating indexer: %w", err)
	}

	rr, err := newReranker(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	engine, err := retrieval.NewEngine(vs, rr, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating retrieval engine: %w", err)
	}

	return &dependencies{
		store:       st,
		vectorStore: vs,
		graph:       builder,
		pipeline:    pipeline,
		indexer:     indexer,
		engine:      engine,
		embedders:   embedders,
		logger:      logger,
	}, nil
}

func newVectorStore(cfg *config.Config, logger *logging.Logger) (vectorstore.Store, error) {
	switch cfg.VectorStore.Provider {
	case config.VectorProviderQdrant:
		vs, err := vectorstore.NewQdrantStore(cfg.VectorStore.Qdrant)
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		logger.Info("vector store ready",
			zap.String("provider", "qdrant"),
			zap.String("host", cfg.VectorStore.Qdrant.Host))
		return vs, nil
	case config.VectorProviderChromem:
		vs, err := vectorstore.NewChromemStore(cfg.VectorStore.Chromem, logger)
		if err != nil {
			return nil, fmt.Errorf("opening chromem store: %w", err)
		}
		logger.Info("vector store ready",
			zap.String("provider", "chromem"),
			zap.String("path", cfg.VectorStore.Chromem.Path))
		return vs, nil
	default:
		return nil, fmt.Errorf("unknown vector store provider %q", cfg.VectorStore.Provider)
	}
}

// validateDefaultEmbedding fails startup when no usable default
// embedding model is configured. Indexing and retrieval cannot
// function without one.
func validateDefaultEmbedding(cfg *config.Config) error {
	if cfg.Models.DefaultEmbedding == "" {
		return errors.New("models.default_embedding is required")
	}
	if _, ok := cfg.Models.ByID(cfg.Models.DefaultEmbedding); !ok {
		return fmt.Errorf("default embedding model %q not defined", cfg.Models.DefaultEmbedding)
	}
	return nil
}

func newReranker(cfg *config.Config) (reranker.Reranker, error) {
	switch cfg.Reranker.Provider {
	case config.RerankProviderCrossEncoder:
		return reranker.NewCrossEncoderReranker(cfg.Reranker.CrossEncoder)
	case config.RerankProviderTermOverlap:
		return reranker.NewTermOverlapReranker(), nil
	default:
		return nil, fmt.Errorf("unknown reranker provider %q", cfg.Reranker.Provider)
	}
}

// embedderCatalog resolves embedders per request from the models
// section. Each embedder is bound to its own model config, so the
// collection a request names always receives vectors from that model.
// The gateway caches provider clients, so construction here is cheap.
type embedderCatalog struct {
	gateway llm.Gateway
	models  config.ModelsConfig
}

func (c embedderCatalog) For(modelID string) (index.Embedder, bool) {
	modelCfg, ok := c.models.ByID(modelID)
	if !ok {
		return nil, false
	}
	return llm.NewEmbedder(c.gateway, modelCfg), true
}

// modelCatalog adapts the models section to the server's resolver.
type modelCatalog struct {
	models config.ModelsConfig
}

func (c modelCatalog) Resolve(id string) (llm.ModelConfig, bool) {
	return c.models.ByID(id)
}

func (c modelCatalog) DefaultCompletion() (llm.ModelConfig, bool) {
	if c.models.DefaultCompletion == "" {
		return llm.ModelConfig{}, false
	}
	return c.models.ByID(c.models.DefaultCompletion)
}
