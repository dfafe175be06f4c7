// Package config provides configuration loading for veldtd.
package config

import (
	"fmt"

	"github.com/veldtlabs/veldt/internal/index"
	"github.com/veldtlabs/veldt/internal/labeling"
	"github.com/veldtlabs/veldt/internal/llm"
	"github.com/veldtlabs/veldt/internal/logging"
	"github.com/veldtlabs/veldt/internal/reranker"
	"github.com/veldtlabs/veldt/internal/telemetry"
	"github.com/veldtlabs/veldt/internal/vectorstore"
)

// Vector store provider names.
const (
	VectorProviderChromem = "chromem"
	VectorProviderQdrant  = "qdrant"
)

// Reranker provider names.
const (
	RerankProviderTermOverlap  = "term_overlap"
	RerankProviderCrossEncoder = "cross_encoder"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host to bind. Default: "127.0.0.1"
	Host string `koanf:"host"`

	// Port to listen on. Default: 8420
	Port int `koanf:"port"`
}

func (c *ServerConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8420
	}
}

// Addr returns the host:port bind address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig holds relational store configuration.
type StoreConfig struct {
	// DataDir is the root directory for local state. The SQLite
	// database lives at veldt.db inside it.
	// Default: "./data"
	DataDir string `koanf:"data_dir"`
}

func (c *StoreConfig) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" or "qdrant". Default: "chromem"
	Provider string `koanf:"provider"`

	Chromem vectorstore.ChromemConfig `koanf:"chromem"`
	Qdrant  vectorstore.QdrantConfig  `koanf:"qdrant"`
}

// RerankerConfig selects and configures the reranker.
type RerankerConfig struct {
	// Provider is "term_overlap" or "cross_encoder".
	// Default: "term_overlap"
	Provider string `koanf:"provider"`

	CrossEncoder reranker.CrossEncoderConfig `koanf:"cross_encoder"`
}

// ModelsConfig lists model configurations and the defaults for each
// capability.
type ModelsConfig struct {
	// Configs are the known model configurations.
	Configs []llm.ModelConfig `koanf:"configs"`

	// DefaultCompletion is the config id used for labeling.
	DefaultCompletion string `koanf:"default_completion"`

	// DefaultEmbedding is the config id used for indexing and queries.
	DefaultEmbedding string `koanf:"default_embedding"`
}

// ByID returns the model config with the given id.
func (m ModelsConfig) ByID(id string) (llm.ModelConfig, bool) {
	for _, c := range m.Configs {
		if c.ID == id {
			return c, true
		}
	}
	return llm.ModelConfig{}, false
}

// Config is the root configuration for veldtd.
type Config struct {
	Logging     logging.Config    `koanf:"logging"`
	Telemetry   telemetry.Config  `koanf:"telemetry"`
	Server      ServerConfig      `koanf:"server"`
	Store       StoreConfig       `koanf:"store"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Models      ModelsConfig      `koanf:"models"`
	Labeling    labeling.Config   `koanf:"labeling"`
	Index       index.Config      `koanf:"index"`
	Reranker    RerankerConfig    `koanf:"reranker"`
}

// applyDefaults fills unset fields across all sections.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	cfg.Telemetry.ApplyDefaults()
	cfg.Server.applyDefaults()
	cfg.Store.applyDefaults()
	cfg.Labeling.ApplyDefaults()
	cfg.Index.ApplyDefaults()
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = VectorProviderChromem
	}
	if cfg.VectorStore.Provider == VectorProviderQdrant {
		cfg.VectorStore.Qdrant.ApplyDefaults()
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = cfg.Store.DataDir + "/vectors"
	}
	if cfg.Reranker.Provider == "" {
		cfg.Reranker.Provider = RerankProviderTermOverlap
	}
	if cfg.Reranker.Provider == RerankProviderCrossEncoder {
		cfg.Reranker.CrossEncoder.ApplyDefaults()
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.VectorStore.Provider {
	case VectorProviderChromem:
	case VectorProviderQdrant:
		if err := c.VectorStore.Qdrant.Validate(); err != nil {
			return fmt.Errorf("qdrant config: %w", err)
		}
	default:
		return fmt.Errorf("unknown vector store provider %q", c.VectorStore.Provider)
	}

	switch c.Reranker.Provider {
	case RerankProviderTermOverlap:
	case RerankProviderCrossEncoder:
		if err := c.Reranker.CrossEncoder.Validate(); err != nil {
			return fmt.Errorf("cross encoder config: %w", err)
		}
	default:
		return fmt.Errorf("unknown reranker provider %q", c.Reranker.Provider)
	}

	seen := make(map[string]bool, len(c.Models.Configs))
	for i, m := range c.Models.Configs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("model config %d: %w", i, err)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model config id %q", m.ID)
		}
		seen[m.ID] = true
	}

	if c.Models.DefaultCompletion != "" && !seen[c.Models.DefaultCompletion] {
		return fmt.Errorf("default completion model %q not defined", c.Models.DefaultCompletion)
	}
	if c.Models.DefaultEmbedding != "" && !seen[c.Models.DefaultEmbedding] {
		return fmt.Errorf("default embedding model %q not defined", c.Models.DefaultEmbedding)
	}
	return nil
}
