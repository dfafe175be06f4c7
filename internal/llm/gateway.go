package llm

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/veldtlabs/veldt/internal/logging"
)

// Gateway is the uniform capability interface the pipelines depend on.
type Gateway interface {
	// Complete performs a synchronous chat completion.
	Complete(ctx context.Context, cfg ModelConfig, msgs []Message) (string, Usage, error)

	// CompleteVision performs a completion over an image plus prompt.
	// The image payload must be decodable bytes.
	CompleteVision(ctx context.Context, cfg ModelConfig, img []byte, prompt string) (string, error)

	// Embed generates an embedding vector for text.
	Embed(ctx context.Context, cfg ModelConfig, text string) ([]float32, error)
}

// providerClient is the per-provider implementation behind the gateway.
type providerClient interface {
	complete(ctx context.Context, msgs []Message) (string, Usage, error)
	completeVision(ctx context.Context, img []byte, prompt string) (string, error)
	embed(ctx context.Context, text string) ([]float32, error)
}

type clientKey struct {
	provider Provider
	configID string
}

// GatewayContext owns the provider client cache. Clients are created once
// per (provider, model config id) and reused until ClearClients. The cache
// is the only mutable shared state in the engine and is guarded by mu.
type GatewayContext struct {
	mu      sync.Mutex
	clients map[clientKey]providerClient
	logger  *logging.Logger
	metrics *Metrics
}

// NewGatewayContext creates an empty gateway context.
func NewGatewayContext(logger *logging.Logger) *GatewayContext {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GatewayContext{
		clients: make(map[clientKey]providerClient),
		logger:  logger.Named("llm"),
		metrics: NewMetrics(logger.Underlying()),
	}
}

// ClearClients drops all cached provider clients. Administrative operation;
// the next call per config re-creates its client.
func (g *GatewayContext) ClearClients() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients = make(map[clientKey]providerClient)
}

// client returns the cached client for cfg, creating it on first use.
func (g *GatewayContext) client(cfg ModelConfig) (providerClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key := clientKey{provider: cfg.Provider, configID: cfg.ID}

	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[key]; ok {
		return c, nil
	}

	var (
		c   providerClient
		err error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		c, err = newOpenAIClient(cfg)
	case ProviderAnthropic:
		c, err = newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}

	g.clients[key] = c
	g.logger.Debug("provider client created",
		zap.String("provider", string(cfg.Provider)),
		zap.String("config_id", cfg.ID),
	)
	return c, nil
}

// Complete performs a synchronous chat completion.
func (g *GatewayContext) Complete(ctx context.Context, cfg ModelConfig, msgs []Message) (string, Usage, error) {
	c, err := g.client(cfg)
	if err != nil {
		return "", Usage{}, err
	}
	return g.metrics.ObserveComplete(ctx, cfg.Model, func() (string, Usage, error) {
		return c.complete(ctx, msgs)
	})
}

// CompleteVision performs a completion over an image plus prompt.
func (g *GatewayContext) CompleteVision(ctx context.Context, cfg ModelConfig, img []byte, prompt string) (string, error) {
	if _, _, err := image.DecodeConfig(bytes.NewReader(img)); err != nil {
		return "", fmt.Errorf("%w: image payload not decodable: %v", ErrProviderRejected, err)
	}

	c, err := g.client(cfg)
	if err != nil {
		return "", err
	}
	return c.completeVision(ctx, img, prompt)
}

// Embed generates an embedding vector for text.
func (g *GatewayContext) Embed(ctx context.Context, cfg ModelConfig, text string) ([]float32, error) {
	c, err := g.client(cfg)
	if err != nil {
		return nil, err
	}
	return g.metrics.ObserveEmbed(ctx, cfg.Model, func() ([]float32, error) {
		return c.embed(ctx, text)
	})
}

// Embedder adapts a gateway plus model config to the embedding
// interface the indexing and retrieval packages accept. ModelID ties
// the vectors it produces to the collection they belong in.
type Embedder struct {
	gateway Gateway
	config  ModelConfig
}

// NewEmbedder binds a gateway to one embedding model configuration.
func NewEmbedder(gateway Gateway, cfg ModelConfig) *Embedder {
	return &Embedder{gateway: gateway, config: cfg}
}

// Embed generates an embedding for text using the bound model.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.gateway.Embed(ctx, e.config, text)
}

// ModelID returns the bound embedding model identifier.
func (e *Embedder) ModelID() string {
	return e.config.ID
}

var _ Gateway = (*GatewayContext)(nil)
