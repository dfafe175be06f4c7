// Package labeling orchestrates LLM chunk labeling: prompt rendering,
// completion, schema validation and persistence of the results.
package labeling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/veldtlabs/veldt/internal/chunk"
	"github.com/veldtlabs/veldt/internal/graph"
	"github.com/veldtlabs/veldt/internal/llm"
	"github.com/veldtlabs/veldt/internal/logging"
	"github.com/veldtlabs/veldt/internal/prompt"
	"github.com/veldtlabs/veldt/internal/schema"
	"github.com/veldtlabs/veldt/internal/store"
)

var tracer = otel.Tracer("veldt.labeling")

// ErrNotDispatched marks chunks whose batch was never started because
// the context was canceled first.
var ErrNotDispatched = errors.New("labeling canceled before dispatch")

// Mode selects how a caller reports a labeling pass. The pipeline
// itself always returns every outcome in input order; the mode is the
// aggregation contract between the pipeline and its caller.
type Mode string

const (
	// ModeStrict surfaces every per-chunk failure in the aggregate
	// result, so partial success is visible as a degraded outcome.
	ModeStrict Mode = "strict"

	// ModeBestEffort hands the caller only the successes; failures are
	// logged and dropped from the aggregate (see Successes).
	ModeBestEffort Mode = "best_effort"
)

// Successes filters outcomes down to the chunks that labeled cleanly,
// preserving input order. ModeBestEffort callers report these and log
// the rest.
func Successes(outcomes []Outcome) []Outcome {
	kept := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			kept = append(kept, o)
		}
	}
	return kept
}

// Prompts carries the project-level prompt fragments rendered into
// every chunk's labeling prompt alongside the chunk content.
type Prompts struct {
	// Global is the project-wide context prompt. May be empty.
	Global string

	// Domain is the project's domain guidance prompt. May be empty.
	Domain string
}

// Config holds pipeline configuration.
type Config struct {
	// BatchSize is how many chunks are labeled concurrently. Batches
	// run sequentially.
	// Default: 5
	BatchSize int `koanf:"batch_size"`

	// MaxRetries is the retry count for transient provider failures.
	// Default: 2
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff, doubled per retry.
	// Default: 1s
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// PromptTemplate overrides the built-in labeling prompt. It must
	// reference {{.content}} and may reference {{.globalPrompt}} and
	// {{.domainPrompt}}.
	PromptTemplate string `koanf:"prompt_template"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 5
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = DefaultPromptTemplate
	}
}

// Outcome is the labeling result for one input chunk. Outcomes are
// returned in input order, one per chunk, regardless of failures.
type Outcome struct {
	ChunkID  string
	Metadata store.ChunkMetadata

	EntityCount   int
	RelationCount int

	// Err is set when the chunk failed. A failed chunk never blocks
	// the rest of its batch.
	Err error
}

// Pipeline labels chunks through an LLM gateway.
type Pipeline struct {
	gateway llm.Gateway
	store   store.Store
	graph   *graph.Builder
	config  Config
	logger  *logging.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(gateway llm.Gateway, st store.Store, builder *graph.Builder, config Config, logger *logging.Logger) (*Pipeline, error) {
	if gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if builder == nil {
		return nil, errors.New("graph builder is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	config.ApplyDefaults()

	return &Pipeline{
		gateway: gateway,
		store:   st,
		graph:   builder,
		config:  config,
		logger:  logger.Named("labeling"),
	}, nil
}

// Label labels the chunks in batches. Within a batch chunks run
// concurrently; batches run sequentially so provider pressure stays
// bounded. Cancellation stops dispatch of further batches while
// in-flight chunks finish; undispatched chunks get ErrNotDispatched.
func (p *Pipeline) Label(ctx context.Context, chunks []chunk.Chunk, cfg llm.ModelConfig, prompts Prompts) []Outcome {
	ctx, span := tracer.Start(ctx, "Pipeline.Label")
	defer span.End()
	span.SetAttributes(
		attribute.Int("chunk_count", len(chunks)),
		attribute.String("model", cfg.Model),
	)

	outcomes := make([]Outcome, len(chunks))
	for i, c := range chunks {
		outcomes[i].ChunkID = c.ID
	}

	for start := 0; start < len(chunks); start += p.config.BatchSize {
		if err := ctx.Err(); err != nil {
			for i := start; i < len(chunks); i++ {
				outcomes[i].Err = fmt.Errorf("%w: %v", ErrNotDispatched, err)
			}
			span.SetStatus(codes.Error, "canceled")
			return outcomes
		}

		end := start + p.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = p.labelOne(ctx, chunks[i], cfg, prompts)
			}(i)
		}
		wg.Wait()
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("failed_count", failed))
	span.SetStatus(codes.Ok, "success")

	p.logger.Info("labeling pass finished",
		zap.Int("chunks", len(chunks)),
		zap.Int("failed", failed),
		zap.String("model", cfg.Model),
	)
	return outcomes
}

func (p *Pipeline) labelOne(ctx context.Context, c chunk.Chunk, cfg llm.ModelConfig, prompts Prompts) Outcome {
	out := Outcome{ChunkID: c.ID}

	rendered, err := prompt.Render(p.config.PromptTemplate, map[string]any{
		"content":      c.Content,
		"globalPrompt": prompts.Global,
		"domainPrompt": prompts.Domain,
	})
	if err != nil {
		out.Err = fmt.Errorf("rendering prompt: %w", err)
		return out
	}

	a, err := p.analyze(ctx, cfg, rendered)
	if err != nil {
		out.Err = err
		return out
	}

	if err := p.store.UpdateChunkMetadata(ctx, c.ID, a.metadata); err != nil {
		out.Err = fmt.Errorf("persisting metadata for chunk %s: %w", c.ID, err)
		return out
	}
	out.Metadata = a.metadata
	out.EntityCount = len(a.entities)
	out.RelationCount = len(a.relations)

	// Annotations are forwarded only when entities and relations are
	// both present; a response carrying one without the other does not
	// contribute to the graph.
	if len(a.entities) == 0 || len(a.relations) == 0 {
		return out
	}

	if err := p.graph.Ingest(ctx, c.ID, a.entities, a.relations); err != nil {
		out.Err = fmt.Errorf("ingesting annotations for chunk %s: %w", c.ID, err)
	}
	return out
}

// analyze runs the completion and validation loop for one chunk.
// Transient provider failures are retried with backoff. An invalid
// response earns one corrective round-trip that echoes the violations
// back to the model.
func (p *Pipeline) analyze(ctx context.Context, cfg llm.ModelConfig, rendered string) (analysis, error) {
	raw, err := p.complete(ctx, cfg, []llm.Message{{Role: llm.RoleUser, Content: rendered}})
	if err != nil {
		return analysis{}, err
	}

	obj, verr := p.validate(raw)
	if verr == nil {
		return buildAnalysis(obj), nil
	}
	if !correctable(verr) {
		return analysis{}, verr
	}

	retryRaw, err := p.complete(ctx, cfg, []llm.Message{
		{Role: llm.RoleUser, Content: rendered},
		{Role: llm.RoleUser, Content: correctionPrompt(raw, verr)},
	})
	if err != nil {
		return analysis{}, fmt.Errorf("correction round after %v: %w", verr, err)
	}

	obj, verr2 := p.validate(retryRaw)
	if verr2 != nil {
		return analysis{}, verr2
	}
	return buildAnalysis(obj), nil
}

func (p *Pipeline) validate(raw string) (map[string]any, error) {
	v, err := schema.Validate(raw, schema.DocumentAnalysisShape())
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object result", schema.ErrSchemaViolation)
	}
	return obj, nil
}

// complete calls the gateway, retrying transient failures. Retries live
// here rather than in the gateway so one-shot callers are not retried
// behind their backs.
func (p *Pipeline) complete(ctx context.Context, cfg llm.ModelConfig, msgs []llm.Message) (string, error) {
	backoff := p.config.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("completion canceled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		raw, _, err := p.gateway.Complete(ctx, cfg, msgs)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !isTransient(err) {
			return "", err
		}
		p.logger.Debug("transient completion failure, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return "", fmt.Errorf("completion failed after %d retries: %w", p.config.MaxRetries, lastErr)
}

func isTransient(err error) bool {
	return errors.Is(err, llm.ErrProviderUnavailable) || errors.Is(err, llm.ErrTimeout)
}

// correctable reports whether a validation failure is worth one
// corrective round-trip to the model.
func correctable(err error) bool {
	return errors.Is(err, schema.ErrSchemaViolation) || errors.Is(err, schema.ErrMalformedOutput)
}
