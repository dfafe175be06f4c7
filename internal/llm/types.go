// Package llm provides a uniform gateway over LLM provider APIs.
//
// The gateway exposes three capabilities: text completion, vision completion
// and embedding. Provider clients are created once per (provider, model
// config) pair and cached behind a mutex. The gateway performs no retries;
// retry policy belongs to callers so that labeling can retry while one-shot
// chat does not.
package llm

import (
	"errors"
	"fmt"

	"github.com/veldtlabs/veldt/internal/secret"
)

// Sentinel errors forming the provider error taxonomy.
var (
	// ErrProviderUnavailable indicates a network failure, 5xx or 429.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderRejected indicates a non-retryable 4xx rejection.
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrTimeout indicates the request exceeded its deadline.
	ErrTimeout = errors.New("provider request timed out")

	// ErrCapabilityUnsupported indicates the provider lacks the capability.
	ErrCapabilityUnsupported = errors.New("capability unsupported by provider")

	// ErrInvalidConfig indicates invalid model configuration.
	ErrInvalidConfig = errors.New("invalid model configuration")
)

// Provider identifies the wire protocol a model config speaks.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// ModelConfig identifies a provider endpoint and model.
type ModelConfig struct {
	// ID is the stable identifier of this configuration. It participates in
	// the client cache key, so two configs with different credentials must
	// have different IDs.
	ID string `koanf:"id"`

	// Provider selects the wire protocol.
	Provider Provider `koanf:"provider"`

	// Model is the provider-side model name.
	Model string `koanf:"model"`

	// BaseURL overrides the provider default endpoint.
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates requests. The secret.Secret type redacts the
	// value when formatted or marshaled, so configs are safe to log.
	APIKey secret.Secret `koanf:"api_key"`

	// TimeoutSeconds bounds a single request. Default 60.
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

// Validate checks the configuration.
func (c ModelConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidConfig)
	}
	if c.Provider != ProviderOpenAI && c.Provider != ProviderAnthropic {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// Role is a chat message role.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one chat turn sent to a completion endpoint.
type Message struct {
	Role    Role
	Content string
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}
