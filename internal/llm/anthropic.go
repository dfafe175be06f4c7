package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// anthropicClient speaks the Anthropic messages protocol. It supports text
// and vision completion; embedding is not a capability of this provider.
type anthropicClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newAnthropicClient(cfg ModelConfig) (*anthropicClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &anthropicClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey.Value(),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicContentBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *anthropicClient) complete(ctx context.Context, msgs []Message) (string, Usage, error) {
	// The messages API takes the system prompt as a top-level field.
	var system string
	messages := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}
		messages = append(messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	return a.doMessages(ctx, anthropicRequest{
		Model:       a.model,
		MaxTokens:   defaultMaxTokens,
		System:      system,
		Messages:    messages,
		Temperature: 0.3,
	})
}

func (a *anthropicClient) completeVision(ctx context.Context, img []byte, prompt string) (string, error) {
	text, _, err := a.doMessages(ctx, anthropicRequest{
		Model:     a.model,
		MaxTokens: defaultMaxTokens,
		Messages: []anthropicMessage{{
			Role: string(RoleUser),
			Content: []anthropicContentBlock{
				{Type: "image", Source: &anthropicSource{
					Type:      "base64",
					MediaType: http.DetectContentType(img),
					Data:      base64.StdEncoding.EncodeToString(img),
				}},
				{Type: "text", Text: prompt},
			},
		}},
		Temperature: 0.3,
	})
	return text, err
}

func (a *anthropicClient) doMessages(ctx context.Context, req anthropicRequest) (string, Usage, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", Usage{}, mapTransportError(err)
	}

	body, err := postJSON(ctx, a.httpClient, a.baseURL+"/v1/messages", req, map[string]string{
		"Content-Type":      "application/json",
		"X-API-Key":         a.apiKey,
		"Anthropic-Version": "2023-06-01",
	})
	if err != nil {
		return "", Usage{}, err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", Usage{}, fmt.Errorf("%w: parsing response: %v", ErrProviderUnavailable, err)
	}
	if len(resp.Content) == 0 {
		return "", Usage{}, fmt.Errorf("%w: empty response", ErrProviderUnavailable)
	}

	usage := Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}
	return resp.Content[0].Text, usage, nil
}

func (a *anthropicClient) embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("%w: anthropic has no embedding endpoint", ErrCapabilityUnsupported)
}

var _ providerClient = (*anthropicClient)(nil)
