package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Default endpoints and request limits.
const (
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultMaxTokens        = 1024
	defaultTimeout          = 60 * time.Second
)

// Rate limiter defaults: 50 requests per minute per client.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// openAIClient speaks the OpenAI-compatible chat/embeddings protocol.
type openAIClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newOpenAIClient(cfg ModelConfig) (*openAIClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &openAIClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey.Value(),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *openAIClient) complete(ctx context.Context, msgs []Message) (string, Usage, error) {
	messages := make([]openAIMessage, len(msgs))
	for i, m := range msgs {
		messages[i] = openAIMessage{Role: string(m.Role), Content: m.Content}
	}
	return o.doChat(ctx, openAIRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.3,
	})
}

func (o *openAIClient) completeVision(ctx context.Context, img []byte, prompt string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s",
		http.DetectContentType(img), base64.StdEncoding.EncodeToString(img))

	text, _, err := o.doChat(ctx, openAIRequest{
		Model: o.model,
		Messages: []openAIMessage{{
			Role: string(RoleUser),
			Content: []openAIContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL}},
			},
		}},
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.3,
	})
	return text, err
}

func (o *openAIClient) doChat(ctx context.Context, req openAIRequest) (string, Usage, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", Usage{}, mapTransportError(err)
	}

	body, err := postJSON(ctx, o.httpClient, o.baseURL+"/v1/chat/completions", req, o.headers())
	if err != nil {
		return "", Usage{}, err
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", Usage{}, fmt.Errorf("%w: parsing response: %v", ErrProviderUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("%w: empty response", ErrProviderUnavailable)
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

func (o *openAIClient) embed(ctx context.Context, text string) ([]float32, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, mapTransportError(err)
	}

	body, err := postJSON(ctx, o.httpClient, o.baseURL+"/v1/embeddings", openAIEmbeddingRequest{
		Model: o.model,
		Input: []string{text},
	}, o.headers())
	if err != nil {
		return nil, err
	}

	var resp openAIEmbeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrProviderUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrProviderUnavailable)
	}
	return resp.Data[0].Embedding, nil
}

func (o *openAIClient) headers() map[string]string {
	return map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + o.apiKey,
	}
}

// postJSON performs a POST and maps transport/status failures onto the
// provider error taxonomy. The response body is returned for 2xx only.
func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, errMessage(body))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderRejected, resp.StatusCode, errMessage(body))
	}
}

// errMessage extracts a provider error message when the body carries one.
func errMessage(body []byte) string {
	var oaErr openAIError
	if err := json.Unmarshal(body, &oaErr); err == nil && oaErr.Error.Message != "" {
		return oaErr.Error.Message
	}
	var anErr anthropicError
	if err := json.Unmarshal(body, &anErr); err == nil && anErr.Error.Message != "" {
		return anErr.Error.Message
	}
	const limit = 200
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}

// mapTransportError classifies a transport-level failure.
func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

var _ providerClient = (*openAIClient)(nil)
