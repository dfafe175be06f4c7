package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIConfig(t *testing.T, baseURL string) ModelConfig {
	t.Helper()
	return ModelConfig{
		ID:       "cfg-openai",
		Provider: ProviderOpenAI,
		Model:    "test-model",
		BaseURL:  baseURL,
		APIKey:   "test-key",
	}
}

func chatResponse(text string) string {
	return `{"choices":[{"message":{"role":"assistant","content":"` + text + `"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`
}

func TestCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(chatResponse("hello")))
	}))
	defer server.Close()

	gw := NewGatewayContext(nil)
	text, usage, err := gw.Complete(context.Background(), openAIConfig(t, server.URL), []Message{
		{Role: RoleSystem, Content: "you are terse"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 10, usage.PromptTokens)
	assert.Equal(t, 5, usage.CompletionTokens)
}

func TestCompleteErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "bad request", status: http.StatusBadRequest, wantErr: ErrProviderRejected},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: ErrProviderRejected},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: ErrProviderUnavailable},
		{name: "server error", status: http.StatusInternalServerError, wantErr: ErrProviderUnavailable},
		{name: "bad gateway", status: http.StatusBadGateway, wantErr: ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer server.Close()

			gw := NewGatewayContext(nil)
			_, _, err := gw.Complete(context.Background(), openAIConfig(t, server.URL), []Message{{Role: RoleUser, Content: "hi"}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestCompleteTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's client-disconnect watcher runs;
		// otherwise r.Context() is never canceled and Close hangs.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	gw := NewGatewayContext(nil)
	_, _, err := gw.Complete(ctx, openAIConfig(t, server.URL), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
}

func TestClientCacheReuse(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(chatResponse("ok")))
	}))
	defer server.Close()

	gw := NewGatewayContext(nil)
	cfg := openAIConfig(t, server.URL)

	_, _, err := gw.Complete(context.Background(), cfg, []Message{{Role: RoleUser, Content: "a"}})
	require.NoError(t, err)

	first, ok := gw.clients[clientKey{provider: cfg.Provider, configID: cfg.ID}]
	require.True(t, ok)

	_, _, err = gw.Complete(context.Background(), cfg, []Message{{Role: RoleUser, Content: "b"}})
	require.NoError(t, err)

	second := gw.clients[clientKey{provider: cfg.Provider, configID: cfg.ID}]
	assert.Same(t, first.(*openAIClient), second.(*openAIClient))

	gw.ClearClients()
	assert.Empty(t, gw.clients)

	_, _, err = gw.Complete(context.Background(), cfg, []Message{{Role: RoleUser, Content: "c"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), hits.Load())
}

func TestEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer server.Close()

	gw := NewGatewayContext(nil)
	vec, err := gw.Embed(context.Background(), openAIConfig(t, server.URL), "some text")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}

func TestAnthropicEmbedUnsupported(t *testing.T) {
	gw := NewGatewayContext(nil)
	cfg := ModelConfig{
		ID:       "cfg-anthropic",
		Provider: ProviderAnthropic,
		Model:    "test-model",
		APIKey:   "key",
	}

	_, err := gw.Embed(context.Background(), cfg, "text")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapabilityUnsupported))
}

func TestCompleteVisionRejectsUndecodableImage(t *testing.T) {
	gw := NewGatewayContext(nil)
	cfg := ModelConfig{
		ID:       "cfg-vision",
		Provider: ProviderOpenAI,
		Model:    "test-model",
		APIKey:   "key",
	}

	_, err := gw.CompleteVision(context.Background(), cfg, []byte("definitely not an image"), "describe")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderRejected))
}

func TestModelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ModelConfig
		wantErr bool
	}{
		{name: "valid", config: ModelConfig{ID: "a", Provider: ProviderOpenAI, Model: "m"}, wantErr: false},
		{name: "missing id", config: ModelConfig{Provider: ProviderOpenAI, Model: "m"}, wantErr: true},
		{name: "unknown provider", config: ModelConfig{ID: "a", Provider: "other", Model: "m"}, wantErr: true},
		{name: "missing model", config: ModelConfig{ID: "a", Provider: ProviderAnthropic}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
