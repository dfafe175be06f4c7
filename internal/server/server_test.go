package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/veldt/internal/graph"
	"github.com/veldtlabs/veldt/internal/index"
	"github.com/veldtlabs/veldt/internal/labeling"
	"github.com/veldtlabs/veldt/internal/llm"
	"github.com/veldtlabs/veldt/internal/retrieval"
	"github.com/veldtlabs/veldt/internal/server"
	"github.com/veldtlabs/veldt/internal/store"
	"github.com/veldtlabs/veldt/internal/vectorstore"
)

const analysisResponse = `{
	"summary": "Covers connection pooling.",
	"domain": "databases",
	"subDomain": "operations",
	"tags": ["pooling"],
	"entities": [
		{"type": "technology", "name": "PgBouncer", "normalizedId": "pgbouncer"},
		{"type": "concept", "name": "Connection Pool", "normalizedId": "connection_pool"}
	],
	"relations": [
		{"source": "pgbouncer", "target": "connection_pool", "label": "implements"}
	]
}`

// markerGateway fails any completion whose prompt carries the FAILME
// marker and answers everything else with a fixed analysis. Keyed on
// content rather than call order so batch concurrency cannot skew it.
type markerGateway struct{}

func (markerGateway) Complete(ctx context.Context, cfg llm.ModelConfig, msgs []llm.Message) (string, llm.Usage, error) {
	for _, m := range msgs {
		if strings.Contains(m.Content, "FAILME") {
			return "this is not json", llm.Usage{}, nil
		}
	}
	return analysisResponse, llm.Usage{}, nil
}

func (markerGateway) CompleteVision(ctx context.Context, cfg llm.ModelConfig, img []byte, prompt string) (string, error) {
	return "", llm.ErrCapabilityUnsupported
}

func (markerGateway) Embed(ctx context.Context, cfg llm.ModelConfig, text string) ([]float32, error) {
	return nil, llm.ErrCapabilityUnsupported
}

// hashEmbedder produces deterministic unit vectors from text.
type hashEmbedder struct{ model string }

func (e hashEmbedder) ModelID() string {
	if e.model == "" {
		return "embed"
	}
	return e.model
}

func (hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	const dim = 8
	v := make([]float32, dim)
	var sumSq float32
	for i := range v {
		h := 1
		for _, r := range text {
			h = (h*31 + int(r)) % 97
		}
		v[i] = float32((h+i)%13 + 1)
		sumSq += v[i] * v[i]
	}
	norm := sumSq
	for i := 0; i < 12; i++ {
		norm = (norm + sumSq/norm) / 2
	}
	for i := range v {
		v[i] /= norm
	}
	return v, nil
}

// staticEmbedders resolves the two embedding models the tests know
// about, each bound to its own model id.
type staticEmbedders struct{}

func (staticEmbedders) For(modelID string) (index.Embedder, bool) {
	switch modelID {
	case "embed", "embed-b":
		return hashEmbedder{model: modelID}, true
	}
	return nil, false
}

type staticModels struct{}

func (staticModels) Resolve(id string) (llm.ModelConfig, bool) {
	if id == "gpt" {
		return llm.ModelConfig{ID: "gpt", Provider: llm.ProviderOpenAI, Model: "gpt-test"}, true
	}
	return llm.ModelConfig{}, false
}

func (staticModels) DefaultCompletion() (llm.ModelConfig, bool) {
	return llm.ModelConfig{ID: "gpt", Provider: llm.ProviderOpenAI, Model: "gpt-test"}, true
}

func newTestServer(t *testing.T) *server.Server {
	t.Helper()

	st, err := store.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vs, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)

	builder := graph.NewBuilder(st, nil)
	pipeline, err := labeling.NewPipeline(markerGateway{}, st, builder, labeling.Config{}, nil)
	require.NoError(t, err)

	indexer, err := index.NewIndexer(vs, index.Config{}, nil)
	require.NoError(t, err)

	engine, err := retrieval.NewEngine(vs, nil, nil)
	require.NoError(t, err)

	srv, err := server.NewServer(server.Deps{
		Store:     st,
		Pipeline:  pipeline,
		Indexer:   indexer,
		Engine:    engine,
		Graph:     builder,
		Models:    staticModels{},
		Embedders: staticEmbedders{},
		Embedding: "embed",
	}, server.Config{Host: "127.0.0.1", Port: 0}, nil)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *server.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFullFlow(t *testing.T) {
	srv := newTestServer(t)

	// Ingest a document with two paragraphs.
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents", `{
		"projectId": "proj_a",
		"documentId": "doc-1",
		"content": "PgBouncer pools database connections.\n\nConnection pools reduce latency under load."
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var ingest server.IngestDocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ingest))
	require.Len(t, ingest.ChunkIDs, 2)

	// Label everything in the project.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/label", `{"projectId": "proj_a"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var label server.LabelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &label))
	require.Len(t, label.Outcomes, 2)
	assert.Zero(t, label.Failed)
	assert.Equal(t, "databases", label.Outcomes[0].Domain)
	assert.Equal(t, 2, label.Outcomes[0].EntityCount)

	// Index into the vector store.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/index", `{"projectId": "proj_a"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var idx server.IndexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &idx))
	assert.Equal(t, 2, idx.Indexed)
	assert.Equal(t, "proj_a__embed", idx.Collection)

	// Query them back.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/query", `{
		"projectId": "proj_a",
		"query": "connection pooling",
		"topK": 5
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var q server.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	require.NotEmpty(t, q.Hits)
	assert.NotEmpty(t, q.Hits[0].Content)

	// Both chunks share both entities, so the graph has one edge.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/graph?projectId=proj_a", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var g server.GraphResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, 2, g.Edges[0].SharedEntityCount)
}

func TestLabelPartialFailureReturns207(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents", `{
		"projectId": "proj_b",
		"documentId": "doc-1",
		"content": "A clean paragraph.\n\nA poisoned paragraph FAILME."
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/label", `{"projectId": "proj_b"}`)
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	var label server.LabelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &label))
	assert.Equal(t, 1, label.Failed)
	require.Len(t, label.Outcomes, 2)

	// Strict reporting keeps the failed outcome visible.
	failures := 0
	for _, o := range label.Outcomes {
		if o.Error != "" {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestLabelBestEffortReturnsOnlySuccesses(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents", `{
		"projectId": "proj_c",
		"documentId": "doc-1",
		"content": "A clean paragraph.\n\nA poisoned paragraph FAILME."
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Best effort logs failures server-side and hands back a clean 200
	// carrying just the chunks that labeled.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/label", `{"projectId": "proj_c", "mode": "best_effort"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var label server.LabelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &label))
	require.Len(t, label.Outcomes, 1)
	assert.Empty(t, label.Outcomes[0].Error)
	assert.Zero(t, label.Failed)
}

func TestIndexAndQueryPerModelCollections(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents", `{
		"projectId": "proj_m",
		"documentId": "doc-1",
		"content": "PgBouncer pools database connections."
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Naming a model routes the request to that model's collection.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/index", `{"projectId": "proj_m", "modelId": "embed-b"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var idx server.IndexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &idx))
	assert.Equal(t, "proj_m__embed2db", idx.Collection)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/query", `{"projectId": "proj_m", "query": "pooling", "modelId": "embed-b"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var q server.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	require.NotEmpty(t, q.Hits)

	// The default model's collection was never touched.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/query", `{"projectId": "proj_m", "query": "pooling"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Empty(t, q.Hits)
}

func TestQueryUnindexedProjectEmpty(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/query", `{"projectId": "ghost", "query": "anything"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var q server.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Empty(t, q.Hits)
}

func TestValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "document missing ids", method: http.MethodPost, path: "/api/v1/documents", body: `{"content": "x"}`},
		{name: "document missing content", method: http.MethodPost, path: "/api/v1/documents", body: `{"projectId": "p", "documentId": "d"}`},
		{name: "label missing project", method: http.MethodPost, path: "/api/v1/label", body: `{}`},
		{name: "label unknown mode", method: http.MethodPost, path: "/api/v1/label", body: `{"projectId": "p", "mode": "yolo"}`},
		{name: "label unknown model", method: http.MethodPost, path: "/api/v1/label", body: `{"projectId": "p", "modelId": "ghost"}`},
		{name: "index missing project", method: http.MethodPost, path: "/api/v1/index", body: `{}`},
		{name: "index unknown model", method: http.MethodPost, path: "/api/v1/index", body: `{"projectId": "p", "modelId": "ghost"}`},
		{name: "query missing text", method: http.MethodPost, path: "/api/v1/query", body: `{"projectId": "p"}`},
		{name: "query unknown model", method: http.MethodPost, path: "/api/v1/query", body: `{"projectId": "p", "query": "q", "modelId": "ghost"}`},
		{name: "graph missing project", method: http.MethodGet, path: "/api/v1/graph", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestIndexEmptyScope(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/index", `{"projectId": "empty"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
