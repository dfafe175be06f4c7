package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var (
	queryProject string
	queryModel   string
	queryTopK    int
	queryRerank  bool

	graphProject  string
	graphDocument string
)

// queryCmd runs a retrieval query
var queryCmd = &cobra.Command{
	Use:   "query [text...]",
	Short: "Query indexed chunks",
	Long: `Run a similarity query over a project's indexed chunks.

Examples:
  # Top 10 chunks for a query
  veldt query --project myproj connection pooling

  # Top 3 with reranking
  veldt query --project myproj --top-k 3 --rerank connection pooling`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// graphCmd fetches the derived chunk graph
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show the derived chunk graph",
	Long: `Fetch the co-occurrence chunk graph for a project, or one
document within it.

Examples:
  veldt graph --project myproj
  veldt graph --project myproj --document readme`,
	RunE: runGraph,
}

func init() {
	queryCmd.Flags().StringVar(&queryProject, "project", "", "project id (required)")
	queryCmd.Flags().StringVar(&queryModel, "model", "", "embedding model config id")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of hits to return")
	queryCmd.Flags().BoolVar(&queryRerank, "rerank", false, "rerank results")
	_ = queryCmd.MarkFlagRequired("project")

	graphCmd.Flags().StringVar(&graphProject, "project", "", "project id (required)")
	graphCmd.Flags().StringVar(&graphDocument, "document", "", "restrict to one document")
	_ = graphCmd.MarkFlagRequired("project")
}

// QueryRequest matches internal/server QueryRequest
type QueryRequest struct {
	ProjectID  string `json:"projectId"`
	ModelID    string `json:"modelId,omitempty"`
	Query      string `json:"query"`
	TopK       int    `json:"topK,omitempty"`
	WithRerank bool   `json:"withRerank,omitempty"`
}

// QueryHit matches internal/retrieval Hit
type QueryHit struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// QueryResponse matches internal/server QueryResponse
type QueryResponse struct {
	Hits []QueryHit `json:"hits"`
}

// GraphNode matches internal/graph Node
type GraphNode struct {
	ChunkID string `json:"chunkId"`
	Label   string `json:"label"`
}

// GraphEdge matches internal/graph Edge
type GraphEdge struct {
	ChunkA            string `json:"chunkA"`
	ChunkB            string `json:"chunkB"`
	SharedEntityCount int    `json:"sharedEntityCount"`
	Label             string `json:"label"`
}

// GraphResponse matches internal/server GraphResponse
type GraphResponse struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	var resp QueryResponse
	err := postJSON("/api/v1/query", QueryRequest{
		ProjectID:  queryProject,
		ModelID:    queryModel,
		Query:      strings.Join(args, " "),
		TopK:       queryTopK,
		WithRerank: queryRerank,
	}, &resp)
	if err != nil {
		return err
	}

	if len(resp.Hits) == 0 {
		fmt.Println("No results")
		return nil
	}
	for i, h := range resp.Hits {
		snippet := h.Content
		if len(snippet) > 120 {
			snippet = snippet[:120] + "..."
		}
		fmt.Printf("%2d. [%.4f] %s (%s)\n    %s\n", i+1, h.Score, h.ChunkID, h.DocumentID, snippet)
	}
	return nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	params := url.Values{}
	params.Set("projectId", graphProject)
	if graphDocument != "" {
		params.Set("documentId", graphDocument)
	}

	var resp GraphResponse
	if err := getJSON("/api/v1/graph?"+params.Encode(), &resp); err != nil {
		return err
	}

	fmt.Printf("%d node(s), %d edge(s)\n", len(resp.Nodes), len(resp.Edges))
	for _, n := range resp.Nodes {
		fmt.Printf("node %s  %s\n", n.ChunkID, n.Label)
	}
	for _, e := range resp.Edges {
		fmt.Printf("edge %s -- %s  shared=%d  %s\n", e.ChunkA, e.ChunkB, e.SharedEntityCount, e.Label)
	}
	return nil
}
