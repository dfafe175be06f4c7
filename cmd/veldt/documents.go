package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	ingestProject  string
	ingestDocument string
)

// ingestCmd ingests a document from a file or stdin
var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document as chunks",
	Long: `Split a document into chunks and persist them on the server.

Examples:
  # Ingest a file
  veldt ingest --project myproj --document readme README.md

  # Ingest from stdin
  cat notes.md | veldt ingest --project myproj --document notes -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestProject, "project", "", "project id (required)")
	ingestCmd.Flags().StringVar(&ingestDocument, "document", "", "document id (required)")
	_ = ingestCmd.MarkFlagRequired("project")
	_ = ingestCmd.MarkFlagRequired("document")
}

// IngestDocumentRequest matches internal/server IngestDocumentRequest
type IngestDocumentRequest struct {
	ProjectID  string `json:"projectId"`
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
}

// IngestDocumentResponse matches internal/server IngestDocumentResponse
type IngestDocumentResponse struct {
	ChunkIDs []string `json:"chunkIds"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	if len(content) == 0 {
		return fmt.Errorf("no content to ingest")
	}

	var resp IngestDocumentResponse
	err = postJSON("/api/v1/documents", IngestDocumentRequest{
		ProjectID:  ingestProject,
		DocumentID: ingestDocument,
		Content:    string(content),
	}, &resp)
	if err != nil {
		return err
	}

	fmt.Printf("Created %d chunk(s)\n", len(resp.ChunkIDs))
	for _, id := range resp.ChunkIDs {
		fmt.Println(id)
	}
	return nil
}
