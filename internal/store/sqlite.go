package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/veldtlabs/veldt/internal/chunk"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	document_id TEXT NOT NULL,
	content     TEXT NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	domain      TEXT NOT NULL DEFAULT '',
	sub_domain  TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	language    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project_id, document_id);

CREATE TABLE IF NOT EXISTS chunk_entities (
	chunk_id      TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
	type          TEXT NOT NULL,
	surface_name  TEXT NOT NULL,
	normalized_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entities_chunk ON chunk_entities(chunk_id);

CREATE TABLE IF NOT EXISTS chunk_relations (
	chunk_id  TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	label     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relations_chunk ON chunk_relations(chunk_id);
`

// SQLiteStore is a Store backed by an embedded SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at dataDir/veldt.db.
// If dataDir is empty, defaults to ~/.veldt/data.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".veldt", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "veldt.db")

	// WAL mode for read concurrency during graph derivation.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrStoreUnavailable, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enabling foreign keys: %v", ErrStoreUnavailable, err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// CreateChunks inserts chunks with empty metadata fields.
func (s *SQLiteStore) CreateChunks(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, project_id, document_id, content, language) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.ProjectID, c.DocumentID, c.Content, c.Language); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunk returns one chunk by id.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (chunk.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, document_id, content, summary, domain, sub_domain, tags, language
		 FROM chunks WHERE id = ?`, id)

	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chunk.Chunk{}, fmt.Errorf("%w: chunk %s", ErrNotFound, id)
	}
	return c, err
}

// UpdateChunkMetadata overwrites the metadata fields of one chunk.
func (s *SQLiteStore) UpdateChunkMetadata(ctx context.Context, id string, meta ChunkMetadata) error {
	tags, err := json.Marshal(meta.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET summary = ?, domain = ?, sub_domain = ?, tags = ? WHERE id = ?`,
		meta.Summary, meta.Domain, meta.SubDomain, string(tags), id)
	if err != nil {
		return fmt.Errorf("updating chunk %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: chunk %s", ErrNotFound, id)
	}
	return nil
}

// InsertEntities bulk-inserts entity rows in one transaction.
func (s *SQLiteStore) InsertEntities(ctx context.Context, entities []ExtractedEntity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunk_entities (chunk_id, type, surface_name, normalized_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		if _, err := stmt.ExecContext(ctx, e.ChunkID, e.Type, e.SurfaceName, e.NormalizedID); err != nil {
			return fmt.Errorf("inserting entity %s/%s: %w", e.ChunkID, e.NormalizedID, err)
		}
	}
	return tx.Commit()
}

// InsertRelations bulk-inserts relation rows in one transaction.
func (s *SQLiteStore) InsertRelations(ctx context.Context, relations []ExtractedRelation) error {
	if len(relations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunk_relations (chunk_id, source_id, target_id, label) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range relations {
		if _, err := stmt.ExecContext(ctx, r.ChunkID, r.SourceNormalizedID, r.TargetNormalizedID, r.Label); err != nil {
			return fmt.Errorf("inserting relation %s: %w", r.ChunkID, err)
		}
	}
	return tx.Commit()
}

// DeleteChunkAnnotations removes all entity and relation rows for a chunk.
func (s *SQLiteStore) DeleteChunkAnnotations(ctx context.Context, chunkID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_entities WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("deleting entities for %s: %w", chunkID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_relations WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("deleting relations for %s: %w", chunkID, err)
	}
	return tx.Commit()
}

// ListChunks returns chunks in scope with their entity rows.
func (s *SQLiteStore) ListChunks(ctx context.Context, projectID, documentID string) ([]ChunkWithEntities, error) {
	query := `SELECT id, project_id, document_id, content, summary, domain, sub_domain, tags, language
	          FROM chunks WHERE project_id = ?`
	args := []any{projectID}
	if documentID != "" {
		query += ` AND document_id = ?`
		args = append(args, documentID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var result []ChunkWithEntities
	index := make(map[string]int)
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		index[c.ID] = len(result)
		result = append(result, ChunkWithEntities{Chunk: c})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	if len(result) == 0 {
		return result, nil
	}

	entityRows, err := s.db.QueryContext(ctx, `
		SELECT e.chunk_id, e.type, e.surface_name, e.normalized_id
		FROM chunk_entities e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE c.project_id = ?`+entityDocFilter(documentID), args...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer entityRows.Close()

	for entityRows.Next() {
		var e ExtractedEntity
		if err := entityRows.Scan(&e.ChunkID, &e.Type, &e.SurfaceName, &e.NormalizedID); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		if i, ok := index[e.ChunkID]; ok {
			result[i].Entities = append(result[i].Entities, e)
		}
	}
	if err := entityRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}

	return result, nil
}

func entityDocFilter(documentID string) string {
	if documentID != "" {
		return ` AND c.document_id = ?`
	}
	return ``
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (chunk.Chunk, error) {
	var (
		c    chunk.Chunk
		tags string
	)
	if err := row.Scan(&c.ID, &c.ProjectID, &c.DocumentID, &c.Content,
		&c.Summary, &c.Domain, &c.SubDomain, &tags, &c.Language); err != nil {
		return chunk.Chunk{}, err
	}
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return chunk.Chunk{}, fmt.Errorf("unmarshaling tags for %s: %w", c.ID, err)
	}
	return c, nil
}

var _ Store = (*SQLiteStore)(nil)
