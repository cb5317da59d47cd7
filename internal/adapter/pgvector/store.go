// Package pgvector stores embedded chunks in Postgres using the pgvector
// extension.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"docchat/ingest/internal/store"

	"github.com/pgvector/pgvector-go"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const upsertChunkQuery = `
INSERT INTO document_chunks (id, document_id, user_id, sequence_index, content, embedding, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (document_id, sequence_index) DO UPDATE SET
    content = EXCLUDED.content,
    embedding = EXCLUDED.embedding,
    metadata = EXCLUDED.metadata,
    updated_at = NOW()`

func (s *Store) UpsertChunk(ctx context.Context, chunk store.Chunk) error {
	id := chunk.ID
	if id == "" {
		id = store.ChunkID(chunk.DocumentID, chunk.SequenceIndex)
	}

	meta := chunk.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return store.Persistence("encode chunk metadata", err)
	}

	_, err = s.db.ExecContext(ctx, upsertChunkQuery,
		id, chunk.DocumentID, chunk.OwnerID, chunk.SequenceIndex, chunk.Content,
		pgvector.NewVector(chunk.Embedding), metaJSON)
	return store.Persistence("upsert chunk", err)
}

func (s *Store) HighestPersistedIndex(ctx context.Context, documentID string) (int, bool, error) {
	query := `SELECT sequence_index FROM document_chunks WHERE document_id = $1 ORDER BY sequence_index`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return 0, false, store.Persistence("list chunk indices", err)
	}
	defer rows.Close()

	var indices []int
	for rows.Next() {
		var i int
		if err := rows.Scan(&i); err != nil {
			return 0, false, store.Persistence("scan chunk index", err)
		}
		indices = append(indices, i)
	}
	if err := rows.Err(); err != nil {
		return 0, false, store.Persistence("list chunk indices", err)
	}

	k := store.ContiguousPrefix(indices)
	return k, k >= 0, nil
}

func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM document_chunks WHERE document_id = $1`
	if err := s.db.QueryRowContext(ctx, query, documentID).Scan(&count); err != nil {
		return 0, store.Persistence("count chunks", err)
	}
	return count, nil
}

// GetChunk reads back the chunk persisted at index, or store.ErrNotFound.
func (s *Store) GetChunk(ctx context.Context, documentID string, index int) (*store.Chunk, error) {
	query := `SELECT id, document_id, user_id, sequence_index, content, embedding, metadata
		FROM document_chunks WHERE document_id = $1 AND sequence_index = $2`

	var (
		c        store.Chunk
		vec      pgvector.Vector
		metaJSON []byte
	)
	err := s.db.QueryRowContext(ctx, query, documentID, index).
		Scan(&c.ID, &c.DocumentID, &c.OwnerID, &c.SequenceIndex, &c.Content, &vec, &metaJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Persistence("get chunk", err)
	}
	c.Embedding = vec.Slice()
	if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
		return nil, store.Persistence("decode chunk metadata", err)
	}
	return &c, nil
}
