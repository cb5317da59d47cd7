// Package sqlite is a single-file Store used by local one-off runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"docchat/ingest/internal/adapter/sqlite/migrations"
	"docchat/ingest/internal/store"
)

// Store implements store.Store on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer keeps compare-and-set updates serialized.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the embedded migrations with golang-migrate. The
// database driver is not closed here since it owns s.db.
func (s *Store) migrate(fsys fs.FS) error {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	defer src.Close()

	driver, err := msqlite.WithInstance(s.db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}

// Register records an uploaded file, returning the existing record
// when the storage key is already known.
func (s *Store) Register(ctx context.Context, ownerID, storageKey, fileName string) (*store.Document, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, storage_key, file_name, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (storage_key) DO NOTHING`,
		uuid.NewString(), ownerID, storageKey, fileName, store.StatusUploaded, s.now().UnixMilli())
	if err != nil {
		return nil, store.Persistence("register document", err)
	}
	return s.GetDocumentByKey(ctx, storageKey)
}

const documentColumns = `id, owner_id, storage_key, file_name, status, failure_reason, heartbeat_at, updated_at`

func (s *Store) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	return s.getDocument(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
}

func (s *Store) GetDocumentByKey(ctx context.Context, storageKey string) (*store.Document, error) {
	return s.getDocument(ctx, `SELECT `+documentColumns+` FROM documents WHERE storage_key = ?`, storageKey)
}

func (s *Store) getDocument(ctx context.Context, query string, arg string) (*store.Document, error) {
	var (
		d         store.Document
		reason    sql.NullString
		heartbeat sql.NullInt64
		updated   int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&d.ID, &d.OwnerID, &d.StorageKey, &d.FileName, &d.Status, &reason, &heartbeat, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Persistence("get document", err)
	}
	if reason.Valid {
		d.FailureReason = &reason.String
	}
	if heartbeat.Valid {
		t := time.UnixMilli(heartbeat.Int64)
		d.HeartbeatAt = &t
	}
	d.UpdatedAt = time.UnixMilli(updated)
	return &d, nil
}

func (s *Store) SetDocumentStatus(ctx context.Context, id string, status store.Status, reason string) error {
	from := store.AllowedFrom(status)
	if len(from) == 0 {
		return &store.TransitionError{DocumentID: id, To: status}
	}

	now := s.now().UnixMilli()
	var (
		heartbeat any
		failure   any
	)
	if status == store.StatusProcessing {
		heartbeat = now
	}
	if status == store.StatusFailed {
		failure = reason
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []any{status, failure, heartbeat, now, id}
	for _, f := range from {
		args = append(args, f)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, failure_reason = ?, heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return store.Persistence("set document status", err)
	}
	return s.checkApplied(ctx, res, id, status)
}

func (s *Store) ResumeDocument(ctx context.Context, id string, staleBefore time.Time) error {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, failure_reason = NULL, heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND (status = ? OR (status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)))`,
		store.StatusProcessing, now, now, id, store.StatusFailed, store.StatusProcessing, staleBefore.UnixMilli())
	if err != nil {
		return store.Persistence("resume document", err)
	}
	return s.checkApplied(ctx, res, id, store.StatusProcessing)
}

func (s *Store) Heartbeat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET heartbeat_at = ? WHERE id = ? AND status = ?`,
		s.now().UnixMilli(), id, store.StatusProcessing)
	return store.Persistence("heartbeat", err)
}

func (s *Store) Release(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET heartbeat_at = NULL WHERE id = ? AND status = ?`,
		id, store.StatusProcessing)
	return store.Persistence("release", err)
}

// checkApplied turns a compare-and-set that matched no row into
// store.ErrNotFound or a *store.TransitionError.
func (s *Store) checkApplied(ctx context.Context, res sql.Result, id string, to store.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return store.Persistence("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	return &store.TransitionError{DocumentID: id, From: d.Status, To: to}
}

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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_chunks (id, document_id, user_id, sequence_index, content, embedding, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id, sequence_index) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			metadata = excluded.metadata`,
		id, chunk.DocumentID, chunk.OwnerID, chunk.SequenceIndex, chunk.Content,
		float32SliceToBytes(chunk.Embedding), string(metaJSON))
	return store.Persistence("upsert chunk", err)
}

func (s *Store) HighestPersistedIndex(ctx context.Context, documentID string) (int, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence_index FROM document_chunks WHERE document_id = ? ORDER BY sequence_index`, documentID)
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
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = ?`, documentID).Scan(&n)
	if err != nil {
		return 0, store.Persistence("count chunks", err)
	}
	return n, nil
}

// Chunks returns every persisted chunk of a document in index order.
func (s *Store) Chunks(ctx context.Context, documentID string) ([]store.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, sequence_index, content, embedding, metadata
		FROM document_chunks WHERE document_id = ? ORDER BY sequence_index`, documentID)
	if err != nil {
		return nil, store.Persistence("list chunks", err)
	}
	defer rows.Close()

	var out []store.Chunk
	for rows.Next() {
		var (
			c        store.Chunk
			blob     []byte
			metaJSON string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.OwnerID, &c.SequenceIndex, &c.Content, &blob, &metaJSON); err != nil {
			return nil, store.Persistence("scan chunk", err)
		}
		c.Embedding = bytesToFloat32Slice(blob)
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			return nil, store.Persistence("decode chunk metadata", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
