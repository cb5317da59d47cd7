package document

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"docchat/ingest/internal/store"
)

// PostgresRepo is the DocumentStore backed by the documents table. Status
// changes are compare-and-set updates guarded by the expected prior
// statuses.
type PostgresRepo struct {
	db *sql.DB
}

var _ store.DocumentStore = (*PostgresRepo)(nil)

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const selectDocument = `SELECT id, owner_id, storage_key, file_name, status, failure_reason, heartbeat_at, updated_at FROM documents`

// Register records an uploaded file. An existing storage key returns the
// stored document unchanged.
func (r *PostgresRepo) Register(ctx context.Context, ownerID, storageKey, fileName string) (*store.Document, error) {
	query := `INSERT INTO documents (owner_id, storage_key, file_name) VALUES ($1, $2, $3) ON CONFLICT (storage_key) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, ownerID, storageKey, fileName); err != nil {
		return nil, store.Persistence("register document", err)
	}
	return r.GetDocumentByKey(ctx, storageKey)
}

// GetDocument reads a document by id. An id that is not a uuid cannot
// exist and is reported as store.ErrNotFound.
func (r *PostgresRepo) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}
	return r.get(ctx, selectDocument+` WHERE id = $1`, id)
}

func (r *PostgresRepo) GetDocumentByKey(ctx context.Context, storageKey string) (*store.Document, error) {
	return r.get(ctx, selectDocument+` WHERE storage_key = $1`, storageKey)
}

func (r *PostgresRepo) get(ctx context.Context, query, arg string) (*store.Document, error) {
	var (
		d         store.Document
		reason    sql.NullString
		heartbeat sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&d.ID, &d.OwnerID, &d.StorageKey, &d.FileName, &d.Status, &reason, &heartbeat, &d.UpdatedAt)
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
		d.HeartbeatAt = &heartbeat.Time
	}
	return &d, nil
}

func (r *PostgresRepo) SetDocumentStatus(ctx context.Context, id string, status store.Status, reason string) error {
	from := store.AllowedFrom(status)
	if len(from) == 0 {
		return &store.TransitionError{DocumentID: id, To: status}
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	var failure sql.NullString
	if status == store.StatusFailed {
		failure = sql.NullString{String: reason, Valid: true}
	}

	query := `UPDATE documents SET status = $1, failure_reason = $2,
		heartbeat_at = CASE WHEN $1 = 'processing' THEN NOW() ELSE NULL END,
		updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)`
	res, err := r.db.ExecContext(ctx, query, string(status), failure, id, pq.Array(allowed))
	if err != nil {
		return store.Persistence("set document status", err)
	}
	return r.checkApplied(ctx, res, id, status)
}

func (r *PostgresRepo) ResumeDocument(ctx context.Context, id string, staleBefore time.Time) error {
	query := `UPDATE documents SET status = 'processing', failure_reason = NULL, heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND (status = 'failed'
			OR (status = 'processing' AND (heartbeat_at IS NULL OR heartbeat_at < $2)))`
	res, err := r.db.ExecContext(ctx, query, id, staleBefore)
	if err != nil {
		return store.Persistence("resume document", err)
	}
	return r.checkApplied(ctx, res, id, store.StatusProcessing)
}

func (r *PostgresRepo) Heartbeat(ctx context.Context, id string) error {
	query := `UPDATE documents SET heartbeat_at = NOW() WHERE id = $1 AND status = 'processing'`
	_, err := r.db.ExecContext(ctx, query, id)
	return store.Persistence("heartbeat", err)
}

func (r *PostgresRepo) Release(ctx context.Context, id string) error {
	query := `UPDATE documents SET heartbeat_at = NULL WHERE id = $1 AND status = 'processing'`
	_, err := r.db.ExecContext(ctx, query, id)
	return store.Persistence("release", err)
}

// checkApplied turns an update that matched no row into store.ErrNotFound
// or a *store.TransitionError carrying the current status.
func (r *PostgresRepo) checkApplied(ctx context.Context, res sql.Result, id string, to store.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return store.Persistence("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	d, err := r.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	return &store.TransitionError{DocumentID: id, From: d.Status, To: to}
}

// CountByStatus returns the number of documents in each status. Statuses
// with no documents are absent.
func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[store.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, store.Persistence("count documents", err)
	}
	defer rows.Close()

	counts := make(map[store.Status]int)
	for rows.Next() {
		var (
			status store.Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, store.Persistence("scan document count", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("count documents", err)
	}
	return counts, nil
}
