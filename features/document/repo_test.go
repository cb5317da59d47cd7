package document_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/ingest/features/document"
	"docchat/ingest/internal/store"
)

const docID = "6f1c2b8e-3d4a-4c5b-9e7f-1a2b3c4d5e6f"

var documentColumns = []string{"id", "owner_id", "storage_key", "file_name", "status", "failure_reason", "heartbeat_at", "updated_at"}

func documentRow(status store.Status, reason interface{}, heartbeat interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(documentColumns).
		AddRow(docID, "user-1", "user-1/report.pdf", "report.pdf", string(status), reason, heartbeat, time.Now())
}

func TestPostgresRepo_GetDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := document.NewPostgresRepo(db)

	t.Run("Found", func(t *testing.T) {
		hb := time.Now().Add(-time.Minute)
		mock.ExpectQuery("SELECT id, owner_id, storage_key, file_name, status, failure_reason, heartbeat_at, updated_at FROM documents WHERE id = \\$1").
			WithArgs(docID).
			WillReturnRows(documentRow(store.StatusFailed, "document could not be read", hb))

		d, err := repo.GetDocument(context.Background(), docID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusFailed, d.Status)
		require.NotNil(t, d.FailureReason)
		assert.Equal(t, "document could not be read", *d.FailureReason)
		require.NotNil(t, d.HeartbeatAt)
		assert.True(t, d.HeartbeatAt.Equal(hb))
	})

	t.Run("MalformedID", func(t *testing.T) {
		// No query is issued; postgres would reject the uuid cast.
		_, err := repo.GetDocument(context.Background(), "not-a-uuid")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ByKeyNotFound", func(t *testing.T) {
		mock.ExpectQuery("FROM documents WHERE storage_key = \\$1").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetDocumentByKey(context.Background(), "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Register(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO documents \\(owner_id, storage_key, file_name\\) VALUES \\(\\$1, \\$2, \\$3\\) ON CONFLICT \\(storage_key\\) DO NOTHING").
		WithArgs("user-1", "user-1/report.pdf", "report.pdf").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("WHERE storage_key = \\$1").
		WithArgs("user-1/report.pdf").
		WillReturnRows(documentRow(store.StatusUploaded, nil, nil))

	d, err := document.NewPostgresRepo(db).Register(context.Background(), "user-1", "user-1/report.pdf", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, docID, d.ID)
	assert.Nil(t, d.HeartbeatAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SetDocumentStatus(t *testing.T) {
	t.Run("Applied", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("UPDATE documents SET status = \\$1, failure_reason = \\$2").
			WithArgs("failed", "embedding provider rejected the credential", docID, pq.Array([]string{"processing"})).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err = document.NewPostgresRepo(db).SetDocumentStatus(context.Background(), docID, store.StatusFailed, "embedding provider rejected the credential")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ReasonOnlyOnFailure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("UPDATE documents SET status").
			WithArgs("processing", nil, docID, pq.Array([]string{"uploaded"})).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err = document.NewPostgresRepo(db).SetDocumentStatus(context.Background(), docID, store.StatusProcessing, "ignored")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("IllegalTransition", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("UPDATE documents SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM documents WHERE id = \\$1").
			WithArgs(docID).
			WillReturnRows(documentRow(store.StatusProcessed, nil, nil))

		err = document.NewPostgresRepo(db).SetDocumentStatus(context.Background(), docID, store.StatusProcessing, "")
		var terr *store.TransitionError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, store.StatusProcessed, terr.From)
		assert.Equal(t, store.StatusProcessing, terr.To)
	})

	t.Run("NoSourceStatus", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		err = document.NewPostgresRepo(db).SetDocumentStatus(context.Background(), docID, store.StatusUploaded, "")
		var terr *store.TransitionError
		assert.ErrorAs(t, err, &terr)
	})
}

func TestPostgresRepo_ResumeDocument(t *testing.T) {
	staleBefore := time.Now().Add(-15 * time.Minute)

	t.Run("Claimed", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("UPDATE documents SET status = 'processing'.*heartbeat_at < \\$2").
			WithArgs(docID, staleBefore).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, document.NewPostgresRepo(db).ResumeDocument(context.Background(), docID, staleBefore))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("LiveLease", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("UPDATE documents SET status = 'processing'").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM documents WHERE id = \\$1").
			WillReturnRows(documentRow(store.StatusProcessing, nil, time.Now()))

		err = document.NewPostgresRepo(db).ResumeDocument(context.Background(), docID, staleBefore)
		var terr *store.TransitionError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, store.StatusProcessing, terr.From)
	})

	t.Run("Missing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("UPDATE documents").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM documents WHERE id = \\$1").WillReturnError(sql.ErrNoRows)

		err = document.NewPostgresRepo(db).ResumeDocument(context.Background(), docID, staleBefore)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestPostgresRepo_Lease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := document.NewPostgresRepo(db)

	mock.ExpectExec("UPDATE documents SET heartbeat_at = NOW\\(\\) WHERE id = \\$1 AND status = 'processing'").
		WithArgs(docID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE documents SET heartbeat_at = NULL WHERE id = \\$1 AND status = 'processing'").
		WithArgs(docID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Heartbeat(context.Background(), docID))
	assert.NoError(t, repo.Release(context.Background(), docID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CountByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT status, COUNT\\(\\*\\) FROM documents GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("uploaded", 2).
			AddRow("processed", 7))

	counts, err := document.NewPostgresRepo(db).CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[store.Status]int{store.StatusUploaded: 2, store.StatusProcessed: 7}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
