package ingest

import (
	"errors"
	"fmt"

	"docchat/ingest/internal/blob"
	"docchat/ingest/internal/embedding"
	"docchat/ingest/internal/extract"
	"docchat/ingest/internal/store"
)

var (
	// ErrUnauthorized is the AuthorizationError: the caller does not own
	// the document.
	ErrUnauthorized = errors.New("caller does not own the document")
	// ErrRunInProgress rejects a second run while another one holds the
	// document lease.
	ErrRunInProgress = errors.New("document is already being processed")
	// ErrCanceled reports a run stopped by its context. The document stays
	// in processing and can be resumed.
	ErrCanceled = errors.New("ingestion canceled")
)

// FailedError is returned when a run ended by moving the document to
// failed. Reason is the message persisted on the document.
type FailedError struct {
	DocumentID string
	Reason     string
	Err        error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("document %s failed: %s", e.DocumentID, e.Reason)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

// SafeReason maps a terminal error to a fixed message that is safe to show
// to callers and store on the document. It never echoes provider output.
func SafeReason(err error, cred embedding.Credential) string {
	return cred.Redact(reason(err))
}

func reason(err error) string {
	var (
		perr *embedding.Error
		xerr *extract.Error
		serr *store.PersistenceError
	)
	switch {
	case errors.As(err, &perr):
		switch perr.Kind {
		case embedding.KindInvalidCredential:
			return "embedding provider rejected the credential"
		case embedding.KindRateLimited:
			return "embedding provider rate limit persisted after retries"
		case embedding.KindTimeout:
			return "embedding provider timed out after retries"
		case embedding.KindTransient:
			return "embedding provider unavailable after retries"
		case embedding.KindInvalidRequest:
			return "embedding provider rejected the request"
		case embedding.KindMalformedResponse:
			return "embedding provider returned a malformed response"
		}
	case errors.As(err, &xerr):
		switch {
		case errors.Is(err, extract.ErrUnsupported):
			return "unsupported document format"
		case errors.Is(err, extract.ErrNoText):
			return "document contains no extractable text"
		}
		return "document could not be read"
	case errors.As(err, &serr):
		return "failed to persist document chunks"
	case errors.Is(err, blob.ErrNotFound):
		return "document content not found"
	}
	return "ingestion failed"
}
