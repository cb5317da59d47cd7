package job

import (
	"encoding/json"
	"time"
)

// Job is a queued ingestion run that ended in a terminal error. The
// payload is the redacted queue message: it never holds a credential, so
// a retry must supply a fresh one.
type Job struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	OwnerID    string          `json:"owner_id"`
	Handler    string          `json:"handler"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Retries    int             `json:"retries"`
	CreatedAt  time.Time       `json:"created_at"`
}
