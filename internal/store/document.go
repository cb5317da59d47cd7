package store

import "time"

type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusUploaded, StatusProcessing, StatusProcessed, StatusFailed}

// Document is the unit of ingestion. It is created by the upload flow in
// StatusUploaded and moved forward only by the pipeline.
type Document struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	StorageKey    string     `json:"storage_key"`
	FileName      string     `json:"file_name"`
	Status        Status     `json:"status"`
	FailureReason *string    `json:"failure_reason"`
	HeartbeatAt   *time.Time `json:"-"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// transitions lists, per target status, the statuses SetDocumentStatus may
// move from. Re-entering processing from failed or from a stalled run is
// only possible through ResumeDocument.
var transitions = map[Status][]Status{
	StatusProcessing: {StatusUploaded},
	StatusProcessed:  {StatusProcessing},
	StatusFailed:     {StatusProcessing},
}

// AllowedFrom returns the statuses a document may be in for SetDocumentStatus
// to move it to target.
func AllowedFrom(target Status) []Status {
	return transitions[target]
}

// CanTransition reports whether SetDocumentStatus may move from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Resumable reports whether ResumeDocument may claim a document in the given
// state. A processing document is resumable only once its run has released
// the lease or stopped heart-beating before staleBefore.
func Resumable(d *Document, staleBefore time.Time) bool {
	switch d.Status {
	case StatusFailed:
		return true
	case StatusProcessing:
		return d.HeartbeatAt == nil || d.HeartbeatAt.Before(staleBefore)
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}
