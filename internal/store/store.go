// Package store defines the ingestion data model and the persistence
// contracts the pipeline depends on.
package store

import (
	"context"
	"time"
)

type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetDocumentByKey(ctx context.Context, storageKey string) (*Document, error)
	// SetDocumentStatus applies a forward transition as a compare-and-set
	// against AllowedFrom(status). Anything else yields a *TransitionError.
	SetDocumentStatus(ctx context.Context, id string, status Status, reason string) error
	// ResumeDocument claims a failed document, or a processing document
	// whose lease was released or last heartbeat is older than staleBefore,
	// and moves it to processing.
	ResumeDocument(ctx context.Context, id string, staleBefore time.Time) error
	Heartbeat(ctx context.Context, id string) error
	// Release drops the run lease of a processing document without
	// changing its status.
	Release(ctx context.Context, id string) error
}

type ChunkStore interface {
	// UpsertChunk writes the chunk keyed by (DocumentID, SequenceIndex),
	// replacing any previous record at that position.
	UpsertChunk(ctx context.Context, chunk Chunk) error
	// HighestPersistedIndex returns the last index of the contiguous
	// persisted prefix [0, k]; ok is false when index 0 is absent.
	HighestPersistedIndex(ctx context.Context, documentID string) (index int, ok bool, err error)
	CountChunks(ctx context.Context, documentID string) (int, error)
}

type Store interface {
	DocumentStore
	ChunkStore
}

// Composite joins a document store and a chunk store living in different
// backends.
type Composite struct {
	DocumentStore
	ChunkStore
}
