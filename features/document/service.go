package document

import (
	"context"
	"encoding/json"
	"fmt"

	"docchat/ingest/internal/config"
	"docchat/ingest/internal/ingest"
	"docchat/ingest/internal/store"
)

type Runner interface {
	Run(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type StatusReader interface {
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	CountChunks(ctx context.Context, documentID string) (int, error)
}

// Status is the progress view callers poll while a run is in flight.
type Status struct {
	ID              string       `json:"id"`
	Status          store.Status `json:"status"`
	FailureReason   *string      `json:"failure_reason"`
	PersistedChunks int          `json:"persisted_chunks"`
}

type Service struct {
	runner Runner
	reader StatusReader
	pub    EventPublisher
}

func NewService(runner Runner, reader StatusReader, pub EventPublisher) *Service {
	return &Service{runner: runner, reader: reader, pub: pub}
}

func (s *Service) Process(ctx context.Context, req ingest.Request) (*ingest.Result, error) {
	return s.runner.Run(ctx, req)
}

// Enqueue hands the run to the ingest workers.
func (s *Service) Enqueue(ctx context.Context, req ingest.Request, correlationID string) error {
	if s.pub == nil {
		return fmt.Errorf("async processing is not configured")
	}
	body, err := json.Marshal(ingest.NewMessage(req, correlationID))
	if err != nil {
		return err
	}
	return s.pub.Publish(config.TopicIngestDocument, body)
}

func (s *Service) Status(ctx context.Context, id string) (*Status, error) {
	d, err := s.reader.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	n, err := s.reader.CountChunks(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Status{ID: d.ID, Status: d.Status, FailureReason: d.FailureReason, PersistedChunks: n}, nil
}
