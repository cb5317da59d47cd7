package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docchat/ingest/internal/config"
	"docchat/ingest/internal/embedding"
	"docchat/ingest/internal/ingest"
)

var (
	ErrPublishTimeout   = errors.New("timeout waiting for NSQ publish")
	ErrCredentialNeeded = errors.New("a credential is required to retry a job")
)

const publishTimeout = 5 * time.Second

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Record stores a failed queued run. The credential is stripped before
// anything is written.
func (s *Service) Record(ctx context.Context, documentID string, msg ingest.Message, handler string, cause error, retries int) error {
	payload, err := json.Marshal(msg.Redacted())
	if err != nil {
		return err
	}
	cred := embedding.NewCredential(msg.Credential)
	return s.repo.Save(ctx, &Job{
		DocumentID: documentID,
		OwnerID:    msg.OwnerID,
		Handler:    handler,
		Payload:    payload,
		Error:      cred.Redact(cause.Error()),
		Retries:    retries,
	})
}

// Retry re-queues a failed run with a freshly supplied credential and
// removes it from the ledger.
func (s *Service) Retry(ctx context.Context, id string, cred embedding.Credential) error {
	if cred.Empty() {
		return ErrCredentialNeeded
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	msg, err := ingest.DecodeMessage(job.Payload)
	if err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}
	msg.Credential = cred.Reveal()
	// Failed documents are claimed through resume; force is not implied.
	msg.Resume = false

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicIngestDocument, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(publishTimeout):
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "failed job re-queued", "job_id", id, "document_key", msg.DocumentKey)
	return s.repo.Delete(ctx, id)
}
