package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"docchat/ingest/internal/ingest"
	"docchat/ingest/internal/middleware"
	"docchat/ingest/internal/store"
)

const handlerName = "DocumentConsumer"

// defaultTouchEvery keeps messages alive under nsqd's default 60s
// msg_timeout while a long document is being embedded.
const defaultTouchEvery = 30 * time.Second

type Runner interface {
	Run(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// FailureRecorder stores runs that will not succeed by redelivery.
type FailureRecorder interface {
	Record(ctx context.Context, documentID string, msg ingest.Message, handler string, cause error, retries int) error
}

// DocumentConsumer runs the ingestion pipeline for messages published on
// config.TopicIngestDocument.
type DocumentConsumer struct {
	base       context.Context
	runner     Runner
	failures   FailureRecorder
	touchEvery time.Duration
}

// NewDocumentConsumer returns a consumer whose runs are canceled when base
// is done.
func NewDocumentConsumer(base context.Context, r Runner, f FailureRecorder) *DocumentConsumer {
	if base == nil {
		base = context.Background()
	}
	return &DocumentConsumer{
		base:       base,
		runner:     r,
		failures:   f,
		touchEvery: defaultTouchEvery,
	}
}

// HandleMessage returns an error only when redelivery can help: the run was
// canceled, another run holds the lease, or infrastructure was unreachable.
// Terminal outcomes are recorded and acknowledged.
func (h *DocumentConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	msg, err := ingest.DecodeMessage(m.Body)

	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(h.base, correlationID)

	if err != nil {
		// Poison pill
		slog.ErrorContext(ctx, "invalid ingest message, dropping", "error", err)
		return nil
	}

	stopTouch := h.keepInFlight(ctx, m)
	res, err := h.runner.Run(ctx, msg.Request())
	stopTouch()

	documentID := ""
	if res != nil {
		documentID = res.DocumentID
	}

	var failed *ingest.FailedError
	switch {
	case err == nil:
		slog.InfoContext(ctx, "document message handled", "document_id", documentID, "noop", res.NoOp, "embedded", res.Embedded)
		return nil

	case errors.Is(err, ingest.ErrCanceled), errors.Is(err, ingest.ErrRunInProgress):
		slog.WarnContext(ctx, "document run deferred, requeueing", "document_key", msg.DocumentKey, "attempts", m.Attempts, "error", err)
		return err

	case errors.As(err, &failed):
		documentID = failed.DocumentID

	case errors.Is(err, store.ErrNotFound), errors.Is(err, ingest.ErrUnauthorized):

	default:
		slog.ErrorContext(ctx, "document run errored, requeueing", "document_key", msg.DocumentKey, "attempts", m.Attempts, "error", err)
		return err
	}

	h.record(ctx, documentID, msg, err, int(m.Attempts))
	return nil
}

// LogFailedMessage is called by go-nsq when a message exceeds the
// consumer's max attempts.
func (h *DocumentConsumer) LogFailedMessage(m *nsq.Message) {
	msg, err := ingest.DecodeMessage(m.Body)
	if err != nil {
		return
	}
	ctx := middleware.WithCorrelationID(context.WithoutCancel(h.base), msg.CorrelationID)
	h.record(ctx, "", msg, errors.New("max delivery attempts exceeded"), int(m.Attempts))
}

func (h *DocumentConsumer) record(ctx context.Context, documentID string, msg ingest.Message, cause error, attempts int) {
	slog.ErrorContext(ctx, "document run failed", "document_id", documentID, "document_key", msg.DocumentKey, "attempts", attempts)
	if h.failures == nil {
		return
	}
	if err := h.failures.Record(context.WithoutCancel(ctx), documentID, msg, handlerName, cause, attempts); err != nil {
		slog.ErrorContext(ctx, "failed to record failed job", "document_key", msg.DocumentKey, "error", err)
	}
}

// keepInFlight touches m until the returned func is called.
func (h *DocumentConsumer) keepInFlight(ctx context.Context, m *nsq.Message) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(h.touchEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Touch()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
