package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docchat/ingest/internal/embedding"
	"docchat/ingest/internal/ingest"
	"docchat/ingest/internal/middleware"
	"docchat/ingest/internal/store"
)

type MockRunner struct{ mock.Mock }

func (m *MockRunner) Run(ctx context.Context, req ingest.Request) (*ingest.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*ingest.Result)
	return res, args.Error(1)
}

type MockRecorder struct{ mock.Mock }

func (m *MockRecorder) Record(ctx context.Context, documentID string, msg ingest.Message, handler string, cause error, retries int) error {
	args := m.Called(ctx, documentID, msg, handler, cause, retries)
	return args.Error(0)
}

type touchCounter struct{ touches atomic.Int32 }

func (d *touchCounter) OnFinish(*nsq.Message)                        {}
func (d *touchCounter) OnRequeue(*nsq.Message, time.Duration, bool) {}
func (d *touchCounter) OnTouch(*nsq.Message)                         { d.touches.Add(1) }

func newMessage(t *testing.T, msg ingest.Message) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	m := nsq.NewMessage(nsq.MessageID{}, body)
	m.Attempts = 1
	m.Delegate = &touchCounter{}
	return m
}

var sample = ingest.Message{
	DocumentKey:   "user-1/report.pdf",
	OwnerID:       "user-1",
	Credential:    "sk-live",
	CorrelationID: "corr-1",
}

func TestDocumentConsumer_Success(t *testing.T) {
	runner := new(MockRunner)
	recorder := new(MockRecorder)
	c := NewDocumentConsumer(context.Background(), runner, recorder)

	runner.On("Run", mock.MatchedBy(func(ctx context.Context) bool {
		return middleware.GetCorrelationID(ctx) == "corr-1"
	}), mock.MatchedBy(func(req ingest.Request) bool {
		return req.DocumentKey == sample.DocumentKey && req.Credential.Reveal() == "sk-live"
	})).Return(&ingest.Result{DocumentID: "doc-1", Chunks: 3, Embedded: 3}, nil)

	assert.NoError(t, c.HandleMessage(newMessage(t, sample)))
	runner.AssertExpectations(t)
	recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDocumentConsumer_PoisonPill(t *testing.T) {
	runner := new(MockRunner)
	c := NewDocumentConsumer(context.Background(), runner, nil)

	assert.NoError(t, c.HandleMessage(&nsq.Message{Body: []byte("invalid json")}))
	assert.NoError(t, c.HandleMessage(&nsq.Message{Body: []byte(`{"ownerId":"user-1"}`)}))
	assert.NoError(t, c.HandleMessage(&nsq.Message{}))
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestDocumentConsumer_Requeue(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"canceled", fmt.Errorf("%w: %w", ingest.ErrCanceled, context.Canceled)},
		{"in progress", fmt.Errorf("%w: doc-1", ingest.ErrRunInProgress)},
		{"infrastructure", errors.New("dial tcp: connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(MockRunner)
			recorder := new(MockRecorder)
			c := NewDocumentConsumer(context.Background(), runner, recorder)

			runner.On("Run", mock.Anything, mock.Anything).Return(nil, tt.err)

			err := c.HandleMessage(newMessage(t, sample))
			assert.ErrorIs(t, err, tt.err)
			recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDocumentConsumer_TerminalOutcomesAreRecorded(t *testing.T) {
	failed := &ingest.FailedError{
		DocumentID: "doc-1",
		Reason:     "embedding provider rejected the credential",
		Err:        &embedding.Error{Provider: "openai", Kind: embedding.KindInvalidCredential},
	}

	tests := []struct {
		name       string
		err        error
		documentID string
	}{
		{"failed", failed, "doc-1"},
		{"not found", fmt.Errorf("lookup document: %w", store.ErrNotFound), ""},
		{"not owner", ingest.ErrUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(MockRunner)
			recorder := new(MockRecorder)
			c := NewDocumentConsumer(context.Background(), runner, recorder)

			runner.On("Run", mock.Anything, mock.Anything).Return(nil, tt.err)
			recorder.On("Record", mock.Anything, tt.documentID, sample, handlerName, tt.err, 1).Return(nil)

			assert.NoError(t, c.HandleMessage(newMessage(t, sample)))
			recorder.AssertExpectations(t)
		})
	}
}

func TestDocumentConsumer_RecordErrorStillAcks(t *testing.T) {
	runner := new(MockRunner)
	recorder := new(MockRecorder)
	c := NewDocumentConsumer(context.Background(), runner, recorder)

	runner.On("Run", mock.Anything, mock.Anything).Return(nil, ingest.ErrUnauthorized)
	recorder.On("Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))

	assert.NoError(t, c.HandleMessage(newMessage(t, sample)))
}

func TestDocumentConsumer_LogFailedMessage(t *testing.T) {
	recorder := new(MockRecorder)
	c := NewDocumentConsumer(context.Background(), new(MockRunner), recorder)

	m := newMessage(t, sample)
	m.Attempts = 5
	recorder.On("Record", mock.Anything, "", sample, handlerName, mock.Anything, 5).Return(nil)

	c.LogFailedMessage(m)
	recorder.AssertExpectations(t)
}

func TestDocumentConsumer_TouchesLongRuns(t *testing.T) {
	runner := new(MockRunner)
	c := NewDocumentConsumer(context.Background(), runner, nil)
	c.touchEvery = 5 * time.Millisecond

	runner.On("Run", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(50 * time.Millisecond) }).
		Return(&ingest.Result{DocumentID: "doc-1"}, nil)

	m := newMessage(t, sample)
	require.NoError(t, c.HandleMessage(m))
	assert.Greater(t, m.Delegate.(*touchCounter).touches.Load(), int32(0))
}

func TestDocumentConsumer_BaseContextCancelsRun(t *testing.T) {
	runner := new(MockRunner)
	base, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewDocumentConsumer(base, runner, nil)

	runner.On("Run", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() != nil
	}), mock.Anything).Return(nil, fmt.Errorf("%w: %w", ingest.ErrCanceled, context.Canceled))

	assert.ErrorIs(t, c.HandleMessage(newMessage(t, sample)), ingest.ErrCanceled)
	runner.AssertExpectations(t)
}
