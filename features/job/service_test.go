package job

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/ingest/internal/config"
	"docchat/ingest/internal/embedding"
	"docchat/ingest/internal/ingest"
)

type stubPublisher struct {
	sleep     time.Duration
	lastTopic string
	lastBody  []byte
}

func (p *stubPublisher) Publish(topic string, body []byte) error {
	time.Sleep(p.sleep)
	p.lastTopic, p.lastBody = topic, body
	return nil
}

type stubRepo struct {
	Repository
	job     *Job
	saved   *Job
	deleted string
}

func (r *stubRepo) Get(ctx context.Context, id string) (*Job, error) { return r.job, nil }
func (r *stubRepo) Delete(ctx context.Context, id string) error      { r.deleted = id; return nil }
func (r *stubRepo) Count(ctx context.Context) (int, error)           { return 10, nil }
func (r *stubRepo) Save(ctx context.Context, j *Job) error           { r.saved = j; return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_Record_StripsCredential(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, quietLogger())

	msg := ingest.Message{DocumentKey: "user-1/report.pdf", OwnerID: "user-1", Credential: "sk-secret"}
	err := svc.Record(context.Background(), "doc-1", msg, "DocumentConsumer", errors.New("provider said sk-secret is invalid"), 3)
	require.NoError(t, err)

	require.NotNil(t, repo.saved)
	assert.Equal(t, "doc-1", repo.saved.DocumentID)
	assert.Equal(t, 3, repo.saved.Retries)
	assert.NotContains(t, string(repo.saved.Payload), "sk-secret")
	assert.NotContains(t, repo.saved.Error, "sk-secret")

	var stored ingest.Message
	require.NoError(t, json.Unmarshal(repo.saved.Payload, &stored))
	assert.Equal(t, "user-1/report.pdf", stored.DocumentKey)
}

func TestService_Retry(t *testing.T) {
	repo := &stubRepo{job: &Job{ID: "job-1", Payload: []byte(`{"documentKey":"k","ownerId":"u","resume":true}`)}}
	pub := &stubPublisher{}
	svc := NewService(repo, pub, quietLogger())

	require.NoError(t, svc.Retry(context.Background(), "job-1", embedding.NewCredential("sk-new")))
	assert.Equal(t, config.TopicIngestDocument, pub.lastTopic)
	assert.Equal(t, "job-1", repo.deleted)

	msg, err := ingest.DecodeMessage(pub.lastBody)
	require.NoError(t, err)
	assert.Equal(t, "sk-new", msg.Credential)
	assert.False(t, msg.Resume)
}

func TestService_Retry_RequiresCredential(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubPublisher{}, quietLogger())
	err := svc.Retry(context.Background(), "job-1", embedding.Credential{})
	assert.ErrorIs(t, err, ErrCredentialNeeded)
}

func TestService_Retry_InvalidPayload(t *testing.T) {
	repo := &stubRepo{job: &Job{ID: "job-1", Payload: []byte(`{"url":"http://example.com"}`)}}
	svc := NewService(repo, &stubPublisher{}, quietLogger())

	err := svc.Retry(context.Background(), "job-1", embedding.NewCredential("sk-new"))
	assert.ErrorIs(t, err, ingest.ErrInvalidMessage)
	assert.Empty(t, repo.deleted)
}

func TestService_Retry_CanceledContext(t *testing.T) {
	repo := &stubRepo{job: &Job{ID: "job-1", Payload: []byte(`{"documentKey":"k","ownerId":"u"}`)}}
	svc := NewService(repo, &stubPublisher{sleep: time.Second}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := svc.Retry(ctx, "job-1", embedding.NewCredential("sk-new"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, repo.deleted)
}

func TestService_Count(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, quietLogger())
	n, err := svc.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}
