package job_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docchat/ingest/features/job"
	"docchat/ingest/internal/config"
	"docchat/ingest/internal/ingest"
)

// MockRepo implements job.Repository
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockRepo) List(ctx context.Context) ([]job.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]job.Job), args.Error(1)
}
func (m *MockRepo) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}
func (m *MockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

func TestHandler_List(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("List", mock.Anything).Return([]job.Job{{ID: "1", DocumentID: "doc-1"}}, nil)

	req := httptest.NewRequest("GET", "/jobs/failed", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []job.Job     `json:"data"`
		Meta map[string]int `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 1, body.Meta["count"])
	assert.Equal(t, "doc-1", body.Data[0].DocumentID)
}

func TestHandler_List_Error(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("List", mock.Anything).Return(nil, errors.New("db down"))

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/jobs/failed", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestHandler_Retry_NotFound(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, new(MockPublisher), slog.Default()))

	mockRepo.On("Get", mock.Anything, "99").Return(nil, sql.ErrNoRows)

	req := httptest.NewRequest("POST", "/jobs/99/retry", strings.NewReader(`{"embeddingCredential":"sk-new"}`))
	req.SetPathValue("id", "99")
	w := httptest.NewRecorder()
	handler.Retry(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Retry_RequiresCredential(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, new(MockPublisher), slog.Default()))

	req := httptest.NewRequest("POST", "/jobs/1/retry", nil)
	req.SetPathValue("id", "1")
	w := httptest.NewRecorder()
	handler.Retry(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockRepo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestHandler_Retry(t *testing.T) {
	mockRepo := new(MockRepo)
	mockPub := new(MockPublisher)
	handler := job.NewHandler(job.NewService(mockRepo, mockPub, slog.Default()))

	jobID := "job-123"
	j := &job.Job{
		ID:      jobID,
		Payload: []byte(`{"documentKey":"user-1/report.pdf","ownerId":"user-1"}`),
	}

	mockRepo.On("Get", mock.Anything, jobID).Return(j, nil)
	mockPub.On("Publish", config.TopicIngestDocument, mock.MatchedBy(func(body []byte) bool {
		msg, err := ingest.DecodeMessage(body)
		return err == nil && msg.Credential == "sk-new" && msg.DocumentKey == "user-1/report.pdf"
	})).Return(nil)
	mockRepo.On("Delete", mock.Anything, jobID).Return(nil)

	req := httptest.NewRequest("POST", "/jobs/"+jobID+"/retry", strings.NewReader(`{"embeddingCredential":"sk-new"}`))
	req.SetPathValue("id", jobID)
	w := httptest.NewRecorder()
	handler.Retry(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockRepo.AssertExpectations(t)
	mockPub.AssertExpectations(t)
}
