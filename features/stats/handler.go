package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"docchat/ingest/internal/middleware"
	"docchat/ingest/internal/store"
)

type DocumentRepo interface {
	CountByStatus(ctx context.Context) (map[store.Status]int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	documentRepo DocumentRepo
	jobRepo      JobRepo
}

func NewHandler(d DocumentRepo, j JobRepo) *Handler {
	return &Handler{documentRepo: d, jobRepo: j}
}

type StatsResponse struct {
	Documents  map[store.Status]int `json:"documents"`
	Total      int                  `json:"total"`
	FailedJobs int                  `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slog.InfoContext(ctx, "getting stats")

	counts, err := h.documentRepo.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Documents:  make(map[store.Status]int, len(store.Statuses)),
		FailedJobs: jCount,
	}
	for _, s := range store.Statuses {
		resp.Documents[s] = counts[s]
		resp.Total += counts[s]
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{
		"error":         message,
		"code":          code,
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
