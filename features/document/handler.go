package document

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"docchat/ingest/internal/embedding"
	"docchat/ingest/internal/ingest"
	"docchat/ingest/internal/middleware"
	"docchat/ingest/internal/store"
)

type Handler struct {
	service *Service
	uploads *UploadService
	// maxUpload caps multipart upload bodies in bytes.
	maxUpload int64
}

// NewHandler returns the document handler. uploads may be nil when files
// are written by another service.
func NewHandler(service *Service, uploads *UploadService) *Handler {
	return &Handler{service: service, uploads: uploads, maxUpload: 50 << 20}
}

// Upload accepts a multipart form with "file" and "ownerId" and registers
// the file as an uploaded document.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads == nil {
		h.writeError(ctx, w, "NOT_FOUND", "Uploads are not enabled", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(ctx, w, "BAD_REQUEST", "File too large or malformed form", http.StatusBadRequest)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(ctx, w, "BAD_REQUEST", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	doc, err := h.uploads.Upload(ctx, r.FormValue("ownerId"), header.Filename, file)
	switch {
	case errors.Is(err, ErrInvalidOwner):
		h.writeError(ctx, w, "VALIDATION_ERROR", "ownerId is required", http.StatusBadRequest)
		return
	case errors.Is(err, ErrUnsupportedType):
		h.writeError(ctx, w, "BAD_REQUEST", "Unsupported file type", http.StatusBadRequest)
		return
	case err != nil:
		slog.ErrorContext(ctx, "failed to upload document", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to save file", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusCreated, map[string]interface{}{"data": doc})
}

type processRequest struct {
	DocumentKey         string `json:"documentKey"`
	OwnerID             string `json:"ownerId"`
	EmbeddingCredential string `json:"embeddingCredential"`
	Resume              bool   `json:"resume"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (ingest.Request, bool) {
	var req processRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Invalid request body", http.StatusBadRequest)
		return ingest.Request{}, false
	}
	cred := embedding.NewCredential(req.EmbeddingCredential)
	switch {
	case req.DocumentKey == "":
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "documentKey is required", http.StatusBadRequest)
		return ingest.Request{}, false
	case req.OwnerID == "":
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "ownerId is required", http.StatusBadRequest)
		return ingest.Request{}, false
	case cred.Empty():
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "embeddingCredential is required", http.StatusBadRequest)
		return ingest.Request{}, false
	}
	return ingest.Request{DocumentKey: req.DocumentKey, OwnerID: req.OwnerID, Credential: cred, Resume: req.Resume}, true
}

// Process runs the pipeline for one document and answers when it ends.
// A client disconnect cancels the run and leaves the document resumable.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	slog.InfoContext(ctx, "processing document", "document_key", req.DocumentKey, "owner_id", req.OwnerID)

	res, err := h.service.Process(ctx, req)
	if err != nil {
		h.writeRunError(ctx, w, err)
		return
	}

	slog.InfoContext(ctx, "document processing finished", "document_id", res.DocumentID, "embedded", res.Embedded, "no_op", res.NoOp)
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) ProcessAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	correlationID, _ := middleware.FromContext(ctx)
	if err := h.service.Enqueue(ctx, req, correlationID); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue document", "document_key", req.DocumentKey, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to enqueue document", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "document enqueued", "document_key", req.DocumentKey)
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{"success": true})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	st, err := h.service.Status(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(ctx, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to read document status", "document_id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": st})
}

func (h *Handler) writeRunError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		ferr *ingest.FailedError
		perr *embedding.Error
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
	case errors.Is(err, ingest.ErrUnauthorized):
		h.writeError(ctx, w, "FORBIDDEN", "Document belongs to another owner", http.StatusForbidden)
	case errors.Is(err, ingest.ErrRunInProgress):
		h.writeError(ctx, w, "CONFLICT", "Document is already being processed", http.StatusConflict)
	case errors.Is(err, ingest.ErrCanceled):
		slog.WarnContext(ctx, "document processing canceled", "error", err)
		h.writeError(ctx, w, "CANCELED", "Processing was interrupted and can be resumed", http.StatusServiceUnavailable)
	case errors.As(err, &ferr) && errors.As(err, &perr):
		h.writeError(ctx, w, "EMBEDDING_FAILED", ferr.Reason, http.StatusBadGateway)
	case errors.As(err, &ferr):
		h.writeError(ctx, w, "PROCESSING_FAILED", ferr.Reason, http.StatusUnprocessableEntity)
	default:
		slog.ErrorContext(ctx, "document processing error", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error":         message,
		"code":          code,
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
