package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"docchat/ingest/internal/extract"
	"docchat/ingest/internal/store"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrInvalidOwner    = errors.New("invalid owner id")
)

// Registrar records a stored file as an uploaded document.
type Registrar interface {
	Register(ctx context.Context, ownerID, storageKey, fileName string) (*store.Document, error)
}

type BlobWriter interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Delete(ctx context.Context, key string) error
}

type UploadService struct {
	reg   Registrar
	blobs BlobWriter
}

func NewUploadService(reg Registrar, blobs BlobWriter) *UploadService {
	return &UploadService{reg: reg, blobs: blobs}
}

// Upload stores r under <owner>/<uuid>_<name> and registers it. The blob is
// removed again when registration fails.
func (s *UploadService) Upload(ctx context.Context, ownerID, fileName string, r io.Reader) (*store.Document, error) {
	if ownerID == "" || ownerID == "." || ownerID == ".." || strings.ContainsAny(ownerID, `/\`) {
		return nil, ErrInvalidOwner
	}

	name := filepath.Base(filepath.Clean("/" + fileName))
	if _, err := extract.FormatFromName(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(name))
	}

	key := ownerID + "/" + uuid.NewString() + "_" + name
	n, err := s.blobs.Put(ctx, key, r)
	if err != nil {
		return nil, err
	}

	doc, err := s.reg.Register(ctx, ownerID, key, name)
	if err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			slog.WarnContext(ctx, "failed to clean up uploaded file", "key", key, "error", derr)
		}
		return nil, err
	}

	slog.InfoContext(ctx, "document uploaded", "document_id", doc.ID, "key", key, "bytes", n)
	return doc, nil
}
