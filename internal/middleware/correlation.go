// Package middleware carries the correlation id from an HTTP request into
// the pipeline run or queued message it starts.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	// HeaderRequestID is set by most ingress proxies. It is used when the
	// caller sent no correlation id of its own.
	HeaderRequestID = "X-Request-ID"

	maxIDLength = 128
)

type key int

const CorrelationKey key = 0

// CorrelationID puts the request's correlation id on the context and the
// response. Inbound ids that are too long or contain anything beyond
// letters, digits and ".-_:" are replaced with a fresh uuid.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := inboundID(r.Header)
		ctx := WithCorrelationID(r.Context(), id)
		w.Header().Set(HeaderCorrelationID, id)

		slog.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(ctx))

		slog.InfoContext(ctx, "request completed", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start)) // #nosec G706
	})
}

func inboundID(h http.Header) string {
	for _, name := range []string{HeaderCorrelationID, HeaderRequestID} {
		if id := strings.TrimSpace(h.Get(name)); validID(id) {
			return id
		}
	}
	return uuid.NewString()
}

func validID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return false
		}
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// FromContext returns the correlation id stored on ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(CorrelationKey).(string)
	return id, ok && id != ""
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}
