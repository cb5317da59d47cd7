// Package embedding defines the contract between the ingestion pipeline and
// external embedding providers.
package embedding

import (
	"context"
	"log/slog"
	"strings"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Factory builds an Embedder bound to one caller credential. Embedders are
// created per pipeline run and dropped when it ends, so credentials never
// outlive the request that supplied them.
type Factory interface {
	New(ctx context.Context, cred Credential) (Embedder, error)
	Dimension() int
	Name() string
}

// Closer is implemented by embedders that hold client resources.
type Closer interface {
	Close() error
}

// Credential is a caller-scoped provider API key. It redacts itself when
// formatted or logged.
type Credential struct {
	value string
}

func NewCredential(v string) Credential {
	return Credential{value: strings.TrimSpace(v)}
}

func (c Credential) Reveal() string { return c.value }
func (c Credential) Empty() bool    { return c.value == "" }

func (c Credential) String() string {
	if c.value == "" {
		return ""
	}
	return "[REDACTED]"
}

func (c Credential) GoString() string { return c.String() }

func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

// Redact removes the credential value from s.
func (c Credential) Redact(s string) string {
	if c.value == "" {
		return s
	}
	return strings.ReplaceAll(s, c.value, "[REDACTED]")
}
