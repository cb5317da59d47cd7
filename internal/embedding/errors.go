package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies provider failures. The retry decision is made from the
// kind, never from the error text.
type Kind int

const (
	KindTransient Kind = iota
	KindRateLimited
	KindTimeout
	KindInvalidCredential
	KindInvalidRequest
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindInvalidRequest:
		return "invalid_request"
	case KindMalformedResponse:
		return "malformed_response"
	}
	return "unknown"
}

func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited || k == KindTimeout
}

// Error is the EmbeddingProviderError of the pipeline.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	// RetryAfter is the provider's requested pause, zero if none was given.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s embedding %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s embedding %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// IsRetryable reports whether err is a provider error worth retrying.
func IsRetryable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}

// KindForStatus maps a provider HTTP status code to a failure kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindInvalidCredential
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindInvalidRequest
	}
	return KindMalformedResponse
}

// FromStatus builds an Error from an HTTP status code.
func FromStatus(provider string, status int, retryAfter time.Duration, err error) *Error {
	return &Error{
		Kind:       KindForStatus(status),
		Provider:   provider,
		StatusCode: status,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

// FromTransport classifies an error raised before any HTTP status was seen.
// Deadline expiry is a timeout; a canceled context is returned unchanged so
// the caller can tell cancellation from failure.
func FromTransport(provider string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	}
	return &Error{Kind: KindTransient, Provider: provider, Err: err}
}

// ParseRetryAfter reads a Retry-After header given in seconds.
func ParseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
