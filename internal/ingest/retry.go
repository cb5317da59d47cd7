package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docchat/ingest/internal/embedding"
)

// embedWithRetry calls the embedder once per attempt under its own timeout,
// retrying retryable provider failures with exponential backoff. Terminal
// failures and context cancellation return immediately.
func (o *Orchestrator) embedWithRetry(ctx context.Context, emb embedding.Embedder, content string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, o.opts.EmbedTimeout)
		vec, err := emb.Embed(attemptCtx, content)
		cancel()
		if err == nil {
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		err = asProviderError(o.factory.Name(), err)
		if !embedding.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt == o.opts.MaxAttempts {
			break
		}

		delay := o.backoff(attempt)
		var perr *embedding.Error
		if errors.As(err, &perr) && perr.RetryAfter > 0 {
			if o.limiter != nil {
				o.limiter.Pause(perr.RetryAfter)
			}
			delay = max(delay, perr.RetryAfter)
		}
		o.logger.DebugContext(ctx, "embedding attempt failed, will retry",
			"attempt", attempt, "max_attempts", o.opts.MaxAttempts, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", o.opts.MaxAttempts, lastErr)
}

// backoff returns BaseBackoff * 2^(attempt-1), capped at MaxBackoff.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.opts.BaseBackoff
	for i := 1; i < attempt && delay < o.opts.MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, o.opts.MaxBackoff)
}

// asProviderError makes sure a failed attempt carries a Kind. An attempt
// that ran out of its own timeout is a retryable timeout.
func asProviderError(provider string, err error) error {
	var perr *embedding.Error
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &embedding.Error{Kind: embedding.KindTimeout, Provider: provider, Err: err}
	}
	return &embedding.Error{Kind: embedding.KindInvalidRequest, Provider: provider, Err: err}
}
