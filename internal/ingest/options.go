package ingest

import (
	"fmt"
	"time"

	"docchat/ingest/internal/text"
)

// Options tune one Orchestrator. They are fixed at construction.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// Window is the number of chunks embedded concurrently ahead of the
	// commit point.
	Window       int
	EmbedTimeout time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	// StaleAfter is how long a processing document may go without a
	// heartbeat before another run may take it over.
	StaleAfter time.Duration
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:    text.DefaultChunkSize,
		ChunkOverlap: text.DefaultChunkOverlap,
		Window:       4,
		EmbedTimeout: 60 * time.Second,
		MaxAttempts:  5,
		BaseBackoff:  500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
		StaleAfter:   15 * time.Minute,
	}
}

func (o Options) validate() error {
	switch {
	case o.Window < 1:
		return fmt.Errorf("window must be at least 1, got %d", o.Window)
	case o.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be at least 1, got %d", o.MaxAttempts)
	case o.EmbedTimeout <= 0:
		return fmt.Errorf("embed timeout must be positive, got %s", o.EmbedTimeout)
	case o.BaseBackoff < 0 || o.MaxBackoff < o.BaseBackoff:
		return fmt.Errorf("backoff range [%s, %s] is invalid", o.BaseBackoff, o.MaxBackoff)
	case o.StaleAfter <= 0:
		return fmt.Errorf("stale-after must be positive, got %s", o.StaleAfter)
	}
	return nil
}

// heartbeatEvery spaces lease refreshes well inside StaleAfter.
func (o Options) heartbeatEvery() time.Duration {
	return max(o.StaleAfter/3, time.Second)
}
