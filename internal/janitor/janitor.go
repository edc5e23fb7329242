// Package janitor periodically discards idle sessions and prunes old transcripts.
package janitor

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is the sweep period used by the server.
const DefaultInterval = 5 * time.Minute

// Sessions resets in-memory sessions idle longer than ttl.
type Sessions interface {
	ResetIdle(ttl time.Duration) int
}

// Transcripts deletes persisted sessions not updated within ttl.
type Transcripts interface {
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)
}

// Config controls a janitor run.
type Config struct {
	Interval  time.Duration
	IdleTTL   time.Duration
	Retention time.Duration
}

// Start runs a background goroutine that sweeps every cfg.Interval until ctx
// is cancelled. transcripts may be nil.
func Start(ctx context.Context, sessions Sessions, transcripts Transcripts, cfg Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Janitor started", "interval", cfg.Interval, "idle_ttl", cfg.IdleTTL, "retention", cfg.Retention)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, sessions, transcripts, cfg)
			case <-ctx.Done():
				slog.Info("Janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep performs one cleanup pass.
func Sweep(ctx context.Context, sessions Sessions, transcripts Transcripts, cfg Config) {
	if cfg.IdleTTL > 0 {
		if n := sessions.ResetIdle(cfg.IdleTTL); n > 0 {
			slog.Info("Janitor reset idle sessions", "count", n)
		}
	}

	if transcripts == nil || cfg.Retention <= 0 {
		return
	}
	deleted, err := transcripts.CleanupExpiredSessions(ctx, cfg.Retention)
	if err != nil {
		slog.Error("Janitor failed to prune transcripts", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Janitor pruned transcripts", "count", deleted)
	}
}
