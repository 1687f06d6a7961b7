package store

import (
	"context"
	"log/slog"
	"time"
)

// StartSessionSweeper runs a background goroutine that periodically removes
// session state idle longer than ttl. A removed session loses its discovery
// flag with everything else; that is the only sanctioned way the flag ever
// clears.
func StartSessionSweeper(ctx context.Context, repo Repository, interval, ttl time.Duration) {
	if ttl <= 0 {
		slog.Info("Session sweeper disabled", "ttl", ttl)
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepOnce(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepOnce(ctx context.Context, repo Repository, ttl time.Duration) {
	deleted, err := repo.CleanupExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Error("Session sweeper failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Session sweeper removed idle sessions", "count", deleted)
	}
}
