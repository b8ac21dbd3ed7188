// Package session runs background maintenance on stored conversations.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/pascalcad/pascal-agent/internal/store"
)

const sweepInterval = 5 * time.Minute

// StartTTLWorker runs a background goroutine that periodically deletes
// sessions idle longer than ttl. It stops when ctx is canceled.
func StartTTLWorker(ctx context.Context, repo store.Repository, ttl time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", sweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// sweep deletes idle sessions, retrying with exponential backoff when
// the database is briefly locked by an in-flight turn.
func sweep(ctx context.Context, repo store.Repository, ttl time.Duration) {
	const maxRetries = 3
	delay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		deleted, err := repo.DeleteIdle(ctx, ttl)
		if err == nil {
			if deleted > 0 {
				slog.Info("TTL worker removed idle sessions", "count", deleted)
			}
			return
		}

		if store.IsConflict(err) && i < maxRetries-1 {
			slog.Debug("TTL sweep hit a locked database, retrying", "attempt", i+1, "delay", delay)
			time.Sleep(delay)
			delay *= 2
			continue
		}

		if ctx.Err() != nil {
			return
		}
		slog.Error("TTL sweep failed", "error", err)
		return
	}
}
