package notify

import (
	"context"
	"log/slog"
	"time"
)

// StartWorker runs the scheduler on a fixed interval until ctx is cancelled.
// Intended to be called with `go`. Each tick is an independent run; a failed
// run is logged and retried at the next tick.
func StartWorker(ctx context.Context, s *Scheduler, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = defaultRunInterval
	}
	logger.Info("Streak scheduler worker started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, time.Now().UTC()); err != nil {
				logger.Error("scheduler run failed", "error", err)
			}
		case <-ctx.Done():
			logger.Info("Streak scheduler worker stopped")
			return
		}
	}
}
