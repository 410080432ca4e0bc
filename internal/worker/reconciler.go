package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const reconcileBatchSize = 100

// StaleRepublisher re-publishes triggers for tickets stuck in their initial state.
type StaleRepublisher interface {
	RepublishStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Reconciler periodically re-publishes tickets whose trigger was lost between
// insert and publish. Duplicate triggers are safe because every workflow step
// overwrites rather than accumulates.
type Reconciler struct {
	tickets  StaleRepublisher
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger
}

// NewReconciler creates the reconciler.
func NewReconciler(tickets StaleRepublisher, interval, grace time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{tickets: tickets, interval: interval, grace: grace, logger: logger}
}

// Run starts the polling loop and should be launched in its own goroutine. A
// non-positive interval disables it.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("stale ticket reconciler disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stale ticket reconciler shutting down")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass.
func (r *Reconciler) Tick(ctx context.Context) {
	n, err := r.tickets.RepublishStale(ctx, r.grace, reconcileBatchSize)
	if err != nil {
		r.logger.Warn("stale ticket reconciliation failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("re-published stale tickets", zap.Int("count", n))
	}
}
