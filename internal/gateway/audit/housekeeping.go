package audit

import (
	"context"
	"log/slog"
	"time"
)

// Pruner deletes old events.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Housekeeping periodically prunes events older than Retention so the
// ledger does not grow without bound.
type Housekeeping struct {
	Store     Pruner
	Logger    *slog.Logger
	Interval  time.Duration
	Retention time.Duration

	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeeping creates a housekeeping worker. A non-positive interval
// defaults to 1 hour and a non-positive retention to 30 days.
func NewHousekeeping(store Pruner, logger *slog.Logger, interval, retention time.Duration) *Housekeeping {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	return &Housekeeping{
		Store:     store,
		Logger:    logger,
		Interval:  interval,
		Retention: retention,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the worker in the background. Call Stop to end it.
func (h *Housekeeping) Start() {
	go h.run()
	h.Logger.Info("audit housekeeping started", "interval", h.Interval, "retention", h.Retention)
}

// Stop blocks until any in-progress prune has finished.
func (h *Housekeeping) Stop() {
	close(h.stopCh)
	<-h.doneCh
	h.Logger.Info("audit housekeeping stopped")
}

func (h *Housekeeping) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	// Prune immediately on startup
	h.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			h.RunOnce(context.Background())
		case <-h.stopCh:
			return
		}
	}
}

// RunOnce prunes once and returns the number of deleted events.
func (h *Housekeeping) RunOnce(ctx context.Context) int64 {
	cutoff := h.now().Add(-h.Retention)

	n, err := h.Store.Prune(ctx, cutoff)
	if err != nil {
		h.Logger.Error("failed to prune audit events", "error", err)
		return 0
	}

	h.Logger.Info("audit housekeeping completed", "deleted", n, "cutoff", cutoff)
	return n
}
