package library

import (
	"context"
	"log/slog"
	"time"
)

// Resync drives sync passes from the outside: a pass whenever connectivity
// returns, plus an optional periodic flush while the ledger is dirty.
// Register [Resync.Observe] with the connectivity probe and run [Resync.Run]
// in its own goroutine.
type Resync struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
	trigger  chan struct{}
}

// NewResync creates a Resync for the service. interval <= 0 disables the
// periodic flush.
func NewResync(svc *Service, interval time.Duration, logger *slog.Logger) *Resync {
	return &Resync{
		svc:      svc,
		interval: interval,
		log:      logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Observe is the connectivity transition callback. An offline transition is
// ignored, and so is a reconnect with nothing to push; a reconnect while the
// ledger is dirty queues a sync pass. The channel holds one pending trigger,
// so bursts collapse into a single pass.
func (r *Resync) Observe(connected bool) {
	if !connected || !r.svc.Dirty() {
		return
	}
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done.
func (r *Resync) Run(ctx context.Context) {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
			r.flush(ctx, "connectivity regained")
		case <-tick:
			if r.svc.Dirty() {
				r.flush(ctx, "interval")
			}
		}
	}
}

func (r *Resync) flush(ctx context.Context, reason string) {
	r.log.Debug("resync pass", "reason", reason)
	if err := r.svc.Sync(ctx); err != nil {
		r.log.Error("resync pass failed", "reason", reason, "error", err)
	}
}
