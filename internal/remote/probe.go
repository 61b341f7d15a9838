package remote

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Pinger is the liveness check consumed by the Probe. Implemented by [Client].
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe is the connectivity observer: it polls the remote store's health
// endpoint and reports transitions to registered callbacks. IsConnected
// returns the last observed state without touching the network.
type Probe struct {
	pinger   Pinger
	interval time.Duration
	log      *slog.Logger

	connected atomic.Bool

	mu        sync.Mutex
	callbacks []func(online bool)
}

// NewProbe creates a Probe polling at the given interval.
func NewProbe(pinger Pinger, interval time.Duration, logger *slog.Logger) *Probe {
	return &Probe{pinger: pinger, interval: interval, log: logger}
}

// IsConnected reports the connectivity state as of the last probe. Before the
// first probe completes it reports false, which errs on the safe side: the
// engine treats unknown as offline and retries once the probe fires.
func (p *Probe) IsConnected() bool {
	return p.connected.Load()
}

// OnChange registers a callback invoked on every connectivity transition.
// Callbacks run on the probe goroutine and should hand off long work.
func (p *Probe) OnChange(fn func(online bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, fn)
}

// Check performs one probe synchronously and returns the resulting state.
// Used at startup to prime connectivity before the first load.
func (p *Probe) Check(ctx context.Context) bool {
	p.check(ctx)
	return p.connected.Load()
}

// Run probes immediately, then on every tick, until ctx is cancelled.
func (p *Probe) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

// check performs one ping and fires callbacks when the state flips.
func (p *Probe) check(ctx context.Context) {
	err := p.pinger.Ping(ctx)
	online := err == nil

	if p.connected.Swap(online) == online {
		return
	}
	if online {
		p.log.Info("connectivity restored")
	} else {
		p.log.Info("connectivity lost", "error", err)
	}

	p.mu.Lock()
	callbacks := make([]func(bool), len(p.callbacks))
	copy(callbacks, p.callbacks)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(online)
	}
}
