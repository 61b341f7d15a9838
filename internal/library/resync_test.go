package library

import (
	"context"
	"testing"
	"time"
)

func waitForDrain(t *testing.T, env *testEnv) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.ledger.Empty() && !env.ledger.IsDirty() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ledger not drained before deadline")
}

func TestResync_FlushesOnReconnect(t *testing.T) {
	env := newTestEnv(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := env.svc.AddItem(ctx, track("c1", "Move")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := NewResync(env.svc, 0, testLogger)
	go r.Run(ctx)

	// An offline transition must not trigger a pass.
	r.Observe(false)
	time.Sleep(50 * time.Millisecond)
	if upserts, _, _ := env.col.counts(); upserts != 0 {
		t.Fatalf("upsert calls = %d after offline transition, want 0", upserts)
	}

	env.setOnline(true)
	r.Observe(true)
	waitForDrain(t, env)

	if _, ok := env.col.doc("rid-1"); !ok {
		t.Error("pending item not pushed after reconnect")
	}
}

func TestResync_ObserveOnlyWhenDirty(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	r := NewResync(env.svc, 0, testLogger)

	// A clean ledger has nothing to push: no trigger is queued.
	r.Observe(true)
	if len(r.trigger) != 0 {
		t.Error("reconnect with a clean ledger queued a sync pass")
	}

	env.setOnline(false)
	if _, err := env.svc.AddItem(ctx, track("c1", "Jeru")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.setOnline(true)

	r.Observe(true)
	if len(r.trigger) != 1 {
		t.Error("reconnect with a dirty ledger did not queue a sync pass")
	}
}

func TestResync_PeriodicFlushWhileDirty(t *testing.T) {
	env := newTestEnv(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := env.svc.AddItem(ctx, track("c1", "Godchild")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.setOnline(true)

	r := NewResync(env.svc, 20*time.Millisecond, testLogger)
	go r.Run(ctx)

	waitForDrain(t, env)
}
