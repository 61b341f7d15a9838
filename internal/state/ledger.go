package state

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/soundkeep/soundkeep/internal/kv"
)

// DirtyLedger is the durable record of local changes not yet confirmed by the
// remote store: the dirty flag, the set of dirty remote ids, and the queue of
// pending deletions.
//
// The ledger keeps an in-memory mirror for cheap reads, but every mutation is
// flushed to the store before the call returns so the ledger survives a
// process kill. Adding an id or queueing a deletion marks the ledger dirty;
// the flag is only ever cleared explicitly by the sync orchestrator.
type DirtyLedger struct {
	store kv.Store
	log   *slog.Logger

	mu        sync.Mutex
	dirty     bool
	ids       map[string]struct{}
	deletions []string
}

// LoadLedger reads the persisted ledger state. Like the snapshot cache it
// never fails: corrupt or unreadable entries are logged and degrade to an
// empty (clean) ledger.
func LoadLedger(ctx context.Context, store kv.Store, logger *slog.Logger) *DirtyLedger {
	l := &DirtyLedger{
		store: store,
		log:   logger,
		ids:   make(map[string]struct{}),
	}

	if raw, ok, err := store.Get(ctx, keyDirty); err != nil {
		logger.Warn("reading dirty flag failed, assuming clean", "error", err)
	} else if ok {
		if err := decode(raw, &l.dirty); err != nil {
			logger.Warn("dirty flag corrupt, assuming clean", "error", err)
		}
	}

	if raw, ok, err := store.Get(ctx, keyDirtyIDs); err != nil {
		logger.Warn("reading dirty ids failed, assuming none", "error", err)
	} else if ok {
		var ids []string
		if err := decode(raw, &ids); err != nil {
			logger.Warn("dirty ids corrupt, assuming none", "error", err)
		} else {
			for _, id := range ids {
				l.ids[id] = struct{}{}
			}
		}
	}

	if raw, ok, err := store.Get(ctx, keyDeletedIDs); err != nil {
		logger.Warn("reading deletion queue failed, assuming empty", "error", err)
	} else if ok {
		if err := decode(raw, &l.deletions); err != nil {
			logger.Warn("deletion queue corrupt, assuming empty", "error", err)
			l.deletions = nil
		}
	}

	return l
}

// IsDirty reports whether the remote store needs to be told something.
func (l *DirtyLedger) IsDirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// MarkDirty sets and persists the dirty flag.
func (l *DirtyLedger) MarkDirty(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirty = true
	return l.flushFlag(ctx)
}

// ClearDirty clears and persists the dirty flag.
func (l *DirtyLedger) ClearDirty(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirty = false
	return l.flushFlag(ctx)
}

// AddDirtyItem records that the item with the given remote id has an
// unconfirmed local write, and marks the ledger dirty.
func (l *DirtyLedger) AddDirtyItem(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids[id] = struct{}{}
	l.dirty = true
	if err := l.flushIDs(ctx); err != nil {
		return err
	}
	return l.flushFlag(ctx)
}

// RemoveDirtyItem drops a remote id from the dirty set, typically after a
// confirmed push. The dirty flag is left alone.
func (l *DirtyLedger) RemoveDirtyItem(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; !ok {
		return nil
	}
	delete(l.ids, id)
	return l.flushIDs(ctx)
}

// DirtyItems returns the dirty remote ids in sorted order.
func (l *DirtyLedger) DirtyItems() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sortedIDs()
}

// HasDirtyItem reports whether the given remote id is in the dirty set.
func (l *DirtyLedger) HasDirtyItem(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

// ClearDirtyItems empties the dirty id set.
func (l *DirtyLedger) ClearDirtyItems(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = make(map[string]struct{})
	return l.flushIDs(ctx)
}

// QueueDeletion records a remote id deleted locally while its remote delete
// is unconfirmed, and marks the ledger dirty. Queueing is idempotent.
func (l *DirtyLedger) QueueDeletion(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !slices.Contains(l.deletions, id) {
		l.deletions = append(l.deletions, id)
	}
	l.dirty = true
	if err := l.flushDeletions(ctx); err != nil {
		return err
	}
	return l.flushFlag(ctx)
}

// Deletions returns the queued deletion ids in queue order.
func (l *DirtyLedger) Deletions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.deletions))
	copy(out, l.deletions)
	return out
}

// RemoveDeletion drops a single confirmed deletion from the queue.
func (l *DirtyLedger) RemoveDeletion(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := slices.Index(l.deletions, id)
	if idx < 0 {
		return nil
	}
	l.deletions = append(l.deletions[:idx], l.deletions[idx+1:]...)
	return l.flushDeletions(ctx)
}

// ClearDeletions empties the deletion queue.
func (l *DirtyLedger) ClearDeletions(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deletions = nil
	return l.flushDeletions(ctx)
}

// Empty reports whether both the dirty id set and the deletion queue are
// empty.
func (l *DirtyLedger) Empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids) == 0 && len(l.deletions) == 0
}

// Wipe clears all ledger state, in memory and on disk.
func (l *DirtyLedger) Wipe(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirty = false
	l.ids = make(map[string]struct{})
	l.deletions = nil
	for _, key := range []string{keyDirty, keyDirtyIDs, keyDeletedIDs} {
		if err := l.store.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// --- flush helpers (callers hold l.mu) ---------------------------------------

func (l *DirtyLedger) flushFlag(ctx context.Context) error {
	enc, err := encode(l.dirty)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, keyDirty, enc)
}

func (l *DirtyLedger) flushIDs(ctx context.Context) error {
	enc, err := encode(l.sortedIDs())
	if err != nil {
		return err
	}
	return l.store.Set(ctx, keyDirtyIDs, enc)
}

func (l *DirtyLedger) flushDeletions(ctx context.Context) error {
	enc, err := encode(l.deletions)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, keyDeletedIDs, enc)
}

func (l *DirtyLedger) sortedIDs() []string {
	ids := make([]string, 0, len(l.ids))
	for id := range l.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
