// Package state persists the locally cached library snapshot and the dirty
// ledger on top of the [kv.Store] port. Every value is stored as a versioned
// JSON envelope so the on-disk format can be evolved and round-trip tested.
//
// Only this package knows the storage keys and encoding. The library service
// receives a [*SnapshotCache] and [*DirtyLedger] and calls their methods.
package state

import (
	"context"
	"log/slog"
	"time"

	"github.com/soundkeep/soundkeep/internal/kv"
	"github.com/soundkeep/soundkeep/internal/model"
)

// Storage keys. The snapshot spans two physical keys written as one logical
// unit by [SnapshotCache.Write].
const (
	keyItems        = "library/items"
	keyLastModified = "library/last_modified"
	keyDirty        = "sync/dirty"
	keyDirtyIDs     = "sync/dirty_ids"
	keyDeletedIDs   = "sync/deleted_ids"
)

// SnapshotCache holds the last known library list and its freshness stamp.
type SnapshotCache struct {
	store kv.Store
	log   *slog.Logger
}

// NewSnapshotCache creates a SnapshotCache over the given store.
func NewSnapshotCache(store kv.Store, logger *slog.Logger) *SnapshotCache {
	return &SnapshotCache{store: store, log: logger}
}

// Read returns the cached items and lastModified stamp. It never fails: a
// storage or decode error is logged and degrades to an empty snapshot, which
// is preferable to refusing to start.
func (c *SnapshotCache) Read(ctx context.Context) ([]model.LibraryItem, time.Time) {
	var items []model.LibraryItem
	raw, ok, err := c.store.Get(ctx, keyItems)
	if err != nil {
		c.log.Warn("reading cached items failed, treating as empty", "error", err)
		return nil, time.Time{}
	}
	if ok {
		if err := decode(raw, &items); err != nil {
			c.log.Warn("cached items corrupt, treating as empty", "error", err)
			return nil, time.Time{}
		}
	}

	var lastModified time.Time
	raw, ok, err = c.store.Get(ctx, keyLastModified)
	if err != nil {
		c.log.Warn("reading cached stamp failed, treating as unset", "error", err)
		return items, time.Time{}
	}
	if ok {
		var ms int64
		if err := decode(raw, &ms); err != nil {
			c.log.Warn("cached stamp corrupt, treating as unset", "error", err)
		} else if ms > 0 {
			lastModified = time.UnixMilli(ms).UTC()
		}
	}

	return items, lastModified
}

// Write persists items and the lastModified stamp. The two keys are written
// in order (items first) and any failure must be treated by the caller as if
// nothing was written.
func (c *SnapshotCache) Write(ctx context.Context, items []model.LibraryItem, lastModified time.Time) error {
	enc, err := encode(items)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, keyItems, enc); err != nil {
		return err
	}

	var ms int64
	if !lastModified.IsZero() {
		ms = lastModified.UnixMilli()
	}
	enc, err = encode(ms)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, keyLastModified, enc)
}

// Clear removes the cached snapshot. Used by the administrative wipe.
func (c *SnapshotCache) Clear(ctx context.Context) error {
	if err := c.store.Remove(ctx, keyItems); err != nil {
		return err
	}
	return c.store.Remove(ctx, keyLastModified)
}
