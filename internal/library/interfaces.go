// Package library implements the offline-first synchronization engine: the
// in-memory library snapshot, the mutating actions exposed to the UI layer,
// and the sync orchestrator that reconciles the local snapshot against the
// remote store using the lastModified stamp and the dirty ledger.
//
// The package contains two main components:
//
//   - [Service] owns the snapshot and runs load/sync/mutations.
//   - [Resync] listens for connectivity transitions and flushes the
//     dirty ledger when the connection returns.
package library

import (
	"context"
	"time"

	"github.com/soundkeep/soundkeep/internal/model"
)

// Collection is the remote store port: a named collection of item documents
// keyed by remote id plus a sentinel meta document holding the collection's
// lastModified stamp. Implemented by [remote.Client].
type Collection interface {
	Upsert(ctx context.Context, id string, item model.LibraryItem) error
	PatchRatingHistory(ctx context.Context, id string, history []model.RatingEntry) error
	Delete(ctx context.Context, id string) error
	ReadAll(ctx context.Context) ([]model.LibraryItem, error)
	ReadMeta(ctx context.Context) (lastModified time.Time, ok bool, err error)
	WriteMeta(ctx context.Context, lastModified time.Time) error
}

// ConnectedFunc reports the current connectivity state. Implemented by
// [remote.Probe.IsConnected].
type ConnectedFunc func() bool
