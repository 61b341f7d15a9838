package library

import (
	"context"
	"fmt"

	"github.com/soundkeep/soundkeep/internal/model"
)

// writeIntent is the tagged union of remote writes the engine can issue.
// Every push, fast path or full sync, goes through [Service.push] so the
// push phase can be tested against explicit cases instead of ad hoc payloads.
type writeIntent interface {
	isWriteIntent()
}

// upsertItem writes the full item document (merge semantics).
type upsertItem struct {
	item model.LibraryItem
}

// deleteItem removes the document with the given remote id.
type deleteItem struct {
	remoteID string
}

// patchRatingHistory overwrites only the rating-history field.
type patchRatingHistory struct {
	remoteID string
	history  []model.RatingEntry
}

func (upsertItem) isWriteIntent()         {}
func (deleteItem) isWriteIntent()         {}
func (patchRatingHistory) isWriteIntent() {}

// push dispatches one write intent to the remote collection.
func (s *Service) push(ctx context.Context, intent writeIntent) error {
	switch in := intent.(type) {
	case upsertItem:
		return s.remote.Upsert(ctx, in.item.RemoteID, in.item)
	case deleteItem:
		return s.remote.Delete(ctx, in.remoteID)
	case patchRatingHistory:
		return s.remote.PatchRatingHistory(ctx, in.remoteID, in.history)
	default:
		return fmt.Errorf("unknown write intent %T", intent)
	}
}
