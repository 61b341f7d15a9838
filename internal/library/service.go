package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/soundkeep/soundkeep/internal/model"
	"github.com/soundkeep/soundkeep/internal/state"
)

const (
	otelScope = "soundkeep/library"
	spanLoad  = "library.load"
	spanSync  = "library.sync"

	metricItemsPushed     = "soundkeep.sync.items.pushed"
	metricDeletionsPushed = "soundkeep.sync.deletions.pushed"
	metricSyncErrors      = "soundkeep.sync.errors"
	metricCacheHits       = "soundkeep.load.cache.hits"
	metricCacheMisses     = "soundkeep.load.cache.misses"
)

// Sentinel results for the mutating actions. A busy guard is not an error;
// those actions return (false, nil) instead.
var (
	// ErrDuplicate is returned when adding a catalog id that is already saved.
	ErrDuplicate = errors.New("track already saved")

	// ErrNotFound is returned when the target catalog id is not in the library.
	ErrNotFound = errors.New("track not found in library")
)

// Status is the orchestrator's externally visible state.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSyncing
	StatusError
)

// String returns the lowercase label for the status.
func (st Status) String() string {
	switch st {
	case StatusLoading:
		return "loading"
	case StatusSyncing:
		return "syncing"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// Service is the library sync orchestrator. Exactly one instance exists per
// process; it owns the in-memory snapshot and is the only writer to it. All
// reads hand out deep copies.
//
// Construct with [NewService], call [Service.Load] once at startup, and wire
// [Service.Sync] to a connectivity observer via [Resync].
type Service struct {
	remote Collection
	cache  *state.SnapshotCache
	ledger *state.DirtyLedger
	online ConnectedFunc
	log    *slog.Logger

	// Clock and id hooks, overridable in tests.
	now   func() time.Time
	newID func() string

	guard   *Guard
	syncing atomic.Bool

	mu           sync.Mutex
	items        []model.LibraryItem
	lastModified time.Time
	sortMode     model.SortMode
	status       Status
	lastErr      string

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer             trace.Tracer
	cntItemsPushed     metric.Int64Counter
	cntDeletionsPushed metric.Int64Counter
	cntSyncErrors      metric.Int64Counter
	cntCacheHits       metric.Int64Counter
	cntCacheMisses     metric.Int64Counter
}

// NewService creates the library service with its ports injected.
func NewService(col Collection, cache *state.SnapshotCache, ledger *state.DirtyLedger, online ConnectedFunc, logger *slog.Logger) *Service {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Service{
		remote: col,
		cache:  cache,
		ledger: ledger,
		online: online,
		log:    logger,

		now:   time.Now,
		newID: uuid.NewString,
		guard: NewGuard(),

		tracer:             tracer,
		cntItemsPushed:     mustCounter(metricItemsPushed, "Number of dirty items pushed to the remote store"),
		cntDeletionsPushed: mustCounter(metricDeletionsPushed, "Number of queued deletions confirmed remotely"),
		cntSyncErrors:      mustCounter(metricSyncErrors, "Number of errors during sync and fast-path pushes"),
		cntCacheHits:       mustCounter(metricCacheHits, "Number of loads served entirely from the local cache"),
		cntCacheMisses:     mustCounter(metricCacheMisses, "Number of loads that fetched the full remote collection"),
	}
}

// --- load / refresh ----------------------------------------------------------

// Load publishes the library for the UI: cache first, then, when online,
// either a push of pending local edits or a freshness check against the
// remote meta stamp. A cached snapshot at least as fresh as the remote is
// trusted without fetching the collection.
func (s *Service) Load(ctx context.Context, mode model.SortMode) error {
	return s.load(ctx, mode, false)
}

// Refresh is Load for an explicit user gesture: it skips the cache-trust
// optimization and refetches the collection whenever online and clean.
func (s *Service) Refresh(ctx context.Context, mode model.SortMode) error {
	return s.load(ctx, mode, true)
}

func (s *Service) load(ctx context.Context, mode model.SortMode, force bool) error {
	ctx, span := s.tracer.Start(ctx, spanLoad)
	defer span.End()

	s.setStatus(StatusLoading, "")

	items, lastModified := s.cache.Read(ctx)
	items = s.dropQueuedDeletions(items)
	s.publish(items, lastModified, mode)

	if !s.online() {
		s.setStatus(StatusIdle, "")
		return nil
	}

	if s.ledger.IsDirty() {
		// Push unconfirmed local edits first so the UI never sees a state
		// older than the user's own changes.
		if err := s.Sync(ctx); err != nil {
			return s.fail(span, fmt.Errorf("syncing pending changes: %w", err))
		}
		items, lastModified = s.cache.Read(ctx)
		items = s.dropQueuedDeletions(items)
		s.publish(items, lastModified, mode)
		s.setStatus(StatusIdle, "")
		return nil
	}

	remoteLM, hasMeta, err := s.remote.ReadMeta(ctx)
	if err != nil {
		return s.fail(span, fmt.Errorf("reading remote meta: %w", err))
	}

	if !force && len(items) > 0 && hasMeta && !lastModified.Before(remoteLM) {
		s.cntCacheHits.Add(ctx, 1)
		s.setStatus(StatusIdle, "")
		return nil
	}
	s.cntCacheMisses.Add(ctx, 1)

	fetched, err := s.remote.ReadAll(ctx)
	if err != nil {
		return s.fail(span, fmt.Errorf("fetching remote collection: %w", err))
	}
	stamp := remoteLM
	if !hasMeta {
		stamp = s.now().UTC()
	}
	if err := s.cache.Write(ctx, fetched, stamp); err != nil {
		s.log.Warn("persisting fetched snapshot failed", "error", err)
	}
	s.publish(fetched, stamp, mode)
	s.setStatus(StatusIdle, "")
	return nil
}

// --- sync --------------------------------------------------------------------

// Sync runs the push phase: queued deletions first, then dirty item upserts.
// It is re-entrant-safe (a concurrent caller no-ops), returns immediately
// when offline, continues past individual item failures, and only clears the
// dirty flag once the ledger has fully drained without error.
func (s *Service) Sync(ctx context.Context) error {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.syncing.Store(false)

	if !s.online() {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, spanSync)
	defer span.End()

	s.setStatus(StatusSyncing, "")

	var firstErr error
	deletionsPushed := 0

	deletions := s.ledger.Deletions()
	queued := make(map[string]struct{}, len(deletions))
	for _, id := range deletions {
		queued[id] = struct{}{}
	}

	// Deletions go out before upserts so an item deleted and then edited
	// before the delete synced is never resurrected.
	for _, id := range deletions {
		if err := s.push(ctx, deleteItem{remoteID: id}); err != nil {
			s.log.Error("pushing deletion failed", "remote_id", id, "error", err)
			s.cntSyncErrors.Add(ctx, 1)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deletionsPushed++
		if err := s.ledger.RemoveDeletion(ctx, id); err != nil {
			s.log.Warn("confirming deletion failed", "remote_id", id, "error", err)
		}
	}

	// A confirmed deletion must also leave the local snapshot and cache, or a
	// later load would republish the item from stale state.
	if deletionsPushed > 0 {
		s.removeFromSnapshot(queued)
		s.persistSnapshot(ctx)
	}

	itemsPushed := 0
	for _, id := range s.ledger.DirtyItems() {
		if _, gone := queued[id]; gone {
			// The id was deleted and edited before either synced: the
			// deletion wins, the dirty mark is stale.
			s.removeDirty(ctx, id)
			continue
		}
		item, ok := s.itemByRemoteID(id)
		if !ok {
			// Ledger entry with no snapshot item: deleted in the meantime,
			// drop it unpushed.
			s.removeDirty(ctx, id)
			continue
		}
		if err := s.push(ctx, upsertItem{item: item}); err != nil {
			s.log.Error("pushing item failed", "remote_id", id, "error", err)
			s.cntSyncErrors.Add(ctx, 1)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		itemsPushed++
		s.removeDirty(ctx, id)
	}

	// Only an actual item push moves the logical clock; deletions and no-op
	// passes leave lastModified untouched.
	if itemsPushed > 0 {
		if err := s.stamp(ctx); err != nil {
			s.log.Error("stamping after sync failed", "error", err)
			s.cntSyncErrors.Add(ctx, 1)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr == nil && s.ledger.Empty() {
		if err := s.ledger.ClearDirty(ctx); err != nil {
			s.log.Warn("clearing dirty flag failed", "error", err)
		}
	}

	if itemsPushed > 0 {
		s.cntItemsPushed.Add(ctx, int64(itemsPushed))
	}
	if deletionsPushed > 0 {
		s.cntDeletionsPushed.Add(ctx, int64(deletionsPushed))
	}
	span.SetAttributes(
		attribute.Int("sync.items_pushed", itemsPushed),
		attribute.Int("sync.deletions_pushed", deletionsPushed),
	)
	if firstErr != nil {
		span.RecordError(firstErr)
	}

	s.setStatus(StatusIdle, "")
	return firstErr
}

// --- mutating actions --------------------------------------------------------

// AddItem saves a track. It returns (false, nil) when a save for the same
// catalog id is already in flight, [ErrDuplicate] when the track is already
// in the library, and a validation error for malformed input.
func (s *Service) AddItem(ctx context.Context, item model.LibraryItem) (bool, error) {
	if err := item.Validate(); err != nil {
		return false, err
	}
	if s.IsSaved(item.CatalogID) {
		return false, ErrDuplicate
	}
	if !s.guard.TryStart(OpSaveTrack, item.CatalogID) {
		return false, nil
	}
	defer s.guard.Finish(OpSaveTrack, item.CatalogID)

	cp := s.prepareNew(item)

	s.mu.Lock()
	if s.findLocked(cp.CatalogID) != nil {
		s.mu.Unlock()
		return false, ErrDuplicate
	}
	s.items = append(s.items, cp)
	model.SortItems(s.items, s.sortMode)
	s.mu.Unlock()

	if err := s.ledger.AddDirtyItem(ctx, cp.RemoteID); err != nil {
		s.log.Warn("recording dirty item failed", "remote_id", cp.RemoteID, "error", err)
	}
	s.persistSnapshot(ctx)
	s.fastPath(ctx, upsertItem{item: cp})
	return true, nil
}

// AddItemsBatch saves several tracks as one action (an album save). The
// guard is held for albumID, invalid tracks are skipped (first validation
// error returned), duplicates are skipped silently, and one fast-path push
// covers the whole batch. Returns the number of tracks actually added.
func (s *Service) AddItemsBatch(ctx context.Context, albumID string, tracks []model.LibraryItem) (int, error) {
	if albumID == "" {
		return 0, fmt.Errorf("album id is required")
	}
	if len(tracks) == 0 {
		return 0, nil
	}
	if !s.guard.TryStart(OpSaveAlbum, albumID) {
		return 0, nil
	}
	defer s.guard.Finish(OpSaveAlbum, albumID)

	var firstErr error
	var added []model.LibraryItem
	for _, track := range tracks {
		if err := track.Validate(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		cp := s.prepareNew(track)

		s.mu.Lock()
		if s.findLocked(cp.CatalogID) != nil {
			s.mu.Unlock()
			continue
		}
		s.items = append(s.items, cp)
		model.SortItems(s.items, s.sortMode)
		s.mu.Unlock()

		if err := s.ledger.AddDirtyItem(ctx, cp.RemoteID); err != nil {
			s.log.Warn("recording dirty item failed", "remote_id", cp.RemoteID, "error", err)
		}
		added = append(added, cp)
	}

	if len(added) == 0 {
		return 0, firstErr
	}

	s.persistSnapshot(ctx)
	intents := make([]writeIntent, 0, len(added))
	for _, cp := range added {
		intents = append(intents, upsertItem{item: cp})
	}
	s.fastPath(ctx, intents...)
	return len(added), firstErr
}

// UpdateRating sets the track's rating and, optionally, its tags (nil leaves
// tags untouched). A rating change appends exactly one history entry;
// writing the current value again appends nothing. Returns (false, nil) when
// an update for the same id is already in flight.
func (s *Service) UpdateRating(ctx context.Context, catalogID string, rating int, tags []string) (bool, error) {
	if !model.ValidRating(rating) {
		return false, fmt.Errorf("rating %d out of range %d..%d", rating, model.MinRating, model.MaxRating)
	}
	if !s.guard.TryStart(OpUpdateRating, catalogID) {
		return false, nil
	}
	defer s.guard.Finish(OpUpdateRating, catalogID)

	s.mu.Lock()
	it := s.findLocked(catalogID)
	if it == nil {
		s.mu.Unlock()
		return false, ErrNotFound
	}
	ratingChanged := it.Rating != rating
	tagsChanged := tags != nil && !slices.Equal(tags, it.Tags)
	if !ratingChanged && !tagsChanged {
		s.mu.Unlock()
		return true, nil
	}
	if ratingChanged {
		it.Rating = rating
		it.RatingHistory = append(it.RatingHistory, model.RatingEntry{Rating: rating, At: s.now().UTC()})
	}
	if tagsChanged {
		it.Tags = slices.Clone(tags)
	}
	cp := it.Clone()
	s.mu.Unlock()

	if err := s.ledger.AddDirtyItem(ctx, cp.RemoteID); err != nil {
		s.log.Warn("recording dirty item failed", "remote_id", cp.RemoteID, "error", err)
	}
	s.persistSnapshot(ctx)
	s.fastPath(ctx, upsertItem{item: cp})
	return true, nil
}

// DeleteItem removes a track from the library, queues its remote deletion,
// and attempts the delete immediately when online. Returns (false, nil) when
// a delete for the same id is already in flight.
func (s *Service) DeleteItem(ctx context.Context, catalogID string) (bool, error) {
	if !s.guard.TryStart(OpDelete, catalogID) {
		return false, nil
	}
	defer s.guard.Finish(OpDelete, catalogID)

	s.mu.Lock()
	idx := -1
	for i := range s.items {
		if s.items[i].CatalogID == catalogID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false, ErrNotFound
	}
	remoteID := s.items[idx].RemoteID
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.mu.Unlock()

	// A deleted item must never sit in both ledgers: drop any dirty mark,
	// then queue the deletion.
	s.removeDirty(ctx, remoteID)
	if err := s.ledger.QueueDeletion(ctx, remoteID); err != nil {
		s.log.Warn("queueing deletion failed", "remote_id", remoteID, "error", err)
	}
	s.persistSnapshot(ctx)
	s.fastPath(ctx, deleteItem{remoteID: remoteID})
	return true, nil
}

// DeleteRatingHistoryEntry removes one entry from a track's rating history.
// The change is pushed immediately, best effort: failures are logged and not
// queued for retry.
func (s *Service) DeleteRatingHistoryEntry(ctx context.Context, catalogID string, index int) error {
	s.mu.Lock()
	it := s.findLocked(catalogID)
	if it == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	if index < 0 || index >= len(it.RatingHistory) {
		s.mu.Unlock()
		return fmt.Errorf("history index %d out of range", index)
	}
	it.RatingHistory = append(it.RatingHistory[:index], it.RatingHistory[index+1:]...)
	remoteID := it.RemoteID
	history := slices.Clone(it.RatingHistory)
	s.mu.Unlock()

	s.persistSnapshot(ctx)

	if s.online() {
		if err := s.push(ctx, patchRatingHistory{remoteID: remoteID, history: history}); err != nil {
			s.log.Warn("pushing rating-history patch failed", "remote_id", remoteID, "error", err)
		}
	}
	return nil
}

// Wipe clears the library: in-memory snapshot, cached snapshot, and ledger.
func (s *Service) Wipe(ctx context.Context) error {
	s.mu.Lock()
	s.items = nil
	s.lastModified = time.Time{}
	s.mu.Unlock()

	return errors.Join(s.cache.Clear(ctx), s.ledger.Wipe(ctx))
}

// --- queries -----------------------------------------------------------------

// Items returns the published library in its current sort order.
func (s *Service) Items() []model.LibraryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneItems(s.items)
}

// FindByCatalogID returns the saved track for the given catalog id.
func (s *Service) FindByCatalogID(catalogID string) (model.LibraryItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it := s.findLocked(catalogID); it != nil {
		return it.Clone(), true
	}
	return model.LibraryItem{}, false
}

// IsSaved reports whether the catalog id is in the library.
func (s *Service) IsSaved(catalogID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(catalogID) != nil
}

// Count returns the number of saved tracks.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// InProgress reports whether an operation of the given kind is currently in
// flight for the given catalog id.
func (s *Service) InProgress(op Op, id string) bool {
	return s.guard.InProgress(op, id)
}

// Dirty reports whether local changes are awaiting remote confirmation.
func (s *Service) Dirty() bool {
	return s.ledger.IsDirty()
}

// Status returns the orchestrator's current state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the message retained by the most recent failed load, or
// "" after a successful pass.
func (s *Service) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastModified returns the snapshot's current freshness stamp.
func (s *Service) LastModified() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastModified
}

// --- internals ---------------------------------------------------------------

// prepareNew normalizes an incoming track: deep copy, client-assigned remote
// id, savedAt stamp, and a seeded history entry when it arrives pre-rated.
func (s *Service) prepareNew(item model.LibraryItem) model.LibraryItem {
	cp := item.Clone()
	if cp.RemoteID == "" {
		cp.RemoteID = s.newID()
	}
	if cp.SavedAt.IsZero() {
		cp.SavedAt = s.now().UTC()
	}
	if cp.Rating != model.MinRating && len(cp.RatingHistory) == 0 {
		cp.RatingHistory = []model.RatingEntry{{Rating: cp.Rating, At: cp.SavedAt}}
	}
	return cp
}

// fastPath attempts an immediate remote push right after a mutating action.
// On success the pushed ledger entries are cleared and the stamps bumped as
// in a full sync, scoped to this action; on failure everything stays in the
// ledger for the next sync.
func (s *Service) fastPath(ctx context.Context, intents ...writeIntent) {
	if !s.online() {
		return
	}
	for _, intent := range intents {
		if err := s.push(ctx, intent); err != nil {
			s.log.Warn("fast-path push failed, deferring to next sync", "error", err)
			s.cntSyncErrors.Add(ctx, 1)
			return
		}
		switch in := intent.(type) {
		case upsertItem:
			s.cntItemsPushed.Add(ctx, 1)
			s.removeDirty(ctx, in.item.RemoteID)
		case deleteItem:
			s.cntDeletionsPushed.Add(ctx, 1)
			if err := s.ledger.RemoveDeletion(ctx, in.remoteID); err != nil {
				s.log.Warn("confirming deletion failed", "remote_id", in.remoteID, "error", err)
			}
		}
	}
	if err := s.stamp(ctx); err != nil {
		s.log.Warn("stamping after fast-path push failed", "error", err)
		return
	}
	if s.ledger.Empty() {
		if err := s.ledger.ClearDirty(ctx); err != nil {
			s.log.Warn("clearing dirty flag failed", "error", err)
		}
	}
}

// stamp moves the logical clock: writes now() to the remote meta document,
// then persists the snapshot under the same stamp. The meta write and the
// local write share one stamp so the cache-trust comparison stays exact.
func (s *Service) stamp(ctx context.Context) error {
	now := s.now().UTC()
	if err := s.remote.WriteMeta(ctx, now); err != nil {
		return fmt.Errorf("writing remote meta: %w", err)
	}

	s.mu.Lock()
	s.lastModified = now
	items := model.CloneItems(s.items)
	s.mu.Unlock()

	if err := s.cache.Write(ctx, items, now); err != nil {
		// Tolerated: the snapshot is re-persisted by the next action.
		s.log.Warn("persisting snapshot after push failed", "error", err)
	}
	return nil
}

// persistSnapshot writes the current in-memory snapshot to the cache.
// Storage failures degrade to a log line; the in-memory state stays
// authoritative for this process.
func (s *Service) persistSnapshot(ctx context.Context) {
	s.mu.Lock()
	items := model.CloneItems(s.items)
	lastModified := s.lastModified
	s.mu.Unlock()

	if err := s.cache.Write(ctx, items, lastModified); err != nil {
		s.log.Warn("persisting snapshot failed", "error", err)
	}
}

func (s *Service) publish(items []model.LibraryItem, lastModified time.Time, mode model.SortMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sortMode = mode
	s.items = items
	s.lastModified = lastModified
	model.SortItems(s.items, mode)
}

func (s *Service) setStatus(st Status, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
	s.lastErr = msg
}

// fail records a load failure: Error status with the message retained for
// the UI, cache left untouched.
func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	s.log.Error("load failed", "error", err)
	s.setStatus(StatusError, err.Error())
	return err
}

// dropQueuedDeletions filters out items whose remote deletion is still
// queued. An id in the deletion queue must never appear in the published
// snapshot, even when a crash left it behind in the cached one.
func (s *Service) dropQueuedDeletions(items []model.LibraryItem) []model.LibraryItem {
	deletions := s.ledger.Deletions()
	if len(deletions) == 0 {
		return items
	}
	queued := make(map[string]struct{}, len(deletions))
	for _, id := range deletions {
		queued[id] = struct{}{}
	}
	kept := items[:0]
	for _, it := range items {
		if _, gone := queued[it.RemoteID]; gone {
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

// removeFromSnapshot drops any items with the given remote ids from the
// in-memory snapshot.
func (s *Service) removeFromSnapshot(ids map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.items[:0]
	for _, it := range s.items {
		if _, gone := ids[it.RemoteID]; gone {
			continue
		}
		kept = append(kept, it)
	}
	s.items = kept
}

func (s *Service) findLocked(catalogID string) *model.LibraryItem {
	for i := range s.items {
		if s.items[i].CatalogID == catalogID {
			return &s.items[i]
		}
	}
	return nil
}

func (s *Service) itemByRemoteID(remoteID string) (model.LibraryItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].RemoteID == remoteID {
			return s.items[i].Clone(), true
		}
	}
	return model.LibraryItem{}, false
}

func (s *Service) removeDirty(ctx context.Context, remoteID string) {
	if err := s.ledger.RemoveDirtyItem(ctx, remoteID); err != nil {
		s.log.Warn("removing dirty item failed", "remote_id", remoteID, "error", err)
	}
}
