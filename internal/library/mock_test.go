package library

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/soundkeep/soundkeep/internal/kv"
	"github.com/soundkeep/soundkeep/internal/model"
	"github.com/soundkeep/soundkeep/internal/state"
)

var testLogger = slog.Default()

// --- Mock remote collection --------------------------------------------------

type mockCollection struct {
	mu      sync.Mutex
	docs    map[string]model.LibraryItem // remote id → document
	meta    time.Time
	hasMeta bool

	// Call counters and the order remote writes arrived in.
	upsertCalls    int
	deleteCalls    int
	patchCalls     int
	readAllCalls   int
	readMetaCalls  int
	writeMetaCalls int
	ops            []string

	// Injected failures.
	failUpsert   map[string]error // remote id → error
	failDelete   map[string]error
	failReadAll  error
	failReadMeta error
}

func newMockCollection() *mockCollection {
	return &mockCollection{
		docs:       make(map[string]model.LibraryItem),
		failUpsert: make(map[string]error),
		failDelete: make(map[string]error),
	}
}

func (m *mockCollection) Upsert(_ context.Context, id string, item model.LibraryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	m.ops = append(m.ops, "upsert:"+id)
	if err := m.failUpsert[id]; err != nil {
		return err
	}
	m.docs[id] = item.Clone()
	return nil
}

func (m *mockCollection) PatchRatingHistory(_ context.Context, id string, history []model.RatingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patchCalls++
	m.ops = append(m.ops, "patch:"+id)
	if doc, ok := m.docs[id]; ok {
		doc.RatingHistory = append([]model.RatingEntry(nil), history...)
		m.docs[id] = doc
	}
	return nil
}

func (m *mockCollection) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	m.ops = append(m.ops, "delete:"+id)
	if err := m.failDelete[id]; err != nil {
		return err
	}
	delete(m.docs, id)
	return nil
}

func (m *mockCollection) ReadAll(_ context.Context) ([]model.LibraryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readAllCalls++
	if m.failReadAll != nil {
		return nil, m.failReadAll
	}
	var out []model.LibraryItem
	for _, doc := range m.docs {
		out = append(out, doc.Clone())
	}
	return out, nil
}

func (m *mockCollection) ReadMeta(_ context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readMetaCalls++
	if m.failReadMeta != nil {
		return time.Time{}, false, m.failReadMeta
	}
	return m.meta, m.hasMeta, nil
}

func (m *mockCollection) WriteMeta(_ context.Context, lastModified time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeMetaCalls++
	m.meta = lastModified
	m.hasMeta = true
	return nil
}

func (m *mockCollection) setMeta(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = at
	m.hasMeta = true
}

func (m *mockCollection) seed(items ...model.LibraryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.docs[it.RemoteID] = it.Clone()
	}
}

func (m *mockCollection) doc(id string) (model.LibraryItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	return doc, ok
}

func (m *mockCollection) docCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (m *mockCollection) opLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ops))
	copy(out, m.ops)
	return out
}

func (m *mockCollection) counts() (upserts, deletes, reads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertCalls, m.deleteCalls, m.readAllCalls
}

// --- Test environment --------------------------------------------------------

// testEnv wires a Service over an in-memory store with a deterministic clock
// (one second per now() call) and sequential remote ids.
type testEnv struct {
	svc    *Service
	col    *mockCollection
	store  kv.Store
	cache  *state.SnapshotCache
	ledger *state.DirtyLedger

	mu     sync.Mutex
	online bool
}

func newTestEnv(t *testing.T, online bool) *testEnv {
	t.Helper()

	store := kv.NewMemory()
	cache := state.NewSnapshotCache(store, testLogger)
	ledger := state.LoadLedger(context.Background(), store, testLogger)
	col := newMockCollection()

	env := &testEnv{
		col:    col,
		store:  store,
		cache:  cache,
		ledger: ledger,
		online: online,
	}
	svc := NewService(col, cache, ledger, env.isOnline, testLogger)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick int64
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	var seq int
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("rid-%d", seq)
	}

	env.svc = svc
	return env
}

func (e *testEnv) isOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

func (e *testEnv) setOnline(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.online = v
}

func track(catalogID, title string) model.LibraryItem {
	return model.LibraryItem{
		CatalogID: catalogID,
		Title:     title,
		Artist:    "Artist",
		Album:     "Album",
	}
}
