package library

import "sync"

// Op identifies the kind of mutating operation for guard scoping.
type Op string

const (
	OpSaveTrack    Op = "save-track"
	OpSaveAlbum    Op = "save-album"
	OpUpdateRating Op = "update-rating"
	OpDelete       Op = "delete"
)

// Guard prevents duplicate concurrent mutations on the same target: locks
// are scoped per (operation kind, id), so a rating update and a delete on two
// different ids never block each other, while a second rating update on the
// same id is rejected rather than queued.
type Guard struct {
	mu       sync.Mutex
	inFlight map[guardKey]struct{}
}

type guardKey struct {
	op Op
	id string
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{inFlight: make(map[guardKey]struct{})}
}

// TryStart acquires the lock for (op, id). It returns false when the same
// operation is already in flight for that id.
func (g *Guard) TryStart(op Op, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := guardKey{op: op, id: id}
	if _, held := g.inFlight[key]; held {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

// Finish releases the lock for (op, id). Releasing an unheld lock is a no-op.
func (g *Guard) Finish(op Op, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, guardKey{op: op, id: id})
}

// InProgress reports whether (op, id) is currently locked. Backs the UI's
// per-operation "is in progress" predicates.
func (g *Guard) InProgress(op Op, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.inFlight[guardKey{op: op, id: id}]
	return held
}
