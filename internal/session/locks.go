package session

import "sync"

// LockTable serializes invoice-record mutation per session. Shared mode
// admits concurrent readers; exclusive mode admits the single writer that
// mints a draft or settles a payment. Different sessions never contend.
//
// An advisory file lock would serve the same role across processes; with the
// records and ledger owned by one process, a keyed mutex is the whole story.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*sync.RWMutex)}
}

func (t *LockTable) lock(sessionID string) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[sessionID]
	if !ok {
		l = &sync.RWMutex{}
		t.locks[sessionID] = l
	}
	return l
}

// Lock acquires the session's lock exclusively and returns the release
// function. Callers defer the release so every exit path unlocks.
func (t *LockTable) Lock(sessionID string) func() {
	l := t.lock(sessionID)
	l.Lock()
	return l.Unlock
}

// RLock acquires the session's lock shared.
func (t *LockTable) RLock(sessionID string) func() {
	l := t.lock(sessionID)
	l.RLock()
	return l.RUnlock
}
