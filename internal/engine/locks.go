package engine

import "sync"

// lockMap hands out one mutex per key, serializing every read-modify-write
// on the same (user, symbol) position or order id. Entries are never
// reclaimed; the map is bounded by the number of distinct keys seen.
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockMap() *lockMap {
	return &lockMap{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for key and returns its unlock function.
func (l *lockMap) acquire(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func positionKey(userID, sym string) string { return userID + "|" + sym }
func orderKey(id string) string             { return "order|" + id }
