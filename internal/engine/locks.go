package engine

import "sync"

// sessionLocks makes the single-writer-per-session assumption explicit: a
// turn holds its session's slot for the duration of the extraction run,
// and a second concurrent turn for the same session is rejected rather
// than queued.
type sessionLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{held: make(map[string]bool)}
}

// acquire reports whether the session slot was free and is now held.
func (l *sessionLocks) acquire(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[sessionID] {
		return false
	}
	l.held[sessionID] = true
	return true
}

func (l *sessionLocks) release(sessionID string) {
	l.mu.Lock()
	delete(l.held, sessionID)
	l.mu.Unlock()
}
