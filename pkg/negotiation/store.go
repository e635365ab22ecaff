package negotiation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the in-process session registry. The store lock guards only map
// access; each session carries its own lock, so unrelated negotiations never
// serialize behind one another.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// ttl bounds how long an idle session is retained; completedTTL applies
	// once a verdict has been delivered. Zero disables the respective sweep.
	ttl          time.Duration
	completedTTL time.Duration

	onEvict func(id string)
}

// SetOnEvict registers a callback invoked, outside the store lock, for every
// session removed by Delete or Sweep. Call before the janitor starts.
func (st *Store) SetOnEvict(fn func(id string)) {
	st.onEvict = fn
}

func NewStore(ttl, completedTTL time.Duration) *Store {
	return &Store{
		sessions:     map[string]*Session{},
		ttl:          ttl,
		completedTTL: completedTTL,
	}
}

// Create registers a new session under a fresh opaque id.
func (st *Store) Create() *Session {
	sess := newSession(uuid.NewString(), time.Now())
	st.mu.Lock()
	st.sessions[sess.id] = sess
	st.mu.Unlock()
	return sess
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	sess, ok := st.sessions[id]
	st.mu.RUnlock()
	return sess, ok
}

// Delete evicts a session and reports whether it existed.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if ok && st.onEvict != nil {
		st.onEvict(id)
	}
	return ok
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep evicts sessions idle past their TTL and returns the eviction count.
func (st *Store) Sweep(now time.Time) int {
	st.mu.Lock()
	stale := make([]string, 0)
	for id, sess := range st.sessions {
		idle := now.Sub(sess.lastActiveAt())
		if st.completedTTL > 0 && sess.completed() && idle > st.completedTTL {
			stale = append(stale, id)
			continue
		}
		if st.ttl > 0 && idle > st.ttl {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if st.onEvict != nil {
		for _, id := range stale {
			st.onEvict(id)
		}
	}
	return len(stale)
}

// StartJanitor runs periodic sweeps until ctx is cancelled.
func (st *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				st.Sweep(now)
			}
		}
	}()
}
