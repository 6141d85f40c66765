package challenges

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long an idle flow is retained.
const DefaultTTL = 30 * time.Minute

type entry struct {
	mu        sync.Mutex
	flow      *Flow
	expiresAt time.Time
}

// Store keeps caller-owned flows per visitor session and challenge, serializing access to each
// flow. Idle entries expire after the configured TTL.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*entry
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs an empty store. A non-positive ttl falls back to DefaultTTL.
func NewStore(ttl time.Duration, opts ...StoreOption) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func compositeKey(session, challengeID string) string {
	return session + "\x00" + challengeID
}

// Do runs fn with exclusive access to the flow for session and challengeID, creating it with
// create when absent or expired. The entry's TTL is refreshed on every access.
func (s *Store) Do(session, challengeID string, create func() *Flow, fn func(*Flow) error) error {
	e := s.acquire(session, challengeID, create)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.flow)
}

func (s *Store) acquire(session, challengeID string, create func() *Flow) *entry {
	now := s.now().UTC()
	id := compositeKey(session, challengeID)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !now.Before(e.expiresAt) {
		e = &entry{flow: create()}
		s.entries[id] = e
	}
	e.expiresAt = now.Add(s.ttl)
	return e
}

// Forget drops the flow so the next access starts over.
func (s *Store) Forget(session, challengeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, compositeKey(session, challengeID))
}

// Len reports the number of retained flows, expired ones included until cleanup.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CleanupExpired removes up to limit expired flows. A non-positive limit removes all of them.
func (s *Store) CleanupExpired(now time.Time, limit int) int {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}

	removed := 0
	for id, e := range s.entries {
		if now.Before(e.expiresAt) {
			continue
		}
		delete(s.entries, id)
		removed++
		if removed >= limit {
			break
		}
	}
	return removed
}
