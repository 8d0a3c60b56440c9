package upload

import (
	"context"
	"sync"
	"time"
)

const defaultSessionTTL = 30 * time.Minute

// MemoryStore keeps upload sessions in process memory. Sessions that stall
// are reclaimed by PurgeExpired, which the server runs on a timer.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*memorySession
	now      func() time.Time
}

type memorySession struct {
	chunks  map[int][]byte
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, sessionID string, index int, data []byte) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess := s.sessions[sessionID]
	if sess != nil && now.After(sess.expires) {
		sess = nil
	}
	if sess == nil {
		sess = &memorySession{chunks: make(map[int][]byte)}
		s.sessions[sessionID] = sess
	}
	sess.expires = now.Add(s.ttl)
	if _, exists := sess.chunks[index]; exists {
		return false, len(sess.chunks), nil
	}
	sess.chunks[index] = append([]byte(nil), data...)
	return true, len(sess.chunks), nil
}

func (s *MemoryStore) Take(_ context.Context, sessionID string) (map[int][]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionID]
	if sess == nil {
		return nil, false, nil
	}
	delete(s.sessions, sessionID)
	if s.now().After(sess.expires) {
		return nil, false, nil
	}
	return sess.chunks, true, nil
}

func (s *MemoryStore) Discard(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// PurgeExpired drops sessions whose deadline passed and reports how many
// were removed.
func (s *MemoryStore) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if now.After(sess.expires) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
