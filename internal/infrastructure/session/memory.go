// Package session holds the two SessionStore implementations: an in-process
// map for single-node deployments and a postgres-backed store for everything
// else.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rialtolabs/ragcore/internal/core/domain"
)

// MemoryStore keeps full histories in process memory. With maxSessions > 0
// the least recently touched session is evicted once the bound is exceeded.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*domain.Session
	maxSessions int
}

func NewMemoryStore(maxSessions int) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*domain.Session),
		maxSessions: maxSessions,
	}
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &domain.Session{ID: sessionID, CreatedAt: time.Now().UTC()}
		s.sessions[sessionID] = sess
		s.evictLocked(sessionID)
	}
	sess.Turns = append(sess.Turns, turn)
	sess.UpdatedAt = turn.CreatedAt
	return nil
}

func (s *MemoryStore) History(_ context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}

	turns := sess.Turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemoryStore) Reset(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// evictLocked drops the stalest session other than keep when over the bound.
func (s *MemoryStore) evictLocked(keep string) {
	if s.maxSessions <= 0 || len(s.sessions) <= s.maxSessions {
		return
	}
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for id, sess := range s.sessions {
		if id == keep {
			continue
		}
		if !found || sess.UpdatedAt.Before(oldest) {
			victim = id
			oldest = sess.UpdatedAt
			found = true
		}
	}
	if found {
		delete(s.sessions, victim)
	}
}
