// Package session keeps per-user conversation history between requests.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

type Session struct {
	Messages   []message.Message
	System     []message.Block
	LastActive time.Time
}

// Store is an in-memory map of user ID to session.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
	logger   *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
		logger:   logger,
	}
}

// Get returns a copy of the user's history and marks the session active.
func (s *Store) Get(userID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return Session{}, false
	}
	sess.LastActive = s.now()
	return Session{
		Messages:   append([]message.Message(nil), sess.Messages...),
		System:     append([]message.Block(nil), sess.System...),
		LastActive: sess.LastActive,
	}, true
}

func (s *Store) Put(userID string, messages []message.Message, system []message.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[userID] = &Session{
		Messages:   append([]message.Message(nil), messages...),
		System:     append([]message.Block(nil), system...),
		LastActive: s.now(),
	}
}

// Delete reports whether the user had a session.
func (s *Store) Delete(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[userID]
	delete(s.sessions, userID)
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than maxIdle and returns how many
// were removed.
func (s *Store) Sweep(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActive.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(maxIdle); n > 0 {
				s.logger.Info("Removed inactive sessions", "count", n)
			}
		}
	}
}
