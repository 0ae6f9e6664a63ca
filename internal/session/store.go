// Package session provides the in-memory chat session registry.
//
// Sessions are deliberately ephemeral: a service restart discards them and
// clients are expected to create a new session. Expiry is enforced lazily on
// access; the optional background sweeper only reclaims memory for sessions
// that are never touched again.
package session

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Config holds session store limits.
type Config struct {
	// TTL is the sliding idle timeout. Every successful read or write access
	// resets the clock.
	TTL time.Duration

	// MaxMessages caps the number of messages per session.
	MaxMessages int

	// MaxPerOwner caps concurrently active (non-expired) sessions per owner.
	MaxPerOwner int
}

// Store is the in-memory session registry.
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl         time.Duration
	maxMessages int
	maxPerOwner int

	logger *slog.Logger

	// now is overridable in tests.
	now func() time.Time
}

// New creates a session store. Zero limits fall back to safe defaults
// (30 minute TTL, 20 messages, 1 session per owner).
func New(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 20
	}
	if cfg.MaxPerOwner <= 0 {
		cfg.MaxPerOwner = 1
	}

	return &Store{
		sessions:    make(map[string]*Session),
		ttl:         cfg.TTL,
		maxMessages: cfg.MaxMessages,
		maxPerOwner: cfg.MaxPerOwner,
		logger:      logger,
		now:         time.Now,
	}
}

// expired reports whether the session's idle TTL elapsed at time now.
func (s *Store) expired(sess *Session, now time.Time) bool {
	return now.Sub(sess.LastActivity) > s.ttl
}

// sameOwner compares owner identifiers in constant time.
func sameOwner(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// snapshot returns a defensive copy of the session with ExpiresAt filled in.
func (s *Store) snapshot(sess *Session) *Session {
	cp := *sess
	cp.Messages = make([]Message, len(sess.Messages))
	copy(cp.Messages, sess.Messages)
	cp.ExpiresAt = sess.LastActivity.Add(s.ttl)
	return &cp
}

// Create registers a new session for ownerID about subjectID with the given
// pre-loaded context. It returns ErrSessionLimit when the owner already has
// the maximum number of active sessions; expired sessions never count toward
// the limit and are reclaimed here.
func (s *Store) Create(ownerID, subjectID, contextPayload string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Reclaim whatever has expired before counting the owner's sessions.
	active := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			continue
		}
		if sameOwner(sess.OwnerID, ownerID) {
			active++
		}
	}
	if active >= s.maxPerOwner {
		return nil, ErrSessionLimit
	}

	sess := &Session{
		ID:           NewID(),
		OwnerID:      ownerID,
		SubjectID:    subjectID,
		Context:      contextPayload,
		Messages:     make([]Message, 0),
		CreatedAt:    now,
		LastActivity: now,
	}
	s.sessions[sess.ID] = sess

	s.logger.Debug("created session", "session_id", sess.ID, "subject_id", subjectID)
	return s.snapshot(sess), nil
}

// Get returns a snapshot of the session and refreshes its TTL.
//
// Ownership is checked before expiry, so a caller probing another user's
// session gets ErrForbidden whether or not the session is still alive.
// Expired sessions are evicted as a side effect.
func (s *Store) Get(id, ownerID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !sameOwner(sess.OwnerID, ownerID) {
		return nil, ErrForbidden
	}
	if s.expired(sess, s.now()) {
		delete(s.sessions, id)
		return nil, ErrExpired
	}

	sess.LastActivity = s.now()
	return s.snapshot(sess), nil
}

// Append adds a message to the session and refreshes its TTL.
// The message cap applies to the combined user and assistant history;
// an append that would exceed it fails with ErrMessageLimit without
// modifying the session.
func (s *Store) Append(id, ownerID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if !sameOwner(sess.OwnerID, ownerID) {
		return ErrForbidden
	}
	now := s.now()
	if s.expired(sess, now) {
		delete(s.sessions, id)
		return ErrExpired
	}
	if len(sess.Messages) >= s.maxMessages {
		return ErrMessageLimit
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	sess.Messages = append(sess.Messages, msg)
	sess.LastActivity = now
	return nil
}

// ListByOwner returns snapshots of the owner's active sessions sorted by
// most recent activity first. Expired sessions are evicted, not listed.
func (s *Store) ListByOwner(ownerID string) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var result []*Session
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			continue
		}
		if sameOwner(sess.OwnerID, ownerID) {
			result = append(result, s.snapshot(sess))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivity.After(result[j].LastActivity)
	})
	return result
}

// Delete removes the session. Deleting an already-expired session succeeds;
// the caller asked for it to be gone and it is.
func (s *Store) Delete(id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if !sameOwner(sess.OwnerID, ownerID) {
		return ErrForbidden
	}

	delete(s.sessions, id)
	s.logger.Debug("deleted session", "session_id", id)
	return nil
}

// Stats describes the current store population and configured limits.
type Stats struct {
	ActiveSessions int           `json:"active_sessions"`
	TotalMessages  int           `json:"total_messages"`
	MaxMessages    int           `json:"max_messages"`
	MaxPerOwner    int           `json:"max_sessions_per_owner"`
	TTL            time.Duration `json:"session_ttl_seconds"`
}

// Stats returns a point-in-time view of the store. Expired sessions are
// swept first so the counts reflect only live entries.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	total := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			continue
		}
		total += len(sess.Messages)
	}

	return Stats{
		ActiveSessions: len(s.sessions),
		TotalMessages:  total,
		MaxMessages:    s.maxMessages,
		MaxPerOwner:    s.maxPerOwner,
		TTL:            s.ttl / time.Second,
	}
}

// sweep evicts all expired sessions and returns how many were removed.
func (s *Store) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs a periodic sweep until ctx is canceled.
//
// The sweeper is memory hygiene only: lazy eviction on access already
// guarantees that no expired session is ever served. Blocks; run it in its
// own goroutine.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				s.logger.Debug("swept expired sessions", "count", n)
			}
		}
	}
}
