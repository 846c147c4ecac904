package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/repositories"
)

// SessionRepository keeps rating sessions in process memory. It is intended for local
// development and tests; sessions are lost on restart.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.RatingSession
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs an empty repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]domain.RatingSession)}
}

// Get returns a copy of the stored session.
func (r *SessionRepository) Get(_ context.Context, sessionID string) (domain.RatingSession, error) {
	id := strings.TrimSpace(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return domain.RatingSession{}, notFound("sessions.get", id)
	}
	return session.Clone(), nil
}

// Save stores a copy of session, replacing any previous version.
func (r *SessionRepository) Save(_ context.Context, session domain.RatingSession) error {
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return errors.New("session repository: id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[id] = session.Clone()
	return nil
}

// DeleteExpired removes sessions whose expiry is at or before cutoff.
func (r *SessionRepository) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, session := range r.sessions {
		if session.Expired(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored sessions.
func (r *SessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
