// Package memory provides an in-memory SessionStore for tests and for
// running the service without a database.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"callwave-backend/internal/domain"
	apperrors "callwave-backend/pkg/errors"
)

// SessionRepository keeps session documents in a map. Update serializes
// mutators per document with a single lock, mirroring the per-document
// atomicity of the durable store.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID][]byte
}

// NewSessionRepository creates an empty in-memory session store
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[uuid.UUID][]byte),
	}
}

// Create inserts a new session document
func (r *SessionRepository) Create(ctx context.Context, session *domain.CallSession) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	r.sessions[session.ID] = doc
	return nil
}

// Get retrieves a copy of a session document
func (r *SessionRepository) Get(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.getLocked(sessionID)
}

// Update applies mutate under the store lock; the read-modify-write is
// atomic per document and a mutator error leaves the document untouched
func (r *SessionRepository) Update(ctx context.Context, sessionID uuid.UUID, mutate func(*domain.CallSession) error) (*domain.CallSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.getLocked(sessionID)
	if err != nil {
		return nil, err
	}

	if err := mutate(session); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	r.sessions[sessionID] = doc

	return session, nil
}

// FindActiveForUser retrieves sessions the user is actively part of
func (r *SessionRepository) FindActiveForUser(ctx context.Context, userID uuid.UUID) ([]*domain.CallSession, error) {
	return r.find(func(s *domain.CallSession) bool {
		if s.Status != domain.SessionStatusActive && s.Status != domain.SessionStatusScheduled {
			return false
		}
		p := s.FindParticipant(userID)
		return p != nil && p.IsActive
	}, 0, 0)
}

// FindHistoryForUser retrieves every session the user took part in,
// newest first
func (r *SessionRepository) FindHistoryForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	return r.find(func(s *domain.CallSession) bool {
		return s.FindParticipant(userID) != nil
	}, limit, offset)
}

func (r *SessionRepository) find(match func(*domain.CallSession) bool, limit, offset int) ([]*domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*domain.CallSession
	for id := range r.sessions {
		session, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}
		if match(session) {
			matched = append(matched, session)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	if offset > 0 {
		if offset >= len(matched) {
			return nil, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

// getLocked decodes a fresh copy so callers never alias stored state
func (r *SessionRepository) getLocked(sessionID uuid.UUID) (*domain.CallSession, error) {
	doc, ok := r.sessions[sessionID]
	if !ok {
		return nil, apperrors.SessionNotFoundError()
	}

	var session domain.CallSession
	if err := json.Unmarshal(doc, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}
