package cockroach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callwave-backend/internal/domain"
	apperrors "callwave-backend/pkg/errors"
)

// SessionRepository stores call sessions as JSONB documents. The indexed
// columns (host, status, started_at) are maintained alongside the document
// for querying; the document itself is the source of truth.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionSchema = `
	CREATE TABLE IF NOT EXISTS call_sessions (
		session_id UUID PRIMARY KEY,
		host_id    UUID NOT NULL,
		status     STRING NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		doc        JSONB NOT NULL,
		INDEX (host_id),
		INDEX (status)
	)
`

// Migrate creates the call_sessions table if it does not exist
func (r *SessionRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, sessionSchema); err != nil {
		return fmt.Errorf("failed to create call_sessions table: %w", err)
	}
	return nil
}

// Create inserts a new session document
func (r *SessionRepository) Create(ctx context.Context, session *domain.CallSession) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	query := `
		INSERT INTO call_sessions (session_id, host_id, status, started_at, doc)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = r.pool.Exec(ctx, query,
		session.ID,
		session.HostID,
		string(session.Status),
		session.StartedAt,
		doc,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Get retrieves a session document by ID
func (r *SessionRepository) Get(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	query := `SELECT doc FROM call_sessions WHERE session_id = $1`

	var doc []byte
	if err := r.pool.QueryRow(ctx, query, sessionID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.SessionNotFoundError()
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return unmarshalSession(doc)
}

// Update applies mutate to the session document inside a transaction holding
// a row lock, making the read-modify-write atomic per document. A mutator
// error aborts without persisting.
func (r *SessionRepository) Update(ctx context.Context, sessionID uuid.UUID, mutate func(*domain.CallSession) error) (*domain.CallSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var doc []byte
	query := `SELECT doc FROM call_sessions WHERE session_id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, query, sessionID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.SessionNotFoundError()
		}
		return nil, fmt.Errorf("failed to read session for update: %w", err)
	}

	session, err := unmarshalSession(doc)
	if err != nil {
		return nil, err
	}

	if err := mutate(session); err != nil {
		return nil, err
	}

	updated, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	update := `
		UPDATE call_sessions
		SET host_id = $2, status = $3, started_at = $4, doc = $5
		WHERE session_id = $1
	`
	if _, err := tx.Exec(ctx, update, sessionID, session.HostID, string(session.Status), session.StartedAt, updated); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit session update: %w", err)
	}

	return session, nil
}

// FindActiveForUser retrieves sessions the user is actively part of
func (r *SessionRepository) FindActiveForUser(ctx context.Context, userID uuid.UUID) ([]*domain.CallSession, error) {
	member, err := participantFilter(userID, true)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT doc FROM call_sessions
		WHERE status IN ('active', 'scheduled')
		  AND doc -> 'participants' @> $1
		ORDER BY started_at DESC
	`

	return r.querySessions(ctx, query, member)
}

// FindHistoryForUser retrieves every session the user took part in,
// newest first
func (r *SessionRepository) FindHistoryForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	member, err := participantFilter(userID, false)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT doc FROM call_sessions
		WHERE doc -> 'participants' @> $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	return r.querySessions(ctx, query, member, limit, offset)
}

func (r *SessionRepository) querySessions(ctx context.Context, query string, args ...interface{}) ([]*domain.CallSession, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.CallSession
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		session, err := unmarshalSession(doc)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// participantFilter builds the JSONB containment argument matching one
// participant entry
func participantFilter(userID uuid.UUID, activeOnly bool) ([]byte, error) {
	entry := map[string]interface{}{"user_id": userID.String()}
	if activeOnly {
		entry["is_active"] = true
	}
	filter, err := json.Marshal([]interface{}{entry})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participant filter: %w", err)
	}
	return filter, nil
}

func unmarshalSession(doc []byte) (*domain.CallSession, error) {
	var session domain.CallSession
	if err := json.Unmarshal(doc, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}
