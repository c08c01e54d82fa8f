package call

import (
	"context"

	"github.com/google/uuid"

	"callwave-backend/internal/domain"
)

// SessionStore is the durable document store for call sessions. Update is an
// atomic read-modify-write on one session document; the store guarantees no
// concurrent mutator runs against the same document.
type SessionStore interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error)
	Create(ctx context.Context, session *domain.CallSession) error
	Update(ctx context.Context, sessionID uuid.UUID, mutate func(*domain.CallSession) error) (*domain.CallSession, error)
	FindActiveForUser(ctx context.Context, userID uuid.UUID) ([]*domain.CallSession, error)
	FindHistoryForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error)
}
