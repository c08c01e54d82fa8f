package call

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"callwave-backend/internal/domain"
	"callwave-backend/pkg/constants"
	"callwave-backend/pkg/errors"
	"callwave-backend/pkg/password"
	"callwave-backend/pkg/sanitize"
	"callwave-backend/pkg/token"
)

// Service owns the call session state machine. Every mutating operation is a
// single read-modify-write against the session store, bounded by a fixed
// timeout, and persists the updated document before returning.
type Service struct {
	store SessionStore
	creds *token.Provider
}

// NewService creates a new call service
func NewService(store SessionStore, creds *token.Provider) *Service {
	return &Service{
		store: store,
		creds: creds,
	}
}

// CreateInput contains session creation data
type CreateInput struct {
	HostID       uuid.UUID
	HostVerified bool
	Kind         domain.CallKind
	Mode         domain.CallMode
	Title        string
	Description  string
	// MaxParticipants of 0 means the default cap
	MaxParticipants int
	Settings        domain.SessionSettings
	// Password is the plaintext room password; hashed before storage
	Password     string
	ScheduledFor *time.Time
}

// Create starts a new call session with the host as first participant
func (s *Service) Create(ctx context.Context, input *CreateInput) (*domain.CallSession, error) {
	if !input.HostVerified {
		return nil, errors.ValidationError("Caller identity is not verified")
	}

	maxParticipants := input.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = constants.DefaultMaxParticipants
	}

	settings := input.Settings
	if input.Password != "" {
		hash, err := password.Hash(input.Password)
		if err != nil {
			return nil, errors.WrapWithStatus(errors.ErrCodeInternal, "failed to hash password", 500, err)
		}
		settings.RequirePassword = true
		settings.PasswordHash = hash
	}

	session, err := domain.NewCallSession(input.HostID, input.Kind, input.Mode, maxParticipants, settings, input.ScheduledFor, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	session.Title = sanitize.Title(input.Title)
	session.Description = sanitize.Title(input.Description)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.store.Create(ctx, session); err != nil {
		return nil, s.storeError("create session", err)
	}

	return session, nil
}

// CanJoin checks join eligibility for a user, including the session password
// when one is required
func (s *Service) CanJoin(ctx context.Context, sessionID, userID uuid.UUID, passcode string) (domain.JoinDecision, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return domain.JoinDecision{}, err
	}

	if session.Settings.RequirePassword {
		if p := session.FindParticipant(userID); p == nil || !p.IsActive {
			if !password.Matches(session.Settings.PasswordHash, passcode) {
				return domain.JoinDecision{Reason: "Incorrect password"}, nil
			}
		}
	}

	return session.CanJoin(userID), nil
}

// Join admits a user into the session. Idempotent for repeated joins; the
// returned flag is false when the user was already active and nothing
// changed, so callers can suppress duplicate announcements.
func (s *Service) Join(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallSession, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var joined bool
	session, err := s.store.Update(ctx, sessionID, func(session *domain.CallSession) error {
		p := session.FindParticipant(userID)
		joined = p == nil || !p.IsActive
		_, err := session.Join(userID, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, false, s.storeError("join", err)
	}

	return session, joined, nil
}

// Leave removes a user from the session, running host failover or auto-end
// as side effects
func (s *Service) Leave(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallSession, domain.LeaveOutcome, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var outcome domain.LeaveOutcome
	session, err := s.store.Update(ctx, sessionID, func(session *domain.CallSession) error {
		var err error
		outcome, err = session.Leave(userID, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, domain.LeaveOutcome{}, s.storeError("leave", err)
	}

	return session, outcome, nil
}

// End terminates the session on behalf of the host or a moderator
func (s *Service) End(ctx context.Context, sessionID, actorID uuid.UUID) (*domain.CallSession, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	session, err := s.store.Update(ctx, sessionID, func(session *domain.CallSession) error {
		return session.End(actorID, time.Now().UTC())
	})
	if err != nil {
		return nil, s.storeError("end", err)
	}

	return session, nil
}

// Cancel cancels a scheduled or active session on behalf of the host
func (s *Service) Cancel(ctx context.Context, sessionID, actorID uuid.UUID) (*domain.CallSession, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	session, err := s.store.Update(ctx, sessionID, func(session *domain.CallSession) error {
		return session.Cancel(actorID, time.Now().UTC())
	})
	if err != nil {
		return nil, s.storeError("cancel", err)
	}

	return session, nil
}

// Invite creates pending invitations for the targets that do not already
// hold one. Returns the session and the user ids actually invited.
func (s *Service) Invite(ctx context.Context, sessionID, inviterID uuid.UUID, targetIDs []uuid.UUID) (*domain.CallSession, []uuid.UUID, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var invited []uuid.UUID
	session, err := s.store.Update(ctx, sessionID, func(session *domain.CallSession) error {
		var err error
		invited, err = session.Invite(inviterID, targetIDs, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, nil, s.storeError("invite", err)
	}

	return session, invited, nil
}

// RespondToInvitation records the user's answer to their pending invitation
func (s *Service) RespondToInvitation(ctx context.Context, sessionID, userID uuid.UUID, accept bool) (*domain.CallSession, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	session, err := s.store.Update(ctx, sessionID, func(session *domain.CallSession) error {
		return session.RespondToInvitation(userID, accept, time.Now().UTC())
	})
	if err != nil {
		return nil, s.storeError("respond to invitation", err)
	}

	return session, nil
}

// UpdateMedia merges the present boolean toggles into the user's media state.
// Returns nil state when the user is not an active participant (no-op).
func (s *Service) UpdateMedia(ctx context.Context, sessionID, userID uuid.UUID, patch domain.MediaPatch) (*domain.CallSession, *domain.MediaState, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var state *domain.MediaState
	session, err := s.store.Update(ctx, sessionID, func(session *domain.CallSession) error {
		var err error
		state, err = session.ApplyMediaPatch(userID, patch, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, nil, s.storeError("update media", err)
	}

	return session, state, nil
}

// AppendChat appends a chat message and returns it
func (s *Service) AppendChat(ctx context.Context, sessionID, userID uuid.UUID, text string, msgType domain.ChatMessageType) (*domain.CallSession, *domain.ChatMessage, error) {
	text = sanitize.Message(text)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var msg *domain.ChatMessage
	session, err := s.store.Update(ctx, sessionID, func(session *domain.CallSession) error {
		var err error
		msg, err = session.AppendChat(userID, text, msgType, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, nil, s.storeError("append chat", err)
	}

	return session, msg, nil
}

// Get retrieves one session
func (s *Service) Get(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, s.storeError("get session", err)
	}

	return session, nil
}

// GetActiveForUser retrieves the sessions a user is actively part of
func (s *Service) GetActiveForUser(ctx context.Context, userID uuid.UUID) ([]*domain.CallSession, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	sessions, err := s.store.FindActiveForUser(ctx, userID)
	if err != nil {
		return nil, s.storeError("find active sessions", err)
	}

	return sessions, nil
}

// GetHistory retrieves a user's call history, newest first
func (s *Service) GetHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	if limit == 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	sessions, err := s.store.FindHistoryForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, s.storeError("find call history", err)
	}

	return sessions, nil
}

// IssueCredential issues a media-relay credential for an active participant
// of the session. Broadcast viewers get subscriber tokens; everyone else
// publishes.
func (s *Service) IssueCredential(ctx context.Context, sessionID, userID uuid.UUID) (*token.Credential, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	p := session.FindParticipant(userID)
	if p == nil || !p.IsActive {
		return nil, errors.ForbiddenError("Only active participants can request media credentials")
	}

	role := token.RolePublisher
	if session.Mode == domain.CallModeBroadcast && p.Role == domain.RoleParticipant {
		role = token.RoleSubscriber
	}

	cred, err := s.creds.Issue(session.ChannelName, userID, role, constants.MediaTokenExpiry)
	if err != nil {
		return nil, err
	}

	return cred, nil
}

// bound applies the fixed store-call timeout to ctx
func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, constants.StoreTimeout)
}

// storeError maps deadline expiry to Timeout and passes AppErrors through
func (s *Service) storeError(operation string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.WrapTimeout(operation, err)
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return errors.DatabaseError(err)
}
