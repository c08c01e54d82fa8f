package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"callwave-backend/pkg/constants"
	"callwave-backend/pkg/errors"
)

// CallKind identifies the media composition of a session
type CallKind string

const (
	CallKindVideo  CallKind = "video"
	CallKindAudio  CallKind = "audio"
	CallKindScreen CallKind = "screen"
)

// CallMode identifies how participants relate to each other
type CallMode string

const (
	CallModeDirect     CallMode = "direct"
	CallModeGroup      CallMode = "group"
	CallModeBroadcast  CallMode = "broadcast"
	CallModeConference CallMode = "conference"
)

// SessionStatus is the lifecycle state of a call session.
// scheduled -> active -> ended; scheduled|active -> cancelled.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusEnded     SessionStatus = "ended"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// ParticipantRole determines a participant's capability set
type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleParticipant ParticipantRole = "participant"
	RoleModerator   ParticipantRole = "moderator"
)

// InvitationStatus is the lifecycle state of an invitation
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

// ConnectionQuality is the reported link quality of a participant
type ConnectionQuality string

const (
	QualityUnknown ConnectionQuality = "unknown"
	QualityGood    ConnectionQuality = "good"
	QualityFair    ConnectionQuality = "fair"
	QualityPoor    ConnectionQuality = "poor"
)

// ChatMessageType distinguishes user text from system notices
type ChatMessageType string

const (
	ChatMessageText   ChatMessageType = "text"
	ChatMessageSystem ChatMessageType = "system"
)

// Permissions is the capability set of a participant. It is computed from
// the role, never stored drift-prone booleans mutated ad hoc.
type Permissions struct {
	CanInvite bool `json:"can_invite"`
	CanMute   bool `json:"can_mute"`
	CanKick   bool `json:"can_kick"`
	CanRecord bool `json:"can_record"`
}

// PermissionsForRole computes the capability set for a role
func PermissionsForRole(role ParticipantRole) Permissions {
	switch role {
	case RoleHost:
		return Permissions{CanInvite: true, CanMute: true, CanKick: true, CanRecord: true}
	case RoleModerator:
		return Permissions{CanInvite: true, CanMute: true, CanKick: true}
	default:
		return Permissions{}
	}
}

// MediaState holds a participant's current media toggles
type MediaState struct {
	AudioEnabled  bool `json:"audio_enabled"`
	VideoEnabled  bool `json:"video_enabled"`
	ScreenSharing bool `json:"screen_sharing"`
}

// MediaPatch carries only the toggles present in an update request
type MediaPatch struct {
	AudioEnabled  *bool `json:"audio_enabled,omitempty"`
	VideoEnabled  *bool `json:"video_enabled,omitempty"`
	ScreenSharing *bool `json:"screen_sharing,omitempty"`
}

// SessionSettings controls join eligibility and in-call features
type SessionSettings struct {
	WaitingRoom      bool   `json:"waiting_room"`
	AllowChat        bool   `json:"allow_chat"`
	AllowScreenShare bool   `json:"allow_screen_share"`
	AllowRecording   bool   `json:"allow_recording"`
	MuteOnJoin       bool   `json:"mute_on_join"`
	RequirePassword  bool   `json:"require_password"`
	PasswordHash     string `json:"password_hash,omitempty"`
	LockRoom         bool   `json:"lock_room"`
}

// DefaultSettings returns the settings applied when a session is created
// without explicit settings
func DefaultSettings() SessionSettings {
	return SessionSettings{AllowChat: true, AllowScreenShare: true}
}

// Participant is a user's membership record within a call session,
// active or historical
type Participant struct {
	UserID      uuid.UUID         `json:"user_id"`
	Role        ParticipantRole   `json:"role"`
	Permissions Permissions       `json:"permissions"`
	Media       MediaState        `json:"media"`
	Quality     ConnectionQuality `json:"quality"`
	IsActive    bool              `json:"is_active"`
	JoinedAt    time.Time         `json:"joined_at"`
	LeftAt      *time.Time        `json:"left_at,omitempty"`
	Duration    int               `json:"duration,omitempty"` // seconds
}

// Invitation is a pending or answered invite into a session
type Invitation struct {
	UserID      uuid.UUID        `json:"user_id"`
	InvitedBy   uuid.UUID        `json:"invited_by"`
	Status      InvitationStatus `json:"status"`
	InvitedAt   time.Time        `json:"invited_at"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
}

// ChatMessage is one entry of the session's append-only chat log
type ChatMessage struct {
	ID     uuid.UUID       `json:"id"`
	UserID uuid.UUID       `json:"user_id"`
	Text   string          `json:"text"`
	Type   ChatMessageType `json:"type"`
	SentAt time.Time       `json:"sent_at"`
}

// CallSession is the aggregate root for one call/meeting instance
type CallSession struct {
	ID          uuid.UUID     `json:"id"`
	ChannelName string        `json:"channel_name"`
	Kind        CallKind      `json:"kind"`
	Mode        CallMode      `json:"mode"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	HostID      uuid.UUID     `json:"host_id"`
	Status      SessionStatus `json:"status"`

	MaxParticipants int             `json:"max_participants"`
	Settings        SessionSettings `json:"settings"`

	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Duration     int        `json:"duration,omitempty"` // seconds

	Participants []Participant `json:"participants"`
	Invitations  []Invitation  `json:"invitations"`
	Messages     []ChatMessage `json:"messages"`

	// Derived analytics, recomputed on every mutation
	ActiveParticipantsCount   int `json:"active_participants_count"`
	TotalParticipants         int `json:"total_participants"`
	MaxConcurrentParticipants int `json:"max_concurrent_participants"`
	TotalMessages             int `json:"total_messages"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCallSession creates a session with the host as its first participant.
// Status is active, or scheduled when scheduledFor lies in the future.
func NewCallSession(hostID uuid.UUID, kind CallKind, mode CallMode, maxParticipants int, settings SessionSettings, scheduledFor *time.Time, now time.Time) (*CallSession, error) {
	if maxParticipants < constants.MinSessionParticipants || maxParticipants > constants.MaxSessionParticipants {
		return nil, errors.ValidationError("maxParticipants must be between 2 and 1000")
	}
	if hostID == uuid.Nil {
		return nil, errors.MissingFieldError("hostId")
	}

	status := SessionStatusActive
	if scheduledFor != nil && scheduledFor.After(now) {
		status = SessionStatusScheduled
	}

	id := uuid.New()
	session := &CallSession{
		ID:              id,
		ChannelName:     "call-" + strings.ReplaceAll(id.String(), "-", ""),
		Kind:            kind,
		Mode:            mode,
		HostID:          hostID,
		Status:          status,
		MaxParticipants: maxParticipants,
		Settings:        settings,
		ScheduledFor:    scheduledFor,
		StartedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	session.Participants = append(session.Participants, Participant{
		UserID:      hostID,
		Role:        RoleHost,
		Permissions: PermissionsForRole(RoleHost),
		Media: MediaState{
			AudioEnabled: !settings.MuteOnJoin,
			VideoEnabled: kind == CallKindVideo,
		},
		Quality:  QualityUnknown,
		IsActive: true,
		JoinedAt: now,
	})
	session.recompute()

	return session, nil
}

// IsTerminal reports whether the session reached ended or cancelled
func (s *CallSession) IsTerminal() bool {
	return s.Status == SessionStatusEnded || s.Status == SessionStatusCancelled
}

// FindParticipant returns the participant entry for userID, active or not
func (s *CallSession) FindParticipant(userID uuid.UUID) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// ActiveParticipantCount counts participants currently in the call
func (s *CallSession) ActiveParticipantCount() int {
	count := 0
	for i := range s.Participants {
		if s.Participants[i].IsActive {
			count++
		}
	}
	return count
}

// PendingInvitation returns the pending invitation for userID, if any
func (s *CallSession) PendingInvitation(userID uuid.UUID) *Invitation {
	for i := range s.Invitations {
		if s.Invitations[i].UserID == userID && s.Invitations[i].Status == InvitationPending {
			return &s.Invitations[i]
		}
	}
	return nil
}

// HasAcceptedInvitation reports whether userID holds an accepted invitation
func (s *CallSession) HasAcceptedInvitation(userID uuid.UUID) bool {
	for i := range s.Invitations {
		if s.Invitations[i].UserID == userID && s.Invitations[i].Status == InvitationAccepted {
			return true
		}
	}
	return false
}

// JoinDecision is the result of a join eligibility check
type JoinDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CanJoin checks join eligibility without mutating the session
func (s *CallSession) CanJoin(userID uuid.UUID) JoinDecision {
	if s.Status != SessionStatusActive && s.Status != SessionStatusScheduled {
		return JoinDecision{Reason: "Call has ended"}
	}

	p := s.FindParticipant(userID)
	if p != nil && p.IsActive {
		// Already in the call; a repeated join is a no-op
		return JoinDecision{Allowed: true}
	}

	if s.ActiveParticipantCount() >= s.MaxParticipants {
		return JoinDecision{Reason: "Call is full"}
	}

	if s.Settings.LockRoom && !s.HasAcceptedInvitation(userID) {
		return JoinDecision{Reason: "Room is locked"}
	}

	return JoinDecision{Allowed: true}
}

// Join admits userID as an active participant. A user who previously left
// is reactivated rather than duplicated; a repeated join while active is a
// no-op. Returns the participant entry.
func (s *CallSession) Join(userID uuid.UUID, now time.Time) (*Participant, error) {
	if s.IsTerminal() {
		return nil, errors.InvalidStateError("Cannot join a " + string(s.Status) + " call")
	}

	if p := s.FindParticipant(userID); p != nil {
		if !p.IsActive {
			p.IsActive = true
			p.JoinedAt = now
			p.LeftAt = nil
			p.Duration = 0
			p.Media.AudioEnabled = !s.Settings.MuteOnJoin
		}
		s.touch(now)
		return p, nil
	}

	if s.ActiveParticipantCount() >= s.MaxParticipants {
		return nil, errors.ValidationError("Call is full")
	}

	s.Participants = append(s.Participants, Participant{
		UserID:      userID,
		Role:        RoleParticipant,
		Permissions: PermissionsForRole(RoleParticipant),
		Media: MediaState{
			AudioEnabled: !s.Settings.MuteOnJoin,
			VideoEnabled: s.Kind == CallKindVideo,
		},
		Quality:  QualityUnknown,
		IsActive: true,
		JoinedAt: now,
	})

	// First join brings a scheduled session live
	if s.Status == SessionStatusScheduled {
		s.Status = SessionStatusActive
		s.StartedAt = now
	}

	s.touch(now)
	return s.FindParticipant(userID), nil
}

// LeaveOutcome reports the side effects of a leave. Left is false when the
// call was a no-op: the user was not an active participant, so no state
// changed and nothing should be announced.
type LeaveOutcome struct {
	Left        bool
	HostChanged bool
	NewHostID   uuid.UUID
	Ended       bool
}

// Leave marks userID inactive and stamps leftAt/duration. When the current
// host leaves, either host failover or auto-end runs, never both: a
// replacement host is promoted if any active participant remains, otherwise
// the session ends.
func (s *CallSession) Leave(userID uuid.UUID, now time.Time) (LeaveOutcome, error) {
	if s.IsTerminal() {
		return LeaveOutcome{}, errors.InvalidStateError("Call already " + string(s.Status))
	}

	p := s.FindParticipant(userID)
	if p == nil || !p.IsActive {
		// Repeated leave is a no-op
		return LeaveOutcome{}, nil
	}

	p.IsActive = false
	p.LeftAt = &now
	p.Duration = int(now.Sub(p.JoinedAt).Seconds())

	outcome := LeaveOutcome{Left: true}

	if userID == s.HostID {
		if next := s.earliestActiveParticipant(); next != nil {
			next.Role = RoleHost
			next.Permissions = PermissionsForRole(RoleHost)
			s.HostID = next.UserID
			outcome.HostChanged = true
			outcome.NewHostID = next.UserID
		}
	}

	if s.ActiveParticipantCount() == 0 {
		s.end(now)
		outcome.Ended = true
	}

	s.touch(now)
	return outcome, nil
}

// End terminates the session. Only the host or a moderator may end it.
func (s *CallSession) End(actorID uuid.UUID, now time.Time) error {
	if s.IsTerminal() {
		return errors.InvalidStateError("Call already " + string(s.Status))
	}

	actor := s.FindParticipant(actorID)
	if actor == nil || (actorID != s.HostID && actor.Role != RoleModerator) {
		return errors.ForbiddenError("Only the host or a moderator can end the call")
	}

	s.end(now)
	s.touch(now)
	return nil
}

// Cancel cancels a session that never ran to completion
func (s *CallSession) Cancel(actorID uuid.UUID, now time.Time) error {
	if s.IsTerminal() {
		return errors.InvalidStateError("Call already " + string(s.Status))
	}

	if actorID != s.HostID {
		return errors.ForbiddenError("Only the host can cancel the call")
	}

	s.Status = SessionStatusCancelled
	s.EndedAt = &now
	for i := range s.Participants {
		if s.Participants[i].IsActive {
			s.Participants[i].IsActive = false
			s.Participants[i].LeftAt = &now
			s.Participants[i].Duration = int(now.Sub(s.Participants[i].JoinedAt).Seconds())
		}
	}
	s.touch(now)
	return nil
}

// Invite appends pending invitations for targets. Targets who are already
// active participants or already hold a pending invitation are skipped.
// Returns the user ids actually invited.
func (s *CallSession) Invite(inviterID uuid.UUID, targetIDs []uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	if s.IsTerminal() {
		return nil, errors.InvalidStateError("Cannot invite to a " + string(s.Status) + " call")
	}

	inviter := s.FindParticipant(inviterID)
	if inviter == nil || !inviter.Permissions.CanInvite {
		return nil, errors.ForbiddenError("You are not allowed to invite users to this call")
	}

	var invited []uuid.UUID
	for _, targetID := range targetIDs {
		if p := s.FindParticipant(targetID); p != nil && p.IsActive {
			continue
		}
		if s.PendingInvitation(targetID) != nil {
			continue
		}
		s.Invitations = append(s.Invitations, Invitation{
			UserID:    targetID,
			InvitedBy: inviterID,
			Status:    InvitationPending,
			InvitedAt: now,
		})
		invited = append(invited, targetID)
	}

	s.touch(now)
	return invited, nil
}

// RespondToInvitation records the target user's answer to a pending invitation
func (s *CallSession) RespondToInvitation(userID uuid.UUID, accept bool, now time.Time) error {
	inv := s.PendingInvitation(userID)
	if inv == nil {
		return errors.InvitationNotFoundError()
	}

	if accept {
		inv.Status = InvitationAccepted
	} else {
		inv.Status = InvitationDeclined
	}
	inv.RespondedAt = &now

	s.touch(now)
	return nil
}

// ApplyMediaPatch merges the toggles present in patch into the user's media
// state. No-op unless the user is an active participant. Returns the updated
// state.
func (s *CallSession) ApplyMediaPatch(userID uuid.UUID, patch MediaPatch, now time.Time) (*MediaState, error) {
	if s.IsTerminal() {
		return nil, errors.InvalidStateError("Cannot update media in a " + string(s.Status) + " call")
	}

	p := s.FindParticipant(userID)
	if p == nil || !p.IsActive {
		return nil, nil
	}

	if patch.AudioEnabled != nil {
		p.Media.AudioEnabled = *patch.AudioEnabled
	}
	if patch.VideoEnabled != nil {
		p.Media.VideoEnabled = *patch.VideoEnabled
	}
	if patch.ScreenSharing != nil {
		if *patch.ScreenSharing && !s.Settings.AllowScreenShare {
			return nil, errors.ForbiddenError("Screen sharing is disabled for this call")
		}
		p.Media.ScreenSharing = *patch.ScreenSharing
	}

	s.touch(now)
	return &p.Media, nil
}

// AppendChat appends a chat message to the session log
func (s *CallSession) AppendChat(userID uuid.UUID, text string, msgType ChatMessageType, now time.Time) (*ChatMessage, error) {
	if s.IsTerminal() {
		return nil, errors.InvalidStateError("Cannot send messages to a " + string(s.Status) + " call")
	}
	if !s.Settings.AllowChat {
		return nil, errors.ForbiddenError("Chat is disabled for this call")
	}

	p := s.FindParticipant(userID)
	if p == nil || !p.IsActive {
		return nil, errors.ForbiddenError("Only active participants can send messages")
	}

	if text == "" {
		return nil, errors.ValidationError("Message text is required")
	}
	if utf8.RuneCountInString(text) > constants.MaxChatMessageLength {
		return nil, errors.ValidationError("Message exceeds 1000 characters")
	}
	if msgType == "" {
		msgType = ChatMessageText
	}

	msg := ChatMessage{
		ID:     uuid.New(),
		UserID: userID,
		Text:   text,
		Type:   msgType,
		SentAt: now,
	}
	s.Messages = append(s.Messages, msg)

	s.touch(now)
	return &s.Messages[len(s.Messages)-1], nil
}

// ActiveRoster returns the user ids of all active participants,
// ordered by join time
func (s *CallSession) ActiveRoster() []uuid.UUID {
	roster := make([]uuid.UUID, 0, len(s.Participants))
	for i := range s.Participants {
		if s.Participants[i].IsActive {
			roster = append(roster, s.Participants[i].UserID)
		}
	}
	return roster
}

// end transitions to ended and closes out every still-active participant
func (s *CallSession) end(now time.Time) {
	s.Status = SessionStatusEnded
	s.EndedAt = &now
	s.Duration = int(now.Sub(s.StartedAt).Seconds())
	for i := range s.Participants {
		if s.Participants[i].IsActive {
			s.Participants[i].IsActive = false
			s.Participants[i].LeftAt = &now
			s.Participants[i].Duration = int(now.Sub(s.Participants[i].JoinedAt).Seconds())
		}
	}
}

// earliestActiveParticipant picks the failover host: earliest joinedAt among
// active participants, ties broken by user id for determinism
func (s *CallSession) earliestActiveParticipant() *Participant {
	var best *Participant
	for i := range s.Participants {
		p := &s.Participants[i]
		if !p.IsActive || p.UserID == s.HostID {
			continue
		}
		if best == nil ||
			p.JoinedAt.Before(best.JoinedAt) ||
			(p.JoinedAt.Equal(best.JoinedAt) && p.UserID.String() < best.UserID.String()) {
			best = p
		}
	}
	return best
}

func (s *CallSession) touch(now time.Time) {
	s.UpdatedAt = now
	s.recompute()
}

// recompute refreshes the derived analytics fields
func (s *CallSession) recompute() {
	s.ActiveParticipantsCount = s.ActiveParticipantCount()
	s.TotalParticipants = len(s.Participants)
	if s.ActiveParticipantsCount > s.MaxConcurrentParticipants {
		s.MaxConcurrentParticipants = s.ActiveParticipantsCount
	}
	s.TotalMessages = len(s.Messages)
}
