package domain

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"callwave-backend/pkg/errors"
)

func newTestSession(t *testing.T, hostID uuid.UUID, maxParticipants int) *CallSession {
	t.Helper()
	session, err := NewCallSession(hostID, CallKindVideo, CallModeGroup, maxParticipants, DefaultSettings(), nil, time.Now().UTC())
	assert.NoError(t, err)
	return session
}

// TestNewCallSession tests session creation
func TestNewCallSession(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)

	assert.Equal(t, SessionStatusActive, session.Status)
	assert.Equal(t, hostID, session.HostID)
	assert.Len(t, session.Participants, 1)
	assert.Equal(t, RoleHost, session.Participants[0].Role)
	assert.True(t, session.Participants[0].IsActive)
	assert.True(t, session.Participants[0].Permissions.CanInvite)
	assert.NotEmpty(t, session.ChannelName)
	assert.True(t, strings.HasPrefix(session.ChannelName, "call-"))
}

// TestNewCallSession_InvalidCapacity tests capacity bounds
func TestNewCallSession_InvalidCapacity(t *testing.T) {
	_, err := NewCallSession(uuid.New(), CallKindVideo, CallModeGroup, 1, DefaultSettings(), nil, time.Now().UTC())
	assert.True(t, errors.IsValidation(err))

	_, err = NewCallSession(uuid.New(), CallKindVideo, CallModeGroup, 1001, DefaultSettings(), nil, time.Now().UTC())
	assert.True(t, errors.IsValidation(err))

	_, err = NewCallSession(uuid.New(), CallKindVideo, CallModeGroup, 1000, DefaultSettings(), nil, time.Now().UTC())
	assert.NoError(t, err)
}

// TestNewCallSession_Scheduled tests that a future scheduled time yields a
// scheduled session that goes active on first join
func TestNewCallSession_Scheduled(t *testing.T) {
	now := time.Now().UTC()
	later := now.Add(time.Hour)
	session, err := NewCallSession(uuid.New(), CallKindAudio, CallModeDirect, 2, DefaultSettings(), &later, now)
	assert.NoError(t, err)
	assert.Equal(t, SessionStatusScheduled, session.Status)

	joinTime := now.Add(time.Minute)
	_, err = session.Join(uuid.New(), joinTime)
	assert.NoError(t, err)
	assert.Equal(t, SessionStatusActive, session.Status)
	assert.Equal(t, joinTime, session.StartedAt)
}

// TestJoin_Idempotent tests that a repeated join does not duplicate the
// participant
func TestJoin_Idempotent(t *testing.T) {
	session := newTestSession(t, uuid.New(), 10)
	userID := uuid.New()
	now := time.Now().UTC()

	_, err := session.Join(userID, now)
	assert.NoError(t, err)
	_, err = session.Join(userID, now.Add(time.Second))
	assert.NoError(t, err)

	assert.Len(t, session.Participants, 2)
	assert.Equal(t, 2, session.ActiveParticipantCount())
}

// TestJoin_Reactivates tests that a user who left and rejoins gets the same
// entry back instead of a duplicate
func TestJoin_Reactivates(t *testing.T) {
	session := newTestSession(t, uuid.New(), 10)
	userID := uuid.New()
	now := time.Now().UTC()

	_, err := session.Join(userID, now)
	assert.NoError(t, err)
	_, err = session.Leave(userID, now.Add(time.Minute))
	assert.NoError(t, err)

	p, err := session.Join(userID, now.Add(2*time.Minute))
	assert.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Nil(t, p.LeftAt)
	assert.Len(t, session.Participants, 2)
}

// TestJoin_Full tests the capacity limit
func TestJoin_Full(t *testing.T) {
	session := newTestSession(t, uuid.New(), 2)
	now := time.Now().UTC()

	_, err := session.Join(uuid.New(), now)
	assert.NoError(t, err)

	_, err = session.Join(uuid.New(), now)
	assert.True(t, errors.IsValidation(err))

	// An already-active participant is not blocked by the cap
	decision := session.CanJoin(session.HostID)
	assert.True(t, decision.Allowed)
}

// TestCanJoin_LockedRoom tests that a locked room only admits users holding
// an accepted invitation
func TestCanJoin_LockedRoom(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	session.Settings.LockRoom = true

	stranger := uuid.New()
	decision := session.CanJoin(stranger)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "Room is locked", decision.Reason)

	invitee := uuid.New()
	now := time.Now().UTC()
	_, err := session.Invite(hostID, []uuid.UUID{invitee}, now)
	assert.NoError(t, err)
	assert.NoError(t, session.RespondToInvitation(invitee, true, now))

	decision = session.CanJoin(invitee)
	assert.True(t, decision.Allowed)
}

// TestCanJoin_Ended tests the terminal-state rejection reason
func TestCanJoin_Ended(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	assert.NoError(t, session.End(hostID, time.Now().UTC()))

	decision := session.CanJoin(uuid.New())
	assert.False(t, decision.Allowed)
	assert.Equal(t, "Call has ended", decision.Reason)
}

// TestLeave_HostFailover tests that the earliest-joined active participant
// becomes the new host
func TestLeave_HostFailover(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	first := uuid.New()
	second := uuid.New()
	_, err := session.Join(first, now.Add(time.Second))
	assert.NoError(t, err)
	_, err = session.Join(second, now.Add(2*time.Second))
	assert.NoError(t, err)

	outcome, err := session.Leave(hostID, now.Add(time.Minute))
	assert.NoError(t, err)
	assert.True(t, outcome.Left)
	assert.True(t, outcome.HostChanged)
	assert.Equal(t, first, outcome.NewHostID)
	assert.False(t, outcome.Ended)

	assert.Equal(t, first, session.HostID)
	assert.Equal(t, RoleHost, session.FindParticipant(first).Role)
	assert.True(t, session.FindParticipant(first).Permissions.CanRecord)
}

// TestLeave_HostFailoverTieBreak tests deterministic promotion when join
// times are identical
func TestLeave_HostFailoverTieBreak(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	joinTime := now.Add(time.Second)
	_, err := session.Join(b, joinTime)
	assert.NoError(t, err)
	_, err = session.Join(a, joinTime)
	assert.NoError(t, err)

	outcome, err := session.Leave(hostID, now.Add(time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, a, outcome.NewHostID)
}

// TestLeave_AutoEnd tests that the session ends when the last active
// participant leaves
func TestLeave_AutoEnd(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)

	outcome, err := session.Leave(hostID, time.Now().UTC())
	assert.NoError(t, err)
	assert.False(t, outcome.HostChanged)
	assert.True(t, outcome.Ended)
	assert.Equal(t, SessionStatusEnded, session.Status)
	assert.NotNil(t, session.EndedAt)
}

// TestLeave_FailoverAndEndExclusive tests that a single leave never reports
// both a host change and an end
func TestLeave_FailoverAndEndExclusive(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	other := uuid.New()
	_, err := session.Join(other, now)
	assert.NoError(t, err)

	outcome, err := session.Leave(hostID, now.Add(time.Minute))
	assert.NoError(t, err)
	assert.True(t, outcome.HostChanged)
	assert.False(t, outcome.Ended)

	outcome, err = session.Leave(other, now.Add(2*time.Minute))
	assert.NoError(t, err)
	assert.False(t, outcome.HostChanged)
	assert.True(t, outcome.Ended)
}

// TestLeave_Repeated tests that leaving twice is a no-op
func TestLeave_Repeated(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	other := uuid.New()
	_, err := session.Join(other, now)
	assert.NoError(t, err)

	_, err = session.Leave(other, now.Add(time.Minute))
	assert.NoError(t, err)
	outcome, err := session.Leave(other, now.Add(2*time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, LeaveOutcome{}, outcome)
}

// TestEnd_Permissions tests who may end a call
func TestEnd_Permissions(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	participant := uuid.New()
	_, err := session.Join(participant, now)
	assert.NoError(t, err)

	err = session.End(participant, now.Add(time.Minute))
	assert.True(t, errors.IsForbidden(err))

	assert.NoError(t, session.End(hostID, now.Add(time.Minute)))
	assert.Equal(t, SessionStatusEnded, session.Status)

	// Every participant is closed out
	for _, p := range session.Participants {
		assert.False(t, p.IsActive)
	}
}

// TestEnd_AlreadyEnded tests the terminal-state guard
func TestEnd_AlreadyEnded(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	assert.NoError(t, session.End(hostID, now))
	err := session.End(hostID, now.Add(time.Second))
	assert.True(t, errors.IsInvalidState(err))
}

// TestEnd_Moderator tests that a moderator may end the call
func TestEnd_Moderator(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	moderator := uuid.New()
	_, err := session.Join(moderator, now)
	assert.NoError(t, err)
	p := session.FindParticipant(moderator)
	p.Role = RoleModerator
	p.Permissions = PermissionsForRole(RoleModerator)

	assert.NoError(t, session.End(moderator, now.Add(time.Minute)))
}

// TestCancel tests cancellation rules
func TestCancel(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	other := uuid.New()
	_, err := session.Join(other, now)
	assert.NoError(t, err)

	err = session.Cancel(other, now.Add(time.Minute))
	assert.True(t, errors.IsForbidden(err))

	assert.NoError(t, session.Cancel(hostID, now.Add(time.Minute)))
	assert.Equal(t, SessionStatusCancelled, session.Status)

	err = session.Cancel(hostID, now.Add(2*time.Minute))
	assert.True(t, errors.IsInvalidState(err))
}

// TestInvite tests invitation creation and the skip rules
func TestInvite(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	active := uuid.New()
	_, err := session.Join(active, now)
	assert.NoError(t, err)

	target := uuid.New()
	invited, err := session.Invite(hostID, []uuid.UUID{target, active}, now)
	assert.NoError(t, err)
	assert.Equal(t, []uuid.UUID{target}, invited)

	// A second invite while one is pending is skipped
	invited, err = session.Invite(hostID, []uuid.UUID{target}, now.Add(time.Second))
	assert.NoError(t, err)
	assert.Empty(t, invited)
	assert.Len(t, session.Invitations, 1)
}

// TestInvite_Forbidden tests that plain participants cannot invite
func TestInvite_Forbidden(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	participant := uuid.New()
	_, err := session.Join(participant, now)
	assert.NoError(t, err)

	_, err = session.Invite(participant, []uuid.UUID{uuid.New()}, now)
	assert.True(t, errors.IsForbidden(err))
}

// TestRespondToInvitation tests answering and the missing-invitation case
func TestRespondToInvitation(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	target := uuid.New()
	_, err := session.Invite(hostID, []uuid.UUID{target}, now)
	assert.NoError(t, err)

	assert.NoError(t, session.RespondToInvitation(target, false, now.Add(time.Second)))
	assert.Equal(t, InvitationDeclined, session.Invitations[0].Status)
	assert.NotNil(t, session.Invitations[0].RespondedAt)

	// A declined invitation is no longer pending
	err = session.RespondToInvitation(target, true, now.Add(2*time.Second))
	assert.True(t, errors.IsNotFound(err))

	err = session.RespondToInvitation(uuid.New(), true, now)
	assert.True(t, errors.IsNotFound(err))
}

// TestApplyMediaPatch tests partial media updates
func TestApplyMediaPatch(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	off := false
	state, err := session.ApplyMediaPatch(hostID, MediaPatch{AudioEnabled: &off}, now)
	assert.NoError(t, err)
	assert.False(t, state.AudioEnabled)
	// Untouched toggles keep their value
	assert.True(t, state.VideoEnabled)

	// Non-participant patch is a silent no-op
	state, err = session.ApplyMediaPatch(uuid.New(), MediaPatch{AudioEnabled: &off}, now)
	assert.NoError(t, err)
	assert.Nil(t, state)
}

// TestApplyMediaPatch_ScreenShareDisabled tests the screen share setting
func TestApplyMediaPatch_ScreenShareDisabled(t *testing.T) {
	hostID := uuid.New()
	settings := DefaultSettings()
	settings.AllowScreenShare = false
	session, err := NewCallSession(hostID, CallKindVideo, CallModeGroup, 10, settings, nil, time.Now().UTC())
	assert.NoError(t, err)

	on := true
	_, err = session.ApplyMediaPatch(hostID, MediaPatch{ScreenSharing: &on}, time.Now().UTC())
	assert.True(t, errors.IsForbidden(err))

	// Turning screen share off is always allowed
	off := false
	state, err := session.ApplyMediaPatch(hostID, MediaPatch{ScreenSharing: &off}, time.Now().UTC())
	assert.NoError(t, err)
	assert.False(t, state.ScreenSharing)
}

// TestAppendChat tests chat validation
func TestAppendChat(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	msg, err := session.AppendChat(hostID, "hello", ChatMessageText, now)
	assert.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, 1, session.TotalMessages)

	_, err = session.AppendChat(hostID, "", ChatMessageText, now)
	assert.True(t, errors.IsValidation(err))

	long := make([]byte, 1001)
	for i := range long {
		long[i] = 'a'
	}
	_, err = session.AppendChat(hostID, string(long), ChatMessageText, now)
	assert.True(t, errors.IsValidation(err))

	_, err = session.AppendChat(hostID, string(long[:1000]), ChatMessageText, now)
	assert.NoError(t, err)

	_, err = session.AppendChat(uuid.New(), "hi", ChatMessageText, now)
	assert.True(t, errors.IsForbidden(err))
}

// TestAppendChat_MultiByteLength tests that the length cap counts characters,
// not bytes
func TestAppendChat_MultiByteLength(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	// 1000 characters, 3000 bytes
	msg, err := session.AppendChat(hostID, strings.Repeat("世", 1000), ChatMessageText, now)
	assert.NoError(t, err)
	assert.Equal(t, 1000, utf8.RuneCountInString(msg.Text))

	_, err = session.AppendChat(hostID, strings.Repeat("世", 1001), ChatMessageText, now)
	assert.True(t, errors.IsValidation(err))
}

// TestAppendChat_Disabled tests the chat setting
func TestAppendChat_Disabled(t *testing.T) {
	hostID := uuid.New()
	settings := DefaultSettings()
	settings.AllowChat = false
	session, err := NewCallSession(hostID, CallKindVideo, CallModeGroup, 10, settings, nil, time.Now().UTC())
	assert.NoError(t, err)

	_, err = session.AppendChat(hostID, "hello", ChatMessageText, time.Now().UTC())
	assert.True(t, errors.IsForbidden(err))
}

// TestPermissionsForRole tests the role/permission mapping
func TestPermissionsForRole(t *testing.T) {
	host := PermissionsForRole(RoleHost)
	assert.True(t, host.CanInvite)
	assert.True(t, host.CanRecord)

	moderator := PermissionsForRole(RoleModerator)
	assert.True(t, moderator.CanInvite)
	assert.True(t, moderator.CanMute)
	assert.False(t, moderator.CanRecord)

	participant := PermissionsForRole(RoleParticipant)
	assert.False(t, participant.CanInvite)
	assert.False(t, participant.CanKick)
}

// TestAnalytics tests the derived counters
func TestAnalytics(t *testing.T) {
	hostID := uuid.New()
	session := newTestSession(t, hostID, 10)
	now := time.Now().UTC()

	a := uuid.New()
	b := uuid.New()
	_, err := session.Join(a, now)
	assert.NoError(t, err)
	_, err = session.Join(b, now)
	assert.NoError(t, err)
	assert.Equal(t, 3, session.MaxConcurrentParticipants)

	_, err = session.Leave(a, now.Add(time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, 2, session.ActiveParticipantsCount)
	assert.Equal(t, 3, session.TotalParticipants)
	// High-water mark does not go down
	assert.Equal(t, 3, session.MaxConcurrentParticipants)
}
