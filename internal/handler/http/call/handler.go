// Package call exposes the session lifecycle over HTTP. Every mutation goes
// through the same announcer as the WebSocket relay so REST clients and
// connected clients observe one event stream.
package call

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callwave-backend/internal/domain"
	"callwave-backend/internal/event"
	"callwave-backend/internal/service/call"
	"callwave-backend/pkg/errors"
	"callwave-backend/pkg/pagination"
	"callwave-backend/pkg/response"
)

// Announcer mirrors committed session changes into the live event stream
type Announcer interface {
	WithSessionLock(sessionID uuid.UUID, fn func() error) error
	AnnounceJoined(session *domain.CallSession, userID uuid.UUID, joined bool)
	AnnounceLeft(session *domain.CallSession, userID uuid.UUID, outcome domain.LeaveOutcome)
	AnnounceEnded(session *domain.CallSession, reason string)
	AnnounceMediaToggled(sessionID, userID uuid.UUID, eventType string, enabled bool)
	AnnounceMessage(sessionID uuid.UUID, msg *domain.ChatMessage)
	AnnounceResponse(session *domain.CallSession, userID uuid.UUID, accepted bool)
	DeliverInvitations(session *domain.CallSession, inviterID uuid.UUID, invited []uuid.UUID)
}

// Handler handles call session HTTP requests
type Handler struct {
	calls     *call.Service
	announcer Announcer
}

// NewHandler creates a new call handler
func NewHandler(calls *call.Service, announcer Announcer) *Handler {
	return &Handler{
		calls:     calls,
		announcer: announcer,
	}
}

// CreateSessionRequest represents session creation input
type CreateSessionRequest struct {
	Kind            string                  `json:"kind" binding:"required,oneof=video audio screen"`
	Mode            string                  `json:"mode" binding:"required,oneof=direct group broadcast conference"`
	Title           string                  `json:"title"`
	Description     string                  `json:"description"`
	MaxParticipants int                     `json:"max_participants"`
	Settings        *domain.SessionSettings `json:"settings"`
	Password        string                  `json:"password"`
	ScheduledFor    *time.Time              `json:"scheduled_for"`
}

// CreateSession starts a new call session
// POST /v1/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}
	verified, _ := c.Get("verified")
	isVerified, _ := verified.(bool)

	settings := domain.DefaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}

	session, err := h.calls.Create(c.Request.Context(), &call.CreateInput{
		HostID:          userID,
		HostVerified:    isVerified,
		Kind:            domain.CallKind(req.Kind),
		Mode:            domain.CallMode(req.Mode),
		Title:           req.Title,
		Description:     req.Description,
		MaxParticipants: req.MaxParticipants,
		Settings:        settings,
		Password:        req.Password,
		ScheduledFor:    req.ScheduledFor,
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, session)
}

// GetSession retrieves one session
// GET /v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	session, err := h.calls.Get(c.Request.Context(), sessionID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// JoinSessionRequest carries the optional room password
type JoinSessionRequest struct {
	Password string `json:"password"`
}

// JoinSession admits the caller into the session
// POST /v1/sessions/:id/join
func (h *Handler) JoinSession(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req JoinSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	var session *domain.CallSession
	err := h.announcer.WithSessionLock(sessionID, func() error {
		decision, err := h.calls.CanJoin(c.Request.Context(), sessionID, userID, req.Password)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return errors.ForbiddenError(decision.Reason)
		}

		var joined bool
		session, joined, err = h.calls.Join(c.Request.Context(), sessionID, userID)
		if err != nil {
			return err
		}

		h.announcer.AnnounceJoined(session, userID, joined)
		return nil
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// LeaveSession removes the caller from the session
// POST /v1/sessions/:id/leave
func (h *Handler) LeaveSession(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var session *domain.CallSession
	var outcome domain.LeaveOutcome
	err := h.announcer.WithSessionLock(sessionID, func() error {
		var err error
		session, outcome, err = h.calls.Leave(c.Request.Context(), sessionID, userID)
		if err != nil {
			return err
		}

		h.announcer.AnnounceLeft(session, userID, outcome)
		return nil
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id":   sessionID,
		"host_changed": outcome.HostChanged,
		"ended":        outcome.Ended,
	})
}

// EndSession terminates the session on behalf of the host or a moderator
// POST /v1/sessions/:id/end
func (h *Handler) EndSession(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var session *domain.CallSession
	err := h.announcer.WithSessionLock(sessionID, func() error {
		var err error
		session, err = h.calls.End(c.Request.Context(), sessionID, userID)
		if err != nil {
			return err
		}

		h.announcer.AnnounceEnded(session, "ended by host")
		return nil
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// CancelSession cancels the session on behalf of the host
// POST /v1/sessions/:id/cancel
func (h *Handler) CancelSession(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var session *domain.CallSession
	err := h.announcer.WithSessionLock(sessionID, func() error {
		var err error
		session, err = h.calls.Cancel(c.Request.Context(), sessionID, userID)
		if err != nil {
			return err
		}

		h.announcer.AnnounceEnded(session, "cancelled by host")
		return nil
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// InviteRequest lists the users to invite
type InviteRequest struct {
	Targets []string `json:"targets" binding:"required,min=1"`
}

// InviteUsers creates pending invitations
// POST /v1/sessions/:id/invite
func (h *Handler) InviteUsers(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	targets := make([]uuid.UUID, len(req.Targets))
	for i, idStr := range req.Targets {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid target ID: "+idStr)
			return
		}
		targets[i] = id
	}

	var invited []uuid.UUID
	err := h.announcer.WithSessionLock(sessionID, func() error {
		session, ids, err := h.calls.Invite(c.Request.Context(), sessionID, userID, targets)
		if err != nil {
			return err
		}
		invited = ids

		h.announcer.DeliverInvitations(session, userID, invited)
		return nil
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id": sessionID,
		"invited":    invited,
	})
}

// RespondRequest carries the invitation answer
type RespondRequest struct {
	Accepted *bool `json:"accepted" binding:"required"`
}

// RespondToInvitation records the caller's answer to their invitation
// POST /v1/sessions/:id/respond
func (h *Handler) RespondToInvitation(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	var session *domain.CallSession
	err := h.announcer.WithSessionLock(sessionID, func() error {
		var err error
		session, err = h.calls.RespondToInvitation(c.Request.Context(), sessionID, userID, *req.Accepted)
		if err != nil {
			return err
		}

		h.announcer.AnnounceResponse(session, userID, *req.Accepted)
		return nil
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// UpdateMediaRequest carries the media toggles present in the request
type UpdateMediaRequest struct {
	AudioEnabled  *bool `json:"audio_enabled"`
	VideoEnabled  *bool `json:"video_enabled"`
	ScreenSharing *bool `json:"screen_sharing"`
}

// UpdateMedia merges the present toggles into the caller's media state
// PATCH /v1/sessions/:id/media
func (h *Handler) UpdateMedia(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req UpdateMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	patch := domain.MediaPatch{
		AudioEnabled:  req.AudioEnabled,
		VideoEnabled:  req.VideoEnabled,
		ScreenSharing: req.ScreenSharing,
	}

	var state *domain.MediaState
	err := h.announcer.WithSessionLock(sessionID, func() error {
		var err error
		_, state, err = h.calls.UpdateMedia(c.Request.Context(), sessionID, userID, patch)
		if err != nil {
			return err
		}
		if state == nil {
			return nil
		}

		if req.AudioEnabled != nil {
			h.announcer.AnnounceMediaToggled(sessionID, userID, event.TypeAudioToggled, *req.AudioEnabled)
		}
		if req.VideoEnabled != nil {
			h.announcer.AnnounceMediaToggled(sessionID, userID, event.TypeVideoToggled, *req.VideoEnabled)
		}
		if req.ScreenSharing != nil {
			h.announcer.AnnounceMediaToggled(sessionID, userID, event.TypeScreenToggled, *req.ScreenSharing)
		}
		return nil
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id": sessionID,
		"media":      state,
	})
}

// SendMessageRequest carries one chat message
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMessage appends a chat message to the session log
// POST /v1/sessions/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	var msg *domain.ChatMessage
	err := h.announcer.WithSessionLock(sessionID, func() error {
		var err error
		_, msg, err = h.calls.AppendChat(c.Request.Context(), sessionID, userID, req.Text, domain.ChatMessageText)
		if err != nil {
			return err
		}

		h.announcer.AnnounceMessage(sessionID, msg)
		return nil
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

// GetActiveSessions lists the sessions the caller is actively part of
// GET /v1/sessions/active
func (h *Handler) GetActiveSessions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	sessions, err := h.calls.GetActiveForUser(c.Request.Context(), userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, sessions)
}

// GetHistory lists the caller's past sessions, newest first
// GET /v1/sessions/history
func (h *Handler) GetHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page := pagination.Parse(c.Query("limit"), c.Query("offset"))

	sessions, err := h.calls.GetHistory(c.Request.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, sessions)
}

// GetCredential issues a media-relay credential for the caller
// GET /v1/sessions/:id/credential
func (h *Handler) GetCredential(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	cred, err := h.calls.IssueCredential(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, cred)
}

func sessionParam(c *gin.Context) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return uuid.Nil, false
	}
	return sessionID, true
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}

	return userID, true
}
