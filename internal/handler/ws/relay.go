// Package ws is the signaling relay: it authenticates WebSocket connections,
// feeds their commands through the call service, and fans the resulting
// events out to session subscribers via the presence registry. With a Redis
// client attached, events also cross instance boundaries over Pub/Sub.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callwave-backend/internal/domain"
	"callwave-backend/internal/event"
	"callwave-backend/internal/presence"
	"callwave-backend/internal/service/call"
	"callwave-backend/internal/service/notification"
	"callwave-backend/pkg/constants"
	"callwave-backend/pkg/errors"
	"callwave-backend/pkg/logger"
	"callwave-backend/pkg/metrics"
	"callwave-backend/pkg/retry"
)

// Inbound command types
const (
	CmdJoinRoom     = "join-room"
	CmdLeaveRoom    = "leave-room"
	CmdInvite       = "send-call-invitation"
	CmdCallResponse = "call-response"
	CmdSignal       = "webrtc-signal"
	CmdToggleAudio  = "toggle-audio"
	CmdToggleVideo  = "toggle-video"
	CmdToggleScreen = "toggle-screen-share"
	CmdSendMessage  = "send-message"
)

// Command is one inbound message from a client
type Command struct {
	Type      string          `json:"type"`
	SessionID uuid.UUID       `json:"session_id"`
	TargetID  uuid.UUID       `json:"target_id,omitempty"`
	Targets   []uuid.UUID     `json:"targets,omitempty"`
	Password  string          `json:"password,omitempty"`
	Accepted  bool            `json:"accepted,omitempty"`
	Enabled   *bool           `json:"enabled,omitempty"`
	Content   string          `json:"content,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// envelope is the cross-instance wrapper published to Redis
type envelope struct {
	Instance      string       `json:"instance"`
	ExcludeUserID uuid.UUID    `json:"exclude_user_id,omitempty"`
	Event         *event.Event `json:"event"`
}

// Relay routes client commands into the call service and session events back
// out to subscribers. State-changing commands for a session are serialized
// on a per-session lock held across the store update and the resulting
// broadcast, so subscribers observe events in commit order.
type Relay struct {
	calls    *call.Service
	presence *presence.Registry
	notifier *notification.Dispatcher
	metrics  *metrics.Metrics
	redis    *redis.Client

	instanceID string
	upgrader   websocket.Upgrader

	mu            sync.Mutex
	sessionLocks  map[uuid.UUID]*sessionLock
	subscriptions map[uuid.UUID]context.CancelFunc
}

// sessionLock serializes commands for one session. refs counts holders and
// waiters so the map entry can be pruned once the last one releases it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewRelay creates the signaling relay. redisClient and notifier may be nil;
// without Redis events stay within this instance, without a notifier offline
// invitees are not notified out of band.
func NewRelay(calls *call.Service, registry *presence.Registry, notifier *notification.Dispatcher, m *metrics.Metrics, redisClient *redis.Client, allowedOrigins []string) *Relay {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	return &Relay{
		calls:      calls,
		presence:   registry,
		notifier:   notifier,
		metrics:    m,
		redis:      redisClient,
		instanceID: uuid.NewString(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return false
				}
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
		sessionLocks:  make(map[uuid.UUID]*sessionLock),
		subscriptions: make(map[uuid.UUID]context.CancelFunc),
	}
}

// ServeWS upgrades the request and registers the connection with the
// presence registry. Expects the auth middleware to have set user_id.
func (r *Relay) ServeWS(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := newClient(r, conn, userID)

	cameOnline := r.presence.Register(userID, client)
	r.metrics.IncrementWebSocketConnections()
	r.metrics.SetUsersOnline(r.presence.OnlineCount())

	if cameOnline {
		r.presence.BroadcastToAll(event.UserOnline(userID), userID)
	}

	go client.writePump()
	go client.readPump()
}

// handleCommand dispatches one inbound command. Rejections go back to the
// initiating connection only; nothing is broadcast for a failed command.
func (r *Relay) handleCommand(c *Client, cmd *Command) {
	r.metrics.RecordWebSocketMessage(cmd.Type, "inbound")

	var err error
	switch cmd.Type {
	case CmdJoinRoom:
		err = r.handleJoin(c, cmd)
	case CmdLeaveRoom:
		err = r.handleLeave(c.userID, cmd.SessionID)
	case CmdInvite:
		err = r.handleInvite(c, cmd)
	case CmdCallResponse:
		err = r.handleCallResponse(c, cmd)
	case CmdSignal:
		err = r.handleSignal(c, cmd)
	case CmdToggleAudio:
		err = r.handleToggle(c, cmd, event.TypeAudioToggled, func(enabled bool) domain.MediaPatch {
			return domain.MediaPatch{AudioEnabled: &enabled}
		})
	case CmdToggleVideo:
		err = r.handleToggle(c, cmd, event.TypeVideoToggled, func(enabled bool) domain.MediaPatch {
			return domain.MediaPatch{VideoEnabled: &enabled}
		})
	case CmdToggleScreen:
		err = r.handleToggle(c, cmd, event.TypeScreenToggled, func(enabled bool) domain.MediaPatch {
			return domain.MediaPatch{ScreenSharing: &enabled}
		})
	case CmdSendMessage:
		err = r.handleSendMessage(c, cmd)
	default:
		err = errors.InvalidInputError("Unknown command type: " + cmd.Type)
	}

	if err != nil {
		r.metrics.RecordWebSocketError(cmd.Type)
		r.sendError(c, err)
	}
}

func (r *Relay) handleJoin(c *Client, cmd *Command) error {
	if cmd.SessionID == uuid.Nil {
		return errors.MissingFieldError("session_id")
	}

	unlock := r.lockSession(cmd.SessionID)
	defer unlock()

	decision, err := r.calls.CanJoin(context.Background(), cmd.SessionID, c.userID, cmd.Password)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return errors.ForbiddenError(decision.Reason)
	}

	session, joined, err := r.calls.Join(context.Background(), cmd.SessionID, c.userID)
	if err != nil {
		return err
	}

	r.AnnounceJoined(session, c.userID, joined)
	c.Send(event.RoomParticipants(cmd.SessionID, session.ActiveRoster()))

	return nil
}

// handleLeave runs the full leave sequence for one user and session: store
// update, unsubscribe, then the departure broadcasts. Shared between the
// leave-room command and disconnect cleanup.
func (r *Relay) handleLeave(userID, sessionID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return errors.MissingFieldError("session_id")
	}

	unlock := r.lockSession(sessionID)
	defer unlock()

	session, outcome, err := r.calls.Leave(context.Background(), sessionID, userID)
	if err != nil {
		return err
	}

	r.AnnounceLeft(session, userID, outcome)
	return nil
}

func (r *Relay) handleInvite(c *Client, cmd *Command) error {
	if cmd.SessionID == uuid.Nil {
		return errors.MissingFieldError("session_id")
	}
	if len(cmd.Targets) == 0 {
		return errors.MissingFieldError("targets")
	}

	unlock := r.lockSession(cmd.SessionID)
	defer unlock()

	session, invited, err := r.calls.Invite(context.Background(), cmd.SessionID, c.userID, cmd.Targets)
	if err != nil {
		return err
	}

	r.DeliverInvitations(session, c.userID, invited)
	return nil
}

func (r *Relay) handleCallResponse(c *Client, cmd *Command) error {
	if cmd.SessionID == uuid.Nil {
		return errors.MissingFieldError("session_id")
	}

	unlock := r.lockSession(cmd.SessionID)
	defer unlock()

	session, err := r.calls.RespondToInvitation(context.Background(), cmd.SessionID, c.userID, cmd.Accepted)
	if err != nil {
		return err
	}

	r.AnnounceResponse(session, c.userID, cmd.Accepted)
	return nil
}

// handleSignal relays an opaque WebRTC payload to one target without
// touching the session store
func (r *Relay) handleSignal(c *Client, cmd *Command) error {
	if cmd.SessionID == uuid.Nil {
		return errors.MissingFieldError("session_id")
	}
	if cmd.TargetID == uuid.Nil {
		return errors.MissingFieldError("target_id")
	}

	signal := event.New(event.TypeWebRTCSignal, cmd.SessionID, c.userID, map[string]interface{}{
		"sender_id": c.userID.String(),
		"payload":   cmd.Payload,
	})

	if r.presence.SendToUser(cmd.TargetID, signal) == 0 {
		return errors.NotFoundError("Target user is not connected")
	}
	r.metrics.RecordEventBroadcast(event.TypeWebRTCSignal)

	return nil
}

func (r *Relay) handleToggle(c *Client, cmd *Command, eventType string, patch func(bool) domain.MediaPatch) error {
	if cmd.SessionID == uuid.Nil {
		return errors.MissingFieldError("session_id")
	}
	if cmd.Enabled == nil {
		return errors.MissingFieldError("enabled")
	}

	unlock := r.lockSession(cmd.SessionID)
	defer unlock()

	_, state, err := r.calls.UpdateMedia(context.Background(), cmd.SessionID, c.userID, patch(*cmd.Enabled))
	if err != nil {
		return err
	}
	if state == nil {
		// Not an active participant; nothing changed, nothing to announce
		return nil
	}

	r.AnnounceMediaToggled(cmd.SessionID, c.userID, eventType, *cmd.Enabled)
	return nil
}

func (r *Relay) handleSendMessage(c *Client, cmd *Command) error {
	if cmd.SessionID == uuid.Nil {
		return errors.MissingFieldError("session_id")
	}

	unlock := r.lockSession(cmd.SessionID)
	defer unlock()

	_, msg, err := r.calls.AppendChat(context.Background(), cmd.SessionID, c.userID, cmd.Content, domain.ChatMessageText)
	if err != nil {
		return err
	}

	r.AnnounceMessage(cmd.SessionID, msg)
	return nil
}

// WithSessionLock runs fn while holding the session's serialization lock.
// HTTP handlers use it so their mutations interleave with WebSocket commands
// at whole-operation granularity and events still go out in commit order.
func (r *Relay) WithSessionLock(sessionID uuid.UUID, fn func() error) error {
	unlock := r.lockSession(sessionID)
	defer unlock()
	return fn()
}

// AnnounceJoined subscribes the joiner's live connections to the session and
// publishes the join. When joined is false (the user was already an active
// participant) the subscription is still refreshed, so a reconnecting client
// resumes receiving events, but nothing is broadcast.
func (r *Relay) AnnounceJoined(session *domain.CallSession, userID uuid.UUID, joined bool) {
	if r.presence.IsOnline(userID) {
		r.presence.SubscribeToSession(session.ID, userID)
		r.ensureSubscription(session.ID)
	}
	if joined {
		r.broadcast(session.ID, event.UserJoined(session.ID, userID), userID)
	}
}

// AnnounceLeft publishes a departure and its side effects: host failover
// and auto-end each get their own event, in that order. A no-op leave only
// clears the subscription; subscribers see nothing.
func (r *Relay) AnnounceLeft(session *domain.CallSession, userID uuid.UUID, outcome domain.LeaveOutcome) {
	r.presence.UnsubscribeFromSession(session.ID, userID)

	if !outcome.Left {
		r.releaseSessionIfIdle(session.ID)
		return
	}

	r.broadcast(session.ID, event.UserLeft(session.ID, userID), userID)
	if outcome.HostChanged {
		r.broadcast(session.ID, event.HostChanged(session.ID, outcome.NewHostID), uuid.Nil)
	}
	if outcome.Ended {
		r.broadcast(session.ID, event.CallEnded(session.ID, "no active participants"), uuid.Nil)
		r.metrics.RecordSessionDuration(string(session.Kind), time.Since(session.StartedAt))
	}

	r.releaseSessionIfIdle(session.ID)
}

// AnnounceEnded publishes explicit termination (end or cancel)
func (r *Relay) AnnounceEnded(session *domain.CallSession, reason string) {
	r.broadcast(session.ID, event.CallEnded(session.ID, reason), uuid.Nil)
	r.metrics.RecordSessionDuration(string(session.Kind), time.Since(session.StartedAt))
}

// AnnounceMediaToggled publishes a participant's media state change
func (r *Relay) AnnounceMediaToggled(sessionID, userID uuid.UUID, eventType string, enabled bool) {
	r.broadcast(sessionID, event.MediaToggled(eventType, sessionID, userID, enabled), userID)
}

// AnnounceMessage publishes a committed chat message to the whole room,
// sender included, so every tab renders the same log
func (r *Relay) AnnounceMessage(sessionID uuid.UUID, msg *domain.ChatMessage) {
	r.broadcast(sessionID, event.NewMessage(sessionID, msg.UserID, msg.ID, msg.Text, msg.SentAt), uuid.Nil)
}

// AnnounceResponse forwards an invitation answer to the session host
func (r *Relay) AnnounceResponse(session *domain.CallSession, userID uuid.UUID, accepted bool) {
	response := event.New(event.TypeCallResponse, session.ID, userID, map[string]interface{}{
		"user_id":  userID.String(),
		"accepted": accepted,
	})
	r.presence.SendToUser(session.HostID, response)
	r.metrics.RecordEventBroadcast(event.TypeCallResponse)
}

// DeliverInvitations sends a call invitation to each newly invited user:
// over their live connections when online, through the notification
// dispatcher otherwise
func (r *Relay) DeliverInvitations(session *domain.CallSession, inviterID uuid.UUID, invited []uuid.UUID) {
	invitation := event.New(event.TypeCallInvitation, session.ID, inviterID, map[string]interface{}{
		"session_id":   session.ID.String(),
		"channel_name": session.ChannelName,
		"inviter_id":   inviterID.String(),
		"kind":         string(session.Kind),
		"mode":         string(session.Mode),
		"title":        session.Title,
	})

	for _, targetID := range invited {
		if r.presence.IsOnline(targetID) {
			r.presence.SendToUser(targetID, invitation)
			r.metrics.RecordEventBroadcast(event.TypeCallInvitation)
			continue
		}

		if r.notifier == nil {
			continue
		}
		go func(targetID uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.Background(), constants.CredentialTimeout)
			defer cancel()
			if err := r.notifier.NotifyInvitation(ctx, targetID, inviterID, &notification.SessionSummary{
				SessionID:   session.ID,
				ChannelName: session.ChannelName,
				Kind:        session.Kind,
				Mode:        session.Mode,
				Title:       session.Title,
				HostID:      session.HostID,
			}); err != nil {
				logger.Warn("Failed to notify offline invitee",
					zap.String("target_user_id", targetID.String()),
					zap.Error(err))
			}
		}(targetID)
	}
}

// dropClient tears down a disconnected client. Unregister decides under the
// registry's lock whether this was the user's last connection and hands back
// the sessions it pruned, so concurrent drops of the same user cannot both
// skip cleanup. On the last connection the user is made to leave every
// pruned session, with bounded retries on store timeouts, and then announced
// offline.
func (r *Relay) dropClient(c *Client) {
	defer func() {
		r.metrics.DecrementWebSocketConnections()
		r.metrics.SetUsersOnline(r.presence.OnlineCount())
	}()

	wentOffline, sessions := r.presence.Unregister(c.userID, c)
	if !wentOffline {
		return
	}

	for _, sessionID := range sessions {
		r.cleanupSession(c.userID, sessionID)
	}

	r.presence.BroadcastToAll(event.UserOffline(c.userID), c.userID)
}

// cleanupSession forces one session departure during disconnect cleanup.
// Store timeouts are retried with backoff; a session that is already gone
// or already ended is not an error here. If the store never answers, the
// presence subscription is dropped anyway so the registry cannot leak.
func (r *Relay) cleanupSession(userID, sessionID uuid.UUID) {
	cfg := retry.Config{
		MaxAttempts:  constants.CleanupMaxRetries,
		InitialDelay: constants.CleanupRetryBaseDelay,
		MaxDelay:     constants.StoreTimeout,
		Multiplier:   2.0,
		Retryable:    errors.IsTimeout,
	}

	err := retry.Do(context.Background(), cfg, func() error {
		return r.handleLeave(userID, sessionID)
	})
	if err != nil && !errors.IsNotFound(err) && !errors.IsInvalidState(err) {
		logger.Error("Disconnect cleanup failed, forcing presence removal",
			zap.String("user_id", userID.String()),
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		r.presence.UnsubscribeFromSession(sessionID, userID)
		r.releaseSessionIfIdle(sessionID)
	}
}

// broadcast fans an event out to local subscribers and, when Redis is
// attached, publishes it for the other instances
func (r *Relay) broadcast(sessionID uuid.UUID, ev *event.Event, excludeUserID uuid.UUID) {
	r.presence.BroadcastToSession(sessionID, ev, excludeUserID)
	r.metrics.RecordEventBroadcast(ev.Type)

	if r.redis == nil {
		return
	}

	payload, err := json.Marshal(&envelope{
		Instance:      r.instanceID,
		ExcludeUserID: excludeUserID,
		Event:         ev,
	})
	if err != nil {
		logger.Warn("Failed to marshal relay envelope", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.redis.Publish(ctx, sessionChannel(sessionID), payload).Err(); err != nil {
		logger.Warn("Failed to publish relay event",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
}

// ensureSubscription starts the Redis Pub/Sub consumer for a session if one
// is not already running on this instance
func (r *Relay) ensureSubscription(sessionID uuid.UUID) {
	if r.redis == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subscriptions[sessionID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.subscriptions[sessionID] = cancel
	go r.subscribeToSession(ctx, sessionID)
}

// subscribeToSession consumes the session's Redis channel and replays
// events published by other instances to local subscribers
func (r *Relay) subscribeToSession(ctx context.Context, sessionID uuid.UUID) {
	pubsub := r.redis.Subscribe(ctx, sessionChannel(sessionID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("Failed to subscribe to session channel",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("Failed to unmarshal relay envelope",
					zap.String("session_id", sessionID.String()),
					zap.Error(err))
				continue
			}
			if env.Instance == r.instanceID || env.Event == nil {
				continue
			}

			r.presence.BroadcastToSession(sessionID, env.Event, env.ExcludeUserID)
		}
	}
}

// lockSession acquires the serialization lock for a session, creating the
// entry on first use, and returns the release func. The entry is refcounted:
// once the last holder or waiter releases it, the map entry is pruned, so a
// long-lived instance does not accumulate a mutex per session ever touched.
func (r *Relay) lockSession(sessionID uuid.UUID) func() {
	r.mu.Lock()
	lock, ok := r.sessionLocks[sessionID]
	if !ok {
		lock = &sessionLock{}
		r.sessionLocks[sessionID] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.sessionLocks, sessionID)
		}
		r.mu.Unlock()
	}
}

// releaseSessionIfIdle drops the Redis subscription once no local user is
// subscribed to the session anymore
func (r *Relay) releaseSessionIfIdle(sessionID uuid.UUID) {
	if len(r.presence.SessionSubscribers(sessionID)) > 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.subscriptions[sessionID]; ok {
		cancel()
		delete(r.subscriptions, sessionID)
	}
}

// sendError converts an error to an error event on the initiating
// connection. Errors are never broadcast.
func (r *Relay) sendError(c *Client, err error) {
	appErr := errors.GetAppError(err)
	c.Send(event.Error(string(appErr.Code), appErr.Message))
}

func sessionChannel(sessionID uuid.UUID) string {
	return fmt.Sprintf("session:%s", sessionID)
}
