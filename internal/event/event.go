// Package event defines the outbound event surface shared by the WebSocket
// relay and the HTTP handlers, so both client kinds observe the same stream.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Outbound event types
const (
	TypeUserJoined       = "user-joined"
	TypeUserLeft         = "user-left"
	TypeRoomParticipants = "room-participants"
	TypeCallInvitation   = "call-invitation"
	TypeCallResponse     = "call-response"
	TypeWebRTCSignal     = "webrtc-signal"
	TypeAudioToggled     = "user-audio-toggled"
	TypeVideoToggled     = "user-video-toggled"
	TypeScreenToggled    = "user-screen-share-toggled"
	TypeNewMessage       = "new-message"
	TypeUserOnline       = "user-online"
	TypeUserOffline      = "user-offline"
	TypeCallEnded        = "call-ended"
	TypeHostChanged      = "host-changed"
	TypeError            = "error"
)

// Event is one message delivered to a subscriber
type Event struct {
	Type      string                 `json:"type"`
	SessionID uuid.UUID              `json:"session_id,omitempty"`
	SenderID  uuid.UUID              `json:"sender_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// New builds an event stamped with the current time
func New(eventType string, sessionID, senderID uuid.UUID, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		SessionID: sessionID,
		SenderID:  senderID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// UserJoined announces a new active participant to the room
func UserJoined(sessionID, userID uuid.UUID) *Event {
	return New(TypeUserJoined, sessionID, userID, map[string]interface{}{
		"user_id": userID.String(),
	})
}

// UserLeft announces a departed participant to the room
func UserLeft(sessionID, userID uuid.UUID) *Event {
	return New(TypeUserLeft, sessionID, userID, map[string]interface{}{
		"user_id": userID.String(),
	})
}

// RoomParticipants carries the current roster snapshot back to a joiner
func RoomParticipants(sessionID uuid.UUID, roster []uuid.UUID) *Event {
	ids := make([]string, len(roster))
	for i, id := range roster {
		ids[i] = id.String()
	}
	return New(TypeRoomParticipants, sessionID, uuid.Nil, map[string]interface{}{
		"participants": ids,
	})
}

// HostChanged announces the replacement host after failover
func HostChanged(sessionID, newHostID uuid.UUID) *Event {
	return New(TypeHostChanged, sessionID, uuid.Nil, map[string]interface{}{
		"new_host_id": newHostID.String(),
	})
}

// CallEnded announces session termination with a reason
func CallEnded(sessionID uuid.UUID, reason string) *Event {
	return New(TypeCallEnded, sessionID, uuid.Nil, map[string]interface{}{
		"reason": reason,
	})
}

// MediaToggled announces a participant's audio/video/screen state change
func MediaToggled(eventType string, sessionID, userID uuid.UUID, enabled bool) *Event {
	return New(eventType, sessionID, userID, map[string]interface{}{
		"user_id": userID.String(),
		"enabled": enabled,
	})
}

// NewMessage carries a chat message to the room
func NewMessage(sessionID, userID uuid.UUID, messageID uuid.UUID, text string, sentAt time.Time) *Event {
	return New(TypeNewMessage, sessionID, userID, map[string]interface{}{
		"message_id": messageID.String(),
		"user_id":    userID.String(),
		"text":       text,
		"sent_at":    sentAt.UTC().Format(time.RFC3339),
	})
}

// UserOnline announces a user's first live connection
func UserOnline(userID uuid.UUID) *Event {
	return New(TypeUserOnline, uuid.Nil, userID, map[string]interface{}{
		"user_id": userID.String(),
	})
}

// UserOffline announces a user losing their last live connection
func UserOffline(userID uuid.UUID) *Event {
	return New(TypeUserOffline, uuid.Nil, userID, map[string]interface{}{
		"user_id": userID.String(),
	})
}

// Error is a rejection delivered only to the initiating connection
func Error(code, message string) *Event {
	return New(TypeError, uuid.Nil, uuid.Nil, map[string]interface{}{
		"code":    code,
		"message": message,
	})
}
