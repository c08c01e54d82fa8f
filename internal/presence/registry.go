// Package presence tracks which users currently have a live connection and
// which sessions they are subscribed to. The registry is process-local and
// rebuilt from scratch on restart; nothing here is persisted.
package presence

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callwave-backend/internal/event"
	"callwave-backend/pkg/logger"
)

// Conn is one live client connection. Send must not block: implementations
// buffer outbound events and report an error when the buffer is full or the
// connection is gone.
type Conn interface {
	ID() string
	Send(ev *event.Event) error
}

// Registry is an injected, explicitly-owned component; construction and
// teardown are the caller's responsibility and all operations are
// goroutine-safe.
type Registry struct {
	mu sync.RWMutex
	// users maps a user to every live connection (one per device/tab)
	users map[uuid.UUID][]Conn
	// sessions maps a session to its currently-subscribed users
	sessions map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewRegistry creates an empty presence registry
func NewRegistry() *Registry {
	return &Registry{
		users:    make(map[uuid.UUID][]Conn),
		sessions: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Register adds a live connection for userID. Returns true when this is the
// user's first connection (the user just came online).
func (r *Registry) Register(userID uuid.UUID, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.users[userID]
	for _, c := range conns {
		if c.ID() == conn.ID() {
			return false
		}
	}
	r.users[userID] = append(conns, conn)
	return len(conns) == 0
}

// Unregister removes a connection for userID. Returns true when the user has
// no remaining connections (the user went offline), together with the
// sessions whose subscriptions were pruned with the last connection. The
// went-offline decision and the pruning happen under one write lock, so
// concurrent unregisters of the same user's connections report it exactly
// once. Duplicate unregisters are no-ops.
func (r *Registry) Unregister(userID uuid.UUID, conn Conn) (bool, []uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	for i, c := range conns {
		if c.ID() == conn.ID() {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(conns) == 0 {
		delete(r.users, userID)
		// The user's session subscriptions die with their last connection
		var pruned []uuid.UUID
		for sessionID, subs := range r.sessions {
			if _, ok := subs[userID]; ok {
				delete(subs, userID)
				if len(subs) == 0 {
					delete(r.sessions, sessionID)
				}
				pruned = append(pruned, sessionID)
			}
		}
		return true, pruned
	}

	r.users[userID] = conns
	return false, nil
}

// SubscribeToSession adds userID to the session's subscriber set
func (r *Registry) SubscribeToSession(sessionID, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.sessions[sessionID]
	if subs == nil {
		subs = make(map[uuid.UUID]struct{})
		r.sessions[sessionID] = subs
	}
	subs[userID] = struct{}{}
}

// UnsubscribeFromSession removes userID from the session's subscriber set.
// An emptied set is pruned; this is routing-state garbage collection only
// and never touches the persisted session.
func (r *Registry) UnsubscribeFromSession(sessionID, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.sessions[sessionID]
	if subs == nil {
		return
	}
	delete(subs, userID)
	if len(subs) == 0 {
		delete(r.sessions, sessionID)
	}
}

// SessionsForUser returns every session userID is currently subscribed to
func (r *Registry) SessionsForUser(userID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessionIDs []uuid.UUID
	for sessionID, subs := range r.sessions {
		if _, ok := subs[userID]; ok {
			sessionIDs = append(sessionIDs, sessionID)
		}
	}
	return sessionIDs
}

// SessionSubscribers returns the subscriber user ids for a session
func (r *Registry) SessionSubscribers(sessionID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.sessions[sessionID]
	userIDs := make([]uuid.UUID, 0, len(subs))
	for userID := range subs {
		userIDs = append(userIDs, userID)
	}
	return userIDs
}

// BroadcastToSession delivers ev to every connection of every subscriber of
// the session, except excludeUserID. Returns the number of connections
// reached.
func (r *Registry) BroadcastToSession(sessionID uuid.UUID, ev *event.Event, excludeUserID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for userID := range r.sessions[sessionID] {
		if userID == excludeUserID {
			continue
		}
		delivered += r.sendLocked(userID, ev)
	}
	return delivered
}

// SendToUser delivers ev to every connection of one user (all devices).
// Returns the number of connections reached.
func (r *Registry) SendToUser(userID uuid.UUID, ev *event.Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sendLocked(userID, ev)
}

// BroadcastToAll delivers ev to every registered connection except those of
// excludeUserID. Used for global presence events.
func (r *Registry) BroadcastToAll(ev *event.Event, excludeUserID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for userID := range r.users {
		if userID == excludeUserID {
			continue
		}
		delivered += r.sendLocked(userID, ev)
	}
	return delivered
}

// ConnectionCount returns the number of live connections for userID
func (r *Registry) ConnectionCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userID])
}

// IsOnline reports whether userID has at least one live connection
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userID]) > 0
}

// OnlineCount returns the number of users with a live connection
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users)
}

func (r *Registry) sendLocked(userID uuid.UUID, ev *event.Event) int {
	delivered := 0
	for _, conn := range r.users[userID] {
		if err := conn.Send(ev); err != nil {
			logger.Warn("failed to deliver event",
				zap.String("user_id", userID.String()),
				zap.String("event", ev.Type),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}
