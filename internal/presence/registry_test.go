package presence

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"callwave-backend/internal/event"
)

// fakeConn records delivered events
type fakeConn struct {
	id     string
	events []*event.Event
	fail   bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev *event.Event) error {
	if c.fail {
		return fmt.Errorf("buffer full")
	}
	c.events = append(c.events, ev)
	return nil
}

// TestRegisterUnregister tests online transitions across multiple devices
func TestRegisterUnregister(t *testing.T) {
	registry := NewRegistry()
	userID := uuid.New()
	tab1 := &fakeConn{id: "tab1"}
	tab2 := &fakeConn{id: "tab2"}

	assert.True(t, registry.Register(userID, tab1))
	assert.False(t, registry.Register(userID, tab2))
	assert.True(t, registry.IsOnline(userID))
	assert.Equal(t, 2, registry.ConnectionCount(userID))
	assert.Equal(t, 1, registry.OnlineCount())

	wentOffline, _ := registry.Unregister(userID, tab1)
	assert.False(t, wentOffline)
	assert.True(t, registry.IsOnline(userID))

	wentOffline, _ = registry.Unregister(userID, tab2)
	assert.True(t, wentOffline)
	assert.False(t, registry.IsOnline(userID))
	assert.Equal(t, 0, registry.OnlineCount())

	// Unregistering an unknown connection is harmless
	wentOffline, _ = registry.Unregister(userID, tab1)
	assert.False(t, wentOffline)
}

// TestUnregister_ReturnsPrunedSessions tests that the last connection's
// unregister hands back the sessions whose subscriptions died with it
func TestUnregister_ReturnsPrunedSessions(t *testing.T) {
	registry := NewRegistry()
	userID := uuid.New()
	sessionA := uuid.New()
	sessionB := uuid.New()
	tab1 := &fakeConn{id: "tab1"}
	tab2 := &fakeConn{id: "tab2"}

	registry.Register(userID, tab1)
	registry.Register(userID, tab2)
	registry.SubscribeToSession(sessionA, userID)
	registry.SubscribeToSession(sessionB, userID)

	wentOffline, pruned := registry.Unregister(userID, tab1)
	assert.False(t, wentOffline)
	assert.Empty(t, pruned)
	assert.Len(t, registry.SessionsForUser(userID), 2)

	wentOffline, pruned = registry.Unregister(userID, tab2)
	assert.True(t, wentOffline)
	assert.ElementsMatch(t, []uuid.UUID{sessionA, sessionB}, pruned)
	assert.Empty(t, registry.SessionsForUser(userID))
}

// TestUnregister_ConcurrentDropsReportOfflineOnce tests that when all of a
// user's connections drop at once, exactly one unregister observes the user
// going offline and receives the pruned sessions
func TestUnregister_ConcurrentDropsReportOfflineOnce(t *testing.T) {
	for i := 0; i < 200; i++ {
		registry := NewRegistry()
		userID := uuid.New()
		sessionID := uuid.New()
		tab1 := &fakeConn{id: "tab1"}
		tab2 := &fakeConn{id: "tab2"}

		registry.Register(userID, tab1)
		registry.Register(userID, tab2)
		registry.SubscribeToSession(sessionID, userID)

		results := make(chan int, 2)
		for _, conn := range []*fakeConn{tab1, tab2} {
			go func(conn *fakeConn) {
				wentOffline, pruned := registry.Unregister(userID, conn)
				if wentOffline {
					results <- len(pruned)
				} else {
					results <- -1
				}
			}(conn)
		}

		offline := 0
		prunedTotal := 0
		for j := 0; j < 2; j++ {
			if n := <-results; n >= 0 {
				offline++
				prunedTotal += n
			}
		}
		assert.Equal(t, 1, offline)
		assert.Equal(t, 1, prunedTotal)
		assert.False(t, registry.IsOnline(userID))
	}
}

// TestBroadcastToSession tests fanout to every device of every subscriber
func TestBroadcastToSession(t *testing.T) {
	registry := NewRegistry()
	sessionID := uuid.New()

	sender := uuid.New()
	senderConn := &fakeConn{id: "sender"}
	registry.Register(sender, senderConn)
	registry.SubscribeToSession(sessionID, sender)

	receiver := uuid.New()
	tab1 := &fakeConn{id: "r1"}
	tab2 := &fakeConn{id: "r2"}
	registry.Register(receiver, tab1)
	registry.Register(receiver, tab2)
	registry.SubscribeToSession(sessionID, receiver)

	delivered := registry.BroadcastToSession(sessionID, event.UserJoined(sessionID, sender), sender)
	assert.Equal(t, 2, delivered)
	assert.Len(t, senderConn.events, 0)
	assert.Len(t, tab1.events, 1)
	assert.Len(t, tab2.events, 1)

	// Without exclusion the sender's connection is included
	delivered = registry.BroadcastToSession(sessionID, event.CallEnded(sessionID, "test"), uuid.Nil)
	assert.Equal(t, 3, delivered)
}

// TestBroadcastToSession_SkipsFailedSends tests that a full buffer does not
// count as a delivery
func TestBroadcastToSession_SkipsFailedSends(t *testing.T) {
	registry := NewRegistry()
	sessionID := uuid.New()

	userID := uuid.New()
	healthy := &fakeConn{id: "ok"}
	stalled := &fakeConn{id: "stalled", fail: true}
	registry.Register(userID, healthy)
	registry.Register(userID, stalled)
	registry.SubscribeToSession(sessionID, userID)

	delivered := registry.BroadcastToSession(sessionID, event.CallEnded(sessionID, "test"), uuid.Nil)
	assert.Equal(t, 1, delivered)
}

// TestSubscriptionPruning tests that empty session sets are removed and
// that unregistering a user drops their subscriptions
func TestSubscriptionPruning(t *testing.T) {
	registry := NewRegistry()
	sessionID := uuid.New()
	userID := uuid.New()
	conn := &fakeConn{id: "c"}

	registry.Register(userID, conn)
	registry.SubscribeToSession(sessionID, userID)
	assert.Equal(t, []uuid.UUID{sessionID}, registry.SessionsForUser(userID))
	assert.Len(t, registry.SessionSubscribers(sessionID), 1)

	registry.UnsubscribeFromSession(sessionID, userID)
	assert.Empty(t, registry.SessionSubscribers(sessionID))
	assert.Empty(t, registry.SessionsForUser(userID))

	// Going fully offline drops any remaining subscriptions
	registry.SubscribeToSession(sessionID, userID)
	registry.Unregister(userID, conn)
	assert.Empty(t, registry.SessionSubscribers(sessionID))
}

// TestSendToUser tests direct delivery to all of a user's devices
func TestSendToUser(t *testing.T) {
	registry := NewRegistry()
	userID := uuid.New()
	tab1 := &fakeConn{id: "1"}
	tab2 := &fakeConn{id: "2"}
	registry.Register(userID, tab1)
	registry.Register(userID, tab2)

	delivered := registry.SendToUser(userID, event.UserOnline(userID))
	assert.Equal(t, 2, delivered)

	assert.Equal(t, 0, registry.SendToUser(uuid.New(), event.UserOnline(userID)))
}

// TestBroadcastToAll tests global fanout with exclusion
func TestBroadcastToAll(t *testing.T) {
	registry := NewRegistry()

	offline := uuid.New()
	a := uuid.New()
	b := uuid.New()
	connA := &fakeConn{id: "a"}
	connB := &fakeConn{id: "b"}
	registry.Register(a, connA)
	registry.Register(b, connB)

	delivered := registry.BroadcastToAll(event.UserOffline(offline), a)
	assert.Equal(t, 1, delivered)
	assert.Len(t, connA.events, 0)
	assert.Len(t, connB.events, 1)
}
