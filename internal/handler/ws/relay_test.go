package ws

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callwave-backend/internal/domain"
	"callwave-backend/internal/event"
	"callwave-backend/internal/presence"
	"callwave-backend/internal/repository/memory"
	"callwave-backend/internal/service/call"
	"callwave-backend/pkg/metrics"
	"callwave-backend/pkg/token"
)

func newTestRelay(t *testing.T) (*Relay, *call.Service) {
	t.Helper()
	calls := call.NewService(memory.NewSessionRepository(), token.NewProvider("test-app", "test-secret"))
	return NewRelay(calls, presence.NewRegistry(), nil, metrics.NewMetrics("test"), nil, nil), calls
}

func createActiveSession(t *testing.T, calls *call.Service, hostID uuid.UUID) *domain.CallSession {
	t.Helper()
	session, err := calls.Create(context.Background(), &call.CreateInput{
		HostID:       hostID,
		HostVerified: true,
		Kind:         domain.CallKindVideo,
		Mode:         domain.CallModeGroup,
	})
	require.NoError(t, err)
	return session
}

// connect registers a fresh client connection for userID without a network
// socket; dropClient and the registry only need its identity and buffer
func connect(r *Relay, userID uuid.UUID) *Client {
	c := newClient(r, nil, userID)
	r.presence.Register(userID, c)
	return c
}

// drainEvents empties the client's outbound buffer and counts events by type
func drainEvents(c *Client) map[string]int {
	counts := make(map[string]int)
	for {
		select {
		case ev := <-c.send:
			counts[ev.Type]++
		default:
			return counts
		}
	}
}

// TestDropClient_ConcurrentDropsCleanUpOnce tests that when every connection
// of a user drops at once, the session leave runs and the user does not stay
// an active participant in the persisted session
func TestDropClient_ConcurrentDropsCleanUpOnce(t *testing.T) {
	for i := 0; i < 100; i++ {
		r, calls := newTestRelay(t)
		hostID := uuid.New()
		session := createActiveSession(t, calls, hostID)

		userID := uuid.New()
		_, _, err := calls.Join(context.Background(), session.ID, userID)
		require.NoError(t, err)

		tab1 := connect(r, userID)
		tab2 := connect(r, userID)
		r.presence.SubscribeToSession(session.ID, userID)

		var wg sync.WaitGroup
		for _, c := range []*Client{tab1, tab2} {
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				r.dropClient(c)
			}(c)
		}
		wg.Wait()

		updated, err := calls.Get(context.Background(), session.ID)
		require.NoError(t, err)
		p := updated.FindParticipant(userID)
		require.NotNil(t, p)
		assert.False(t, p.IsActive, "disconnect cleanup must remove the participant")
		assert.False(t, r.presence.IsOnline(userID))
		assert.Empty(t, r.presence.SessionsForUser(userID))
	}
}

// TestDropClient_OtherConnectionStays tests that dropping one of two tabs
// leaves the user in the call
func TestDropClient_OtherConnectionStays(t *testing.T) {
	r, calls := newTestRelay(t)
	hostID := uuid.New()
	session := createActiveSession(t, calls, hostID)

	userID := uuid.New()
	_, _, err := calls.Join(context.Background(), session.ID, userID)
	require.NoError(t, err)

	tab1 := connect(r, userID)
	connect(r, userID)
	r.presence.SubscribeToSession(session.ID, userID)

	r.dropClient(tab1)

	updated, err := calls.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.True(t, updated.FindParticipant(userID).IsActive)
	assert.True(t, r.presence.IsOnline(userID))
}

// TestHandleJoin_RepeatedJoinIsQuiet tests that a second join-room for an
// already-active participant refreshes the subscription without telling the
// room about a join that did not happen
func TestHandleJoin_RepeatedJoinIsQuiet(t *testing.T) {
	r, calls := newTestRelay(t)
	hostID := uuid.New()
	session := createActiveSession(t, calls, hostID)

	hostConn := connect(r, hostID)
	r.presence.SubscribeToSession(session.ID, hostID)

	userID := uuid.New()
	userConn := connect(r, userID)

	require.NoError(t, r.handleJoin(userConn, &Command{SessionID: session.ID}))
	require.NoError(t, r.handleJoin(userConn, &Command{SessionID: session.ID}))

	hostCounts := drainEvents(hostConn)
	assert.Equal(t, 1, hostCounts[event.TypeUserJoined])

	// The joiner still gets a roster snapshot each time
	userCounts := drainEvents(userConn)
	assert.Equal(t, 2, userCounts[event.TypeRoomParticipants])
}

// TestHandleLeave_RepeatedLeaveIsQuiet tests that a leave for a user who
// already left does not replay the departure to subscribers
func TestHandleLeave_RepeatedLeaveIsQuiet(t *testing.T) {
	r, calls := newTestRelay(t)
	hostID := uuid.New()
	session := createActiveSession(t, calls, hostID)

	hostConn := connect(r, hostID)
	r.presence.SubscribeToSession(session.ID, hostID)

	userID := uuid.New()
	_, _, err := calls.Join(context.Background(), session.ID, userID)
	require.NoError(t, err)

	require.NoError(t, r.handleLeave(userID, session.ID))
	require.NoError(t, r.handleLeave(userID, session.ID))

	counts := drainEvents(hostConn)
	assert.Equal(t, 1, counts[event.TypeUserLeft])
}

// TestSessionLocks_PrunedAfterUse tests that serialization locks do not
// accumulate one map entry per session ever touched
func TestSessionLocks_PrunedAfterUse(t *testing.T) {
	r, _ := newTestRelay(t)
	sessionID := uuid.New()

	err := r.WithSessionLock(sessionID, func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		assert.Contains(t, r.sessionLocks, sessionID)
		return nil
	})
	assert.NoError(t, err)

	r.mu.Lock()
	assert.Empty(t, r.sessionLocks)
	r.mu.Unlock()
}

// TestSessionLocks_SerializeConcurrentHolders tests mutual exclusion across
// contended acquisitions and that the entry survives until the last release
func TestSessionLocks_SerializeConcurrentHolders(t *testing.T) {
	r, _ := newTestRelay(t)
	sessionID := uuid.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.WithSessionLock(sessionID, func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	r.mu.Lock()
	assert.Empty(t, r.sessionLocks)
	r.mu.Unlock()
}
