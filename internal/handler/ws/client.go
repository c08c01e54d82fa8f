package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callwave-backend/internal/event"
	"callwave-backend/pkg/constants"
	"callwave-backend/pkg/logger"
)

// Client is one live WebSocket connection owned by the relay. It satisfies
// the presence registry's Conn contract: Send never blocks, events are
// buffered per connection and a full buffer drops the event with an error.
type Client struct {
	relay  *Relay
	conn   *websocket.Conn
	send   chan *event.Event
	id     string
	userID uuid.UUID

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(relay *Relay, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		relay:  relay,
		conn:   conn,
		send:   make(chan *event.Event, 256),
		id:     uuid.NewString(),
		userID: userID,
		done:   make(chan struct{}),
	}
}

// ID returns the connection identifier, unique per connection so a user's
// tabs and devices are tracked independently
func (c *Client) ID() string {
	return c.id
}

// Send queues an event for delivery. Never blocks: a slow consumer whose
// buffer is full loses the event rather than stalling the broadcaster.
func (c *Client) Send(ev *event.Event) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection %s is closed", c.id)
	default:
	}

	select {
	case c.send <- ev:
		return nil
	default:
		return fmt.Errorf("send buffer full on connection %s", c.id)
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump reads commands from the WebSocket and dispatches them to the
// relay one at a time. Dispatch is synchronous so a single connection's
// commands are applied and observed in the order they were sent.
func (c *Client) readPump() {
	defer func() {
		c.relay.dropClient(c)
		c.close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			c.Send(event.Error("INVALID_INPUT", "Malformed message"))
			continue
		}

		c.relay.handleCommand(c, &cmd)
	}
}

// writePump drains the send buffer to the WebSocket and keeps the
// connection alive with periodic pings
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))

			payload, err := json.Marshal(ev)
			if err != nil {
				logger.Warn("Failed to marshal outbound event",
					zap.String("event_type", ev.Type),
					zap.Error(err))
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			c.relay.metrics.RecordWebSocketMessage(ev.Type, "outbound")

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
