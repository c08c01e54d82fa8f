// Package push defines the push-notification collaborator boundary.
// Actual delivery (FCM, APNs) lives behind the Provider interface.
package push

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callwave-backend/pkg/logger"
)

// Notification is one push payload
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Provider delivers push notifications to a user's registered devices
type Provider interface {
	Send(ctx context.Context, userID uuid.UUID, notification *Notification) error
}

// MockProvider logs notifications instead of delivering them.
// Used in development and tests.
type MockProvider struct {
	mu   sync.Mutex
	sent []Notification
}

// Send records the notification and logs it
func (m *MockProvider) Send(ctx context.Context, userID uuid.UUID, notification *Notification) error {
	m.mu.Lock()
	m.sent = append(m.sent, *notification)
	m.mu.Unlock()

	logger.Info("Mock push notification sent",
		zap.String("user_id", userID.String()),
		zap.String("title", notification.Title))
	return nil
}

// Sent returns the notifications recorded so far
func (m *MockProvider) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
