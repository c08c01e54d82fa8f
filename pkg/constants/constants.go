// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// StoreTimeout bounds every session-store read-modify-write
	StoreTimeout = 5 * time.Second

	// CredentialTimeout bounds media credential issuance
	CredentialTimeout = 5 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout is the per-message write deadline
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// MediaTokenExpiry is the default media-relay credential lifetime
	MediaTokenExpiry = 1 * time.Hour
)

// Call session constants
const (
	// MinSessionParticipants is the smallest allowed participant cap
	MinSessionParticipants = 2

	// MaxSessionParticipants is the largest allowed participant cap
	MaxSessionParticipants = 1000

	// DefaultMaxParticipants applies when a session is created without a cap
	DefaultMaxParticipants = 10

	// MaxChatMessageLength is the maximum allowed chat message length
	MaxChatMessageLength = 1000

	// MaxCallDuration is the maximum allowed call duration (24 hours)
	MaxCallDuration = 24 * time.Hour
)

// Disconnect cleanup constants
const (
	// CleanupMaxRetries bounds store retries during disconnect cleanup
	CleanupMaxRetries = 3

	// CleanupRetryBaseDelay is the initial backoff between cleanup retries
	CleanupRetryBaseDelay = 200 * time.Millisecond
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)

// Session status constants
const (
	// SessionStatusScheduled indicates a session waiting for its start time
	SessionStatusScheduled = "scheduled"

	// SessionStatusActive indicates a session in progress
	SessionStatusActive = "active"

	// SessionStatusEnded indicates a session that has ended
	SessionStatusEnded = "ended"

	// SessionStatusCancelled indicates a session cancelled before it ended
	SessionStatusCancelled = "cancelled"
)

// User status constants
const (
	// UserStatusOnline indicates a user is currently online
	UserStatusOnline = "online"

	// UserStatusOffline indicates a user is currently offline
	UserStatusOffline = "offline"
)
