// Package token issues short-lived media-relay credentials. The media relay
// itself is an external SDK; the credential format here is an HMAC-signed JWT
// scoped to one channel, which is what relay-side verification expects.
package token

import (
	"hash/fnv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "callwave-backend/pkg/errors"
)

// Role grants a publisher or subscriber capability on the media channel
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// Credential is a per-user media-access token scoped to a channel
type Credential struct {
	Token   string    `json:"token"`
	UID     uint32    `json:"uid"`
	Channel string    `json:"channel"`
	Expiry  time.Time `json:"expiry"`
}

type mediaClaims struct {
	Channel string `json:"channel"`
	UID     uint32 `json:"uid"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Provider signs media credentials with a relay-shared secret
type Provider struct {
	appID     string
	appSecret string
}

// NewProvider creates a credential provider for the given relay application
func NewProvider(appID, appSecret string) *Provider {
	return &Provider{appID: appID, appSecret: appSecret}
}

// Issue creates a credential for userID on channelName, valid for ttl
func (p *Provider) Issue(channelName string, userID uuid.UUID, role Role, ttl time.Duration) (*Credential, error) {
	if channelName == "" {
		return nil, apperrors.MissingFieldError("channel")
	}

	uid := numericUID(userID)
	expiry := time.Now().Add(ttl)

	claims := &mediaClaims{
		Channel: channelName,
		UID:     uid,
		Role:    string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    p.appID,
			Subject:   userID.String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.appSecret))
	if err != nil {
		return nil, apperrors.WrapWithStatus(apperrors.ErrCodeInternal, "failed to sign media credential", 500, err)
	}

	return &Credential{
		Token:   signed,
		UID:     uid,
		Channel: channelName,
		Expiry:  expiry,
	}, nil
}

// numericUID maps a user identity onto the relay's numeric uid space.
// Stable across restarts so rejoining users keep the same uid.
func numericUID(userID uuid.UUID) uint32 {
	h := fnv.New32a()
	h.Write(userID[:])
	uid := h.Sum32()
	if uid == 0 {
		uid = 1
	}
	return uid
}
