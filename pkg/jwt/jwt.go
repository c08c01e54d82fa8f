package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "callwave-backend/pkg/errors"
)

// Claims represents JWT claims structure
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Verified bool      `json:"verified"`
	jwt.RegisteredClaims
}

// Verifier validates raw bearer tokens and extracts the caller identity.
// It is the identity-verification collaborator for both HTTP and WS surfaces.
type Verifier struct {
	secretKey     string
	tokenDuration time.Duration
}

// NewVerifier creates a new token verifier
func NewVerifier(secretKey string, tokenDuration time.Duration) *Verifier {
	return &Verifier{
		secretKey:     secretKey,
		tokenDuration: tokenDuration,
	}
}

// GenerateToken creates a signed access token for a user
func (v *Verifier) GenerateToken(userID uuid.UUID, username string, verified bool) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Verified: verified,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(v.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "callwave-auth",
			Subject:   userID.String(),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(v.secretKey))
	if err != nil {
		return "", apperrors.WrapWithStatus(apperrors.ErrCodeInternal, "failed to sign token", 500, err)
	}

	return tokenString, nil
}

// Verify validates and parses a raw token, returning its claims.
// Every failure maps to Unauthenticated so callers can close the connection.
func (v *Verifier) Verify(rawToken string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(rawToken, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.InvalidTokenError("unexpected signing method")
		}
		return []byte(v.secretKey), nil
	})

	if err != nil {
		return nil, apperrors.UnauthenticatedError("Invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.UnauthenticatedError("Invalid token")
	}

	if claims.UserID == uuid.Nil {
		return nil, apperrors.UnauthenticatedError("Token missing user identity")
	}

	return claims, nil
}
