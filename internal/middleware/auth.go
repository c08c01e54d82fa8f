package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"callwave-backend/pkg/jwt"
	"callwave-backend/pkg/response"
)

// Auth validates the request's JWT and sets user_id, username, and verified
// in the Gin context. The token comes from the Authorization header, or from
// the token query parameter for WebSocket upgrades where browsers cannot set
// headers.
func Auth(verifier *jwt.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken := bearerToken(c)
		if rawToken == "" {
			rawToken = c.Query("token")
		}
		if rawToken == "" {
			response.Unauthorized(c, "Authorization required")
			c.Abort()
			return
		}

		claims, err := verifier.Verify(rawToken)
		if err != nil {
			response.FromAppError(c, err)
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("verified", claims.Verified)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
