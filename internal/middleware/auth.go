package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noor-live/backend/internal/auth"
	"github.com/noor-live/backend/pkg/response"
)

const (
	// ContextSessionID is the key for the resolved session id in gin context.
	ContextSessionID = "session_id"
	// ContextRole is the key for the resolved role in gin context.
	ContextRole = "role"

	joinTokenLength = 8
)

// TokenValidator resolves an opaque join token to its (session, role) pair.
// Implemented by the sessions service.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// TokenAuth validates the Authorization bearer credential and sets the
// (session, role) pair in context. Both credential forms are accepted: the
// opaque 8-character join token, and the JWT issued on host upgrade.
func TokenAuth(validator TokenValidator, jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		credential := parts[1]

		if len(credential) == joinTokenLength {
			sessionID, role, err := validator.ValidateToken(c.Request.Context(), credential)
			if err != nil {
				response.Unauthorized(c, "invalid or expired token")
				c.Abort()
				return
			}
			c.Set(ContextSessionID, sessionID)
			c.Set(ContextRole, role)
			c.Next()
			return
		}

		claims, err := jwtService.Validate(credential)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextSessionID, claims.SessionID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// SessionFromContext returns the session id set by TokenAuth.
func SessionFromContext(c *gin.Context) uuid.UUID {
	v, _ := c.Get(ContextSessionID)
	id, _ := v.(uuid.UUID)
	return id
}
