package middleware

import (
	"bookmart/jwt"
	"bookmart/logger"
	"github.com/gin-gonic/gin"
	"strings"
)

const (
	ContextUserID     = "UserID"
	ContextRole       = "Role"
	ContextToken      = "Token"
	contextTokenError = "TokenError"

	TokenCookieName = "token"
)

// AuthMiddleware resolves the caller from a bearer token in the
// Authorization header or the token cookie. Anonymous requests pass through;
// CheckLoginMiddleware decides whether a route needs a user.
func AuthMiddleware(tokens *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := tokens.VerifyToken(token)
		if err != nil {
			logger.Ctx(c.Request.Context()).Debug().Err(err).Msg("token rejected")
			c.Set(contextTokenError, err)
			c.Next()
			return
		}

		c.Set(ContextToken, token)
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if cookie, err := c.Cookie(TokenCookieName); err == nil {
		return cookie
	}
	return ""
}

// UserID returns the authenticated user's ID, if any.
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}
