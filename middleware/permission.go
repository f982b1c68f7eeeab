package middleware

import (
	"bookmart/apperr"
	"bookmart/models"
	"errors"
	"github.com/gin-gonic/gin"
)

// CheckAdminPermissionMiddleware must run after CheckLoginMiddleware.
func CheckAdminPermissionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ContextRole)
		if !exists {
			_ = c.Error(apperr.Internal("role missing from request context", errors.New("role not set")))
			c.Abort()
			return
		}
		if role != models.RoleAdmin {
			_ = c.Error(apperr.Forbidden("admin permission required"))
			c.Abort()
			return
		}

		c.Next()
	}
}
