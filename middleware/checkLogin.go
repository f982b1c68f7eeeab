package middleware

import (
	"bookmart/apperr"
	"github.com/gin-gonic/gin"
)

// CheckLoginMiddleware aborts requests that carry no valid token.
func CheckLoginMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextUserID); exists {
			c.Next()
			return
		}

		if v, ok := c.Get(contextTokenError); ok {
			if err, ok := v.(error); ok {
				_ = c.Error(err)
				c.Abort()
				return
			}
		}

		_ = c.Error(apperr.Unauthorized("not logged in"))
		c.Abort()
	}
}
