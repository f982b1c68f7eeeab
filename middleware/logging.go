package middleware

import (
	"bookmart/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"time"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger tags each request with an id, puts a request-scoped logger
// into the request context and writes one access line when it completes.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		reqLogger := logger.Get().With().Str("requestId", requestID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), reqLogger))

		c.Next()

		event := reqLogger.Info()
		if c.Writer.Status() >= 500 {
			event = reqLogger.Error()
		}
		if userID, ok := UserID(c); ok {
			event = event.Uint("userId", userID)
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("clientIP", c.ClientIP()).
			Msg("request")
	}
}
