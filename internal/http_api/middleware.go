package http_api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Viktorio135/vpn/internal/auth"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// requestID tags every request with an id and logs it once served.
func requestID(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		start := time.Now()

		c.Next()

		log.Debugw("Request served",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// requireAPIKey admits only the chat front-end.
func (s *HTTPServer) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.SecretEqual(c.GetHeader("X-API-Key"), s.apiKey) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key", "code": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *HTTPServer) limitPostbacks() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.postbacks.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}
