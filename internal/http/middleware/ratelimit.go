package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/athenaai/athena/internal/ratelimit"
)

// CodeRateLimited is the error code of a throttled request.
const CodeRateLimited = "too_many_requests"

// KeyFunc selects the bucket a request is charged to.
type KeyFunc func(*gin.Context) string

// KeyByClientIP charges requests to the client address.
func KeyByClientIP(c *gin.Context) string { return "ip:" + c.ClientIP() }

// RateLimit answers 429 with Retry-After once the caller's bucket is empty.
// A nil key func defaults to KeyByClientIP.
func RateLimit(b *ratelimit.Buckets, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = KeyByClientIP
	}
	return func(c *gin.Context) {
		if b.Allow(key(c)) {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       CodeRateLimited,
			"message":    "rate limit exceeded",
		})
	}
}
