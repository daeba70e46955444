// Package handlers implements the admin API endpoints.
//
// Every failure is written as an ErrorResponse with a stable code from
// errors.go; successes are plain JSON bodies or 204.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/athenaai/athena/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go).
	Code    string `json:"code" example:"user_not_found"`
	Message string `json:"message" example:"user not found"`
}

// fail aborts with an error envelope. 503 is logged as a warning since the
// store recovers on its own; other 5xx are logged as errors.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		ev := lg.Error()
		if status == http.StatusServiceUnavailable {
			ev = lg.Warn()
		}
		ev.Int("status", status).Str("code", code).Str("message", msg).Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// failInternal logs err and answers 500 without exposing its text.
func failInternal(c *gin.Context, err error) {
	middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
}

// Fail writes an error envelope; the router uses it for 404 and 405.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
