// Package handlers defines the error codes returned by the admin API.
//
// Every error response carries an HTTP status and one of these codes so
// clients can branch on a stable value instead of the message:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "identity_conflict",
//	  "message": "platform identity linked to another user"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/athenaai/athena/internal/http/middleware"
	"github.com/athenaai/athena/internal/services"
	"github.com/athenaai/athena/internal/utils"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = middleware.CodeRateLimited
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidIdentity  = "invalid_identity"
	ErrCodeIdentityConflict = "identity_conflict"
	ErrCodeUserNotFound     = "user_not_found"
	ErrCodeBadCursor        = "bad_cursor"
	ErrCodeBackfillRunning  = "backfill_running"
	ErrCodeStoreUnavailable = "store_unavailable"
)

// failErr maps a service error to its status and code.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidIdentity):
		fail(c, http.StatusBadRequest, ErrCodeInvalidIdentity, err.Error())
	case errors.Is(err, utils.ErrBadCursor):
		fail(c, http.StatusBadRequest, ErrCodeBadCursor, "cursor is malformed")
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeUserNotFound, "user not found")
	case errors.Is(err, services.ErrIdentityConflict):
		fail(c, http.StatusConflict, ErrCodeIdentityConflict, err.Error())
	case errors.Is(err, services.ErrBackfillRunning):
		fail(c, http.StatusConflict, ErrCodeBackfillRunning, err.Error())
	case errors.Is(err, services.ErrStoreUnavailable):
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "store unavailable, retry later")
	default:
		failInternal(c, err)
	}
}
