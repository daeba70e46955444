// Package services defines the business logic for identity resolution,
// platform linking, the message ledger, and the conversation flow.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrStoreUnavailable is returned when the persistent store failed or the
	// retry budget for a contended transaction was exhausted.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUserNotFound indicates that a canonical user id does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrGenerationFailure is returned when the generative model fails or
	// times out.
	ErrGenerationFailure = errors.New("generation failed")

	// ErrInvalidIdentity is returned when a platform or platform user id is
	// blank.
	ErrInvalidIdentity = errors.New("platform and platform user id are required")

	// ErrIdentityConflict is returned when a platform identity is already
	// linked to a different canonical user. Links are never re-pointed.
	ErrIdentityConflict = errors.New("platform identity linked to another user")

	// ErrEmptyOwner is returned when a ledger append has no canonical owner.
	ErrEmptyOwner = errors.New("canonical user id is required")
)

// ErrBackfillRunning is returned when a backfill is started while another
// run of the same job is in progress.
var ErrBackfillRunning = errors.New("backfill already running")
