package models

import "errors"

// Sentinel errors shared across repositories, services and handlers.
// Handlers map these to HTTP status codes; scheduler-side callers log and skip.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrQuestionIndex    = errors.New("question index out of range")
	ErrChatNotFound     = errors.New("chat not found")
	ErrUserNotFound     = errors.New("user not found")

	// ErrConsistency marks a partial multi-step failure (e.g. move committed the
	// delete but not the add). Must be logged with enough context to reconcile.
	ErrConsistency = errors.New("consistency error")

	ErrNoCategoriesAvailable = errors.New("no categories available")
	ErrNoTimesConfigured     = errors.New("no times configured")

	// ErrDelivery is a downstream bot-send failure, retried with bounded backoff.
	ErrDelivery = errors.New("delivery failure")

	// ErrStaleEvent rejects an answer event older than the last applied one.
	ErrStaleEvent = errors.New("stale answer event")
	// ErrDuplicateEvent rejects re-ingestion of an already processed event id.
	ErrDuplicateEvent = errors.New("duplicate answer event")
)
