package app

import "errors"

var (
	// ErrValidation indicates a malformed send or transition payload,
	// rejected before any persistence.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates the referenced message or request does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor is not the bound buyer/dealer or the
	// role is disallowed for the attempted operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState indicates the event is not legal from the request's
	// current status.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrConflict indicates a concurrent transition won the persistence race.
	ErrConflict = errors.New("conflicting transition")
	// ErrStoreUnavailable wraps persistence failures from the store collaborator.
	ErrStoreUnavailable = errors.New("store unavailable")
)
