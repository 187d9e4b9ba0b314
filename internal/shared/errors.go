package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates bad input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition indicates a state machine precondition failed.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConcurrentModification indicates the optimistic balance check failed; retry the operation.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrLeaseHeld indicates another reviewer holds a live review lease.
	ErrLeaseHeld = errors.New("review lease held by another reviewer")
	// ErrAuthorization indicates a role or password check failed.
	ErrAuthorization = errors.New("not authorized")
)
