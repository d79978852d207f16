package domain

import "errors"

// Stable error kinds. Services wrap these with fmt.Errorf("...: %w", Err...)
// so handlers can branch with errors.Is and map them to HTTP statuses.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
	ErrAuthentication    = errors.New("authentication failed")
	ErrUpstream          = errors.New("upstream provider error")
)
