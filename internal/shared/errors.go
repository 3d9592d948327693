package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates a missing or invalid caller identity.
	ErrUnauthorized = errors.New("unauthorized")
)
