package session

import "errors"

var (
	// ErrNoSession indicates no live session user is available.
	ErrNoSession = errors.New("no live session")
	// ErrNoRenewal indicates the provider has no renewal collaborator wired.
	ErrNoRenewal = errors.New("session renewal not configured")
)
