// Package common defines shared constants and sentinel errors used across
// the agent and server layers. Callers should use errors.Is to match these
// values; lower layers wrap them with fmt.Errorf("%w") to add context.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Transport taxonomy. Every failure reaching the queue or the
	// connector is classified as exactly one of these.
	ErrTransient         = errors.New("transient network error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrPermanentRejected = errors.New("permanently rejected")

	// ErrLocalStorage marks a failure of the local durable store. The
	// affected operation fails outright and must be retried by the caller.
	ErrLocalStorage = errors.New("local storage error")

	// State-machine errors.
	ErrInvalidTransition = errors.New("invalid state transition")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
