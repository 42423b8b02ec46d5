// Package common contains shared constants and sentinel errors used across
// keyserv components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound  = errors.New("not found")
	ErrorDuplicate = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Key lifecycle outcomes.
	ErrKeyNotFound          = errors.New("key not found")
	ErrKeyInactive          = errors.New("key inactive")
	ErrExhaustedActivations = errors.New("exhausted activations")
	ErrHardwareMismatch     = errors.New("hardware id mismatch")

	// Operator provisioning.
	ErrDuplicateUsername = errors.New("duplicate username")

	// Token generation exceeded its retry budget. Should never happen with a
	// 36^25 keyspace; treated as fatal.
	ErrKeyspaceExhausted = errors.New("keyspace exhausted")

	// Transient store fault; the whole lifecycle operation may be retried.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Auth errors (invalid or malformed session token).
	ErrInvalidToken = errors.New("invalid token")
)
