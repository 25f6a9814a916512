package models

import "errors"

// Expected business failures. Callers match them with errors.Is.
var (
	// ErrInvalidCredentials covers wrong PIN, unknown card, blocked card and active lock alike.
	ErrInvalidCredentials = errors.New("invalid PIN or card")
	ErrTooManyAttempts    = errors.New("too many login attempts")
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAccountNotFound    = errors.New("account not found")
	ErrCardNotFound       = errors.New("card not found")

	ErrInvalidIdempotencyKey = errors.New("idempotency key is required")
	// ErrIdempotencyKeyInUse means the key already belongs to another account's transaction.
	ErrIdempotencyKeyInUse = errors.New("idempotency key already used")
	// ErrTransient is returned after internal retries on lock timeouts are exhausted; safe to retry.
	ErrTransient = errors.New("temporarily unavailable, retry")
)
