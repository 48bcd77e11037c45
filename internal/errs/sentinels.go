// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across backend/session/sync layers.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredentials indicates a rejected email/password pair.
	// Surfaced to users as a generic message; never says which field was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountExists indicates signup with an email that already has an account.
	ErrAccountExists = errors.New("account already exists")

	// ErrReauthRequired indicates a sensitive operation (password change)
	// attempted too long after the last sign-in.
	ErrReauthRequired = errors.New("recent sign-in required")

	// ErrBlocked indicates the profile carries the blocked flag; not retryable.
	ErrBlocked = errors.New("account blocked")

	// ErrNoSession indicates an operation that requires an authenticated session.
	ErrNoSession = errors.New("no active session")

	// ErrNotAdmin indicates an admin-only operation attempted at student level.
	ErrNotAdmin = errors.New("admin privileges required")

	// ErrBadPIN indicates a failed admin PIN verification.
	ErrBadPIN = errors.New("wrong admin pin")

	// ErrRateLimited indicates temporary sign-in lock due to repeated failures.
	ErrRateLimited = errors.New("rate limited")
)
