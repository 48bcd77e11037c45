// Package limiter defines interfaces and implementations for sign-in rate limiting.
package limiter

import (
	"context"
	"time"
)

// Limiter controls sign-in attempts and temporary lockouts per email.
type Limiter interface {
	// Allow reports whether sign-in is currently allowed and optional retry-after.
	Allow(ctx context.Context, email string) (bool, time.Duration, error)
	// Success resets counters after a successful sign-in.
	Success(ctx context.Context, email string) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, email string) (bool, time.Duration, error)
}
