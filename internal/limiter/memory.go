package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process limiter with sliding window and lockout. The portal
// runs client-side, so there is no shared counter store to coordinate with.
type Memory struct {
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time

	mu    sync.Mutex
	state map[string]*entry
}

type entry struct {
	fails        int
	lastFail     time.Time
	blockedUntil time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-process limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
		state:    make(map[string]*entry),
	}
}

// Allow reports whether sign-in is currently allowed and a retry-after duration.
func (l *Memory) Allow(_ context.Context, email string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.state[email]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success resets counters for email.
func (l *Memory) Success(_ context.Context, email string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.state, email)
	return nil
}

// Failure records a failed attempt; may set a block until a future time.
func (l *Memory) Failure(_ context.Context, email string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.state[email]
	if !ok {
		e = &entry{}
		l.state[email] = e
	}
	if now.Sub(e.lastFail) > l.window {
		e.fails = 0
	}
	e.fails++
	e.lastFail = now
	if e.fails >= l.maxFails {
		e.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
