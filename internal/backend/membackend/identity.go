package membackend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/academe-app/academe/internal/backend"
	"github.com/academe-app/academe/internal/errs"
)

// IdentityProvider is an in-memory auth provider. Accounts hold plaintext
// passwords; this double never leaves tests and local development.
type IdentityProvider struct {
	mu        sync.Mutex
	accounts  map[string]*account // keyed by email
	current   *backend.Identity
	listeners map[int]func(*backend.Identity)
	nextKey   int
	nextUID   int
	lastAuth  time.Time

	// ReauthWindow bounds how long after sign-in a password change is
	// accepted; zero means no limit.
	ReauthWindow time.Duration

	// Federated configures the next FederatedSignIn result.
	Federated    *backend.Identity
	FederatedNew bool
}

type account struct {
	id       *backend.Identity
	password string
}

var _ backend.IdentityProvider = (*IdentityProvider)(nil)

// NewIdentityProvider constructs an empty in-memory provider.
func NewIdentityProvider() *IdentityProvider {
	return &IdentityProvider{
		accounts:  make(map[string]*account),
		listeners: make(map[int]func(*backend.Identity)),
	}
}

// SignIn authenticates an email/password pair.
func (p *IdentityProvider) SignIn(_ context.Context, email, password string) (*backend.Identity, error) {
	p.mu.Lock()
	acc, ok := p.accounts[email]
	if !ok || acc.password != password {
		p.mu.Unlock()
		return nil, errs.ErrInvalidCredentials
	}
	id := *acc.id
	p.current = &id
	p.lastAuth = time.Now()
	p.mu.Unlock()

	p.broadcast(&id)
	return &id, nil
}

// CreateAccount registers a new email/password account and signs it in.
func (p *IdentityProvider) CreateAccount(_ context.Context, email, password string) (*backend.Identity, error) {
	p.mu.Lock()
	if _, ok := p.accounts[email]; ok {
		p.mu.Unlock()
		return nil, errs.ErrAccountExists
	}
	p.nextUID++
	id := &backend.Identity{ID: fmt.Sprintf("uid-%d", p.nextUID), Email: email}
	p.accounts[email] = &account{id: id, password: password}
	cpy := *id
	p.current = &cpy
	p.lastAuth = time.Now()
	p.mu.Unlock()

	p.broadcast(&cpy)
	return &cpy, nil
}

// SignOut clears the current identity; idempotent.
func (p *IdentityProvider) SignOut(context.Context) error {
	p.mu.Lock()
	was := p.current
	p.current = nil
	p.mu.Unlock()
	if was != nil {
		p.broadcast(nil)
	}
	return nil
}

// FederatedSignIn returns the configured federated identity.
func (p *IdentityProvider) FederatedSignIn(context.Context) (*backend.Identity, bool, error) {
	p.mu.Lock()
	if p.Federated == nil {
		p.mu.Unlock()
		return nil, false, errs.ErrInvalidCredentials
	}
	id := *p.Federated
	isNew := p.FederatedNew
	if _, ok := p.accounts[id.Email]; !ok {
		p.accounts[id.Email] = &account{id: &id}
	}
	p.current = &id
	p.lastAuth = time.Now()
	p.mu.Unlock()

	p.broadcast(&id)
	return &id, isNew, nil
}

// ChangePassword updates the password of the signed-in account; fails with
// ErrReauthRequired past the reauth window.
func (p *IdentityProvider) ChangePassword(_ context.Context, newPassword string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return errs.ErrNoSession
	}
	if p.ReauthWindow > 0 && time.Since(p.lastAuth) > p.ReauthWindow {
		return errs.ErrReauthRequired
	}
	acc, ok := p.accounts[p.current.Email]
	if !ok {
		return errs.ErrNotFound
	}
	acc.password = newPassword
	return nil
}

// OnStateChange registers a listener; fires immediately with current state.
func (p *IdentityProvider) OnStateChange(fn func(*backend.Identity)) backend.Unsubscribe {
	p.mu.Lock()
	key := p.nextKey
	p.nextKey++
	p.listeners[key] = fn
	cur := p.current
	p.mu.Unlock()

	fn(cur)
	return func() {
		p.mu.Lock()
		delete(p.listeners, key)
		p.mu.Unlock()
	}
}

func (p *IdentityProvider) broadcast(id *backend.Identity) {
	p.mu.Lock()
	fns := make([]func(*backend.Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}
