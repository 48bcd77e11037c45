// Package identity implements backend.IdentityProvider on top of the
// document store: password accounts with Argon2id hashing, HS256 JWT session
// persistence, and pluggable federated sign-in.
package identity

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/academe-app/academe/internal/backend"
	"github.com/academe-app/academe/internal/crypto"
	"github.com/academe-app/academe/internal/errs"
	"github.com/academe-app/academe/internal/limiter"
	"github.com/academe-app/academe/internal/localcache"
)

const tokenKey = "token.json"

// FederatedFlow runs an interactive federated sign-in and returns the
// resulting identity. Implemented by the oidc subpackage.
type FederatedFlow interface {
	SignIn(ctx context.Context) (*backend.Identity, error)
}

type sessionClaims struct {
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	PhotoURL string `json:"photoURL,omitempty"`
	jwt.RegisteredClaims
}

// Provider keeps accounts in the document store and persists the signed-in
// state as a JWT so sessions survive process restarts.
type Provider struct {
	store     backend.DocumentStore
	cache     *localcache.Cache
	lim       limiter.Limiter
	federated FederatedFlow
	signKey   []byte
	accessTTL time.Duration
	// reauthWindow bounds how long after sign-in a password change is
	// accepted; zero means no limit.
	reauthWindow time.Duration
	log          *zap.Logger

	mu        sync.Mutex
	current   *backend.Identity
	lastAuth  time.Time
	listeners map[int]func(*backend.Identity)
	nextKey   int
}

var _ backend.IdentityProvider = (*Provider)(nil)

// Option tweaks optional Provider knobs.
type Option func(*Provider)

// WithFederatedFlow wires an interactive federated sign-in flow.
func WithFederatedFlow(f FederatedFlow) Option {
	return func(p *Provider) { p.federated = f }
}

// WithReauthWindow bounds password changes to a window after sign-in.
func WithReauthWindow(d time.Duration) Option {
	return func(p *Provider) { p.reauthWindow = d }
}

// New constructs a Provider with required dependencies.
func New(store backend.DocumentStore, cache *localcache.Cache, lim limiter.Limiter, signKey []byte, accessTTL time.Duration, log *zap.Logger, opts ...Option) *Provider {
	p := &Provider{
		store:     store,
		cache:     cache,
		lim:       lim,
		signKey:   signKey,
		accessTTL: accessTTL,
		log:       log,
		listeners: make(map[int]func(*backend.Identity)),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Restore rebuilds the signed-in state from a persisted session token, if a
// valid one exists. Call before registering state listeners.
func (p *Provider) Restore(context.Context) {
	raw, ok := p.cache.Get(tokenKey)
	if !ok {
		return
	}
	var claims sessionClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return p.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !tok.Valid {
		p.cache.Remove(tokenKey)
		return
	}
	p.mu.Lock()
	p.current = &backend.Identity{
		ID:       claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		PhotoURL: claims.PhotoURL,
	}
	if claims.IssuedAt != nil {
		p.lastAuth = claims.IssuedAt.Time
	}
	p.mu.Unlock()
}

type accountDoc struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	PhotoURL  string    `json:"photoURL"`
	PwdHash   string    `json:"pwdHash"`
	Salt      string    `json:"salt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (p *Provider) findAccount(ctx context.Context, email string) (string, *accountDoc, error) {
	docs, err := p.store.Fetch(ctx, backend.Query{
		Collection: backend.CollAccounts,
		Field:      "email",
		Equals:     email,
	})
	if err != nil {
		return "", nil, err
	}
	if len(docs) == 0 {
		return "", nil, errs.ErrNotFound
	}
	var acc accountDoc
	if err := backend.ScanDoc(docs[0], &acc); err != nil {
		return "", nil, err
	}
	return docs[0].ID, &acc, nil
}

// SignIn authenticates an email/password pair with rate limiting.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*backend.Identity, error) {
	allowed, _, err := p.lim.Allow(ctx, email)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.ErrRateLimited
	}

	uid, acc, err := p.findAccount(ctx, email)
	if err == nil {
		salt, derr := base64.StdEncoding.DecodeString(acc.Salt)
		hash, derr2 := base64.StdEncoding.DecodeString(acc.PwdHash)
		if derr != nil || derr2 != nil || !crypto.VerifyPassword(password, salt, hash) {
			err = errs.ErrInvalidCredentials
		}
	}
	if err != nil {
		if blocked, _, ferr := p.lim.Failure(ctx, email); ferr == nil && blocked {
			return nil, errs.ErrRateLimited
		}
		// hide whether the account exists
		return nil, errs.ErrInvalidCredentials
	}
	_ = p.lim.Success(ctx, email)

	id := &backend.Identity{ID: uid, Email: acc.Email, Name: acc.Name, PhotoURL: acc.PhotoURL}
	if err := p.establish(id); err != nil {
		return nil, err
	}
	return id, nil
}

// CreateAccount registers a new email/password account and signs it in.
func (p *Provider) CreateAccount(ctx context.Context, email, password string) (*backend.Identity, error) {
	if email == "" || password == "" {
		return nil, errors.New("empty email/password")
	}
	if _, _, err := p.findAccount(ctx, email); err == nil {
		return nil, errs.ErrAccountExists
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	hash, salt, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	acc := accountDoc{
		Email:     email,
		PwdHash:   base64.StdEncoding.EncodeToString(hash),
		Salt:      base64.StdEncoding.EncodeToString(salt),
		CreatedAt: time.Now().UTC(),
	}
	fields, err := backend.FieldsOf(acc)
	if err != nil {
		return nil, err
	}
	if err := p.store.Set(ctx, backend.CollAccounts, uid.String(), fields, false); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	id := &backend.Identity{ID: uid.String(), Email: email}
	if err := p.establish(id); err != nil {
		return nil, err
	}
	return id, nil
}

// SignOut drops the persisted token and signals listeners; idempotent.
func (p *Provider) SignOut(context.Context) error {
	p.cache.Remove(tokenKey)
	p.mu.Lock()
	was := p.current
	p.current = nil
	p.mu.Unlock()
	if was != nil {
		p.broadcast(nil)
	}
	return nil
}

// FederatedSignIn runs the wired federated flow. isNew reports whether no
// account document existed for the resulting subject.
func (p *Provider) FederatedSignIn(ctx context.Context) (*backend.Identity, bool, error) {
	if p.federated == nil {
		return nil, false, errors.New("no federated flow configured")
	}
	id, err := p.federated.SignIn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("federated sign-in: %w", err)
	}

	isNew := false
	if _, err := p.store.Get(ctx, backend.CollAccounts, id.ID); errors.Is(err, errs.ErrNotFound) {
		isNew = true
		acc := accountDoc{Email: id.Email, Name: id.Name, PhotoURL: id.PhotoURL, CreatedAt: time.Now().UTC()}
		fields, ferr := backend.FieldsOf(acc)
		if ferr != nil {
			return nil, false, ferr
		}
		if err := p.store.Set(ctx, backend.CollAccounts, id.ID, fields, false); err != nil {
			return nil, false, fmt.Errorf("create federated account: %w", err)
		}
	} else if err != nil {
		return nil, false, err
	}

	if err := p.establish(id); err != nil {
		return nil, false, err
	}
	return id, isNew, nil
}

// ChangePassword rehashes and stores a new password for the signed-in
// account. Rejected with ErrReauthRequired past the reauth window.
func (p *Provider) ChangePassword(ctx context.Context, newPassword string) error {
	p.mu.Lock()
	cur := p.current
	last := p.lastAuth
	p.mu.Unlock()
	if cur == nil {
		return errs.ErrNoSession
	}
	if p.reauthWindow > 0 && time.Since(last) > p.reauthWindow {
		return errs.ErrReauthRequired
	}
	hash, salt, err := crypto.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, backend.CollAccounts, cur.ID, map[string]any{
		"pwdHash": base64.StdEncoding.EncodeToString(hash),
		"salt":    base64.StdEncoding.EncodeToString(salt),
	}, true)
}

// OnStateChange registers a listener; fires immediately with current state.
func (p *Provider) OnStateChange(fn func(*backend.Identity)) backend.Unsubscribe {
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

// establish persists the session token, records the sign-in time, and
// notifies listeners.
func (p *Provider) establish(id *backend.Identity) error {
	now := time.Now()
	claims := sessionClaims{
		Email:    id.Email,
		Name:     id.Name,
		PhotoURL: id.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signKey)
	if err != nil {
		return err
	}
	if err := p.cache.Set(tokenKey, signed); err != nil {
		p.log.Warn("persist session token", zap.Error(err))
	}

	p.mu.Lock()
	cpy := *id
	p.current = &cpy
	p.lastAuth = now
	p.mu.Unlock()

	p.broadcast(&cpy)
	return nil
}

func (p *Provider) broadcast(id *backend.Identity) {
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
