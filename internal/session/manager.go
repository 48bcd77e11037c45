// Package session owns the authentication lifecycle: it reconciles the local
// cache, the identity provider, and the live user-profile document into a
// single authoritative Session, and derives the authorization level.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/academe-app/academe/internal/backend"
	"github.com/academe-app/academe/internal/errs"
	"github.com/academe-app/academe/internal/localcache"
	"github.com/academe-app/academe/internal/model"
)

// Config carries the authorization knobs.
type Config struct {
	// AdminPIN unlocks admin UI locally. This is a development convenience,
	// not a security boundary: anything shipped to the client can be read
	// out of it. Real privilege elevation belongs on a server.
	AdminPIN string
	// PrivilegedEmail is always granted admin (first-run bootstrap).
	PrivilegedEmail string
}

// SignupDraft is the typed signup request.
type SignupDraft struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
	Name     string `validate:"required"`
	Branch   string `validate:"required"`
	Year     string `validate:"required"`
	RegNo    string
}

// Manager is the single authoritative source for "who is signed in and at
// what privilege". Construct one per application instance and share it.
type Manager struct {
	ids      backend.IdentityProvider
	store    backend.DocumentStore
	cache    *localcache.Cache
	cfg      Config
	log      *zap.Logger
	validate *validator.Validate

	onBlocked func(reason string)

	mu           sync.Mutex
	session      *model.Session
	loading      bool
	gen          uint64 // bumped on every identity transition
	watchErr     error  // last profile-subscription failure, if any
	profileUnsub backend.Unsubscribe
	stateUnsub   backend.Unsubscribe
	listeners    map[int]func(*model.Session)
	nextKey      int
}

// Option tweaks optional Manager knobs.
type Option func(*Manager)

// WithBlockedNotice registers the blocking user notice shown when the
// profile's blocked flag forces a sign-out.
func WithBlockedNotice(fn func(reason string)) Option {
	return func(m *Manager) { m.onBlocked = fn }
}

// New constructs a Manager. Call Start to begin reconciliation.
func New(ids backend.IdentityProvider, store backend.DocumentStore, cache *localcache.Cache, cfg Config, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		ids:       ids,
		store:     store,
		cache:     cache,
		cfg:       cfg,
		log:       log,
		validate:  validator.New(),
		listeners: make(map[int]func(*model.Session)),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start hydrates optimistically from the cached profile, then attaches to
// identity-provider state changes. Loading reports true until the first
// reconciliation completes; consumers must not assume a session before that.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.loading = true
	if cached, ok := m.cache.Profile(); ok {
		m.session = cached
	}
	m.mu.Unlock()

	unsub := m.ids.OnStateChange(func(id *backend.Identity) {
		m.handleIdentity(ctx, id)
	})
	m.mu.Lock()
	m.stateUnsub = unsub
	m.mu.Unlock()
}

// Close tears down all subscriptions. The session itself is untouched.
func (m *Manager) Close() {
	m.mu.Lock()
	state, profile := m.stateUnsub, m.profileUnsub
	m.stateUnsub, m.profileUnsub = nil, nil
	m.mu.Unlock()
	if profile != nil {
		profile()
	}
	if state != nil {
		state()
	}
}

// Current returns a copy of the active session, or nil.
func (m *Manager) Current() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	cpy := *m.session
	return &cpy
}

// Loading reports whether the initial reconciliation is still in flight.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// IsAdmin reports the derived authorization level of the current session.
func (m *Manager) IsAdmin() bool {
	return m.Current().IsAdmin()
}

// OnSessionChange registers a listener fired on every session transition,
// including to nil. Fires immediately with the current session.
func (m *Manager) OnSessionChange(fn func(*model.Session)) backend.Unsubscribe {
	m.mu.Lock()
	key := m.nextKey
	m.nextKey++
	m.listeners[key] = fn
	cur := m.session
	m.mu.Unlock()

	fn(cur)
	return func() {
		m.mu.Lock()
		delete(m.listeners, key)
		m.mu.Unlock()
	}
}

// Login authenticates with email/password. The session is established by the
// auth-state and profile subscriptions before this returns.
func (m *Manager) Login(ctx context.Context, email, password string) (*model.Session, error) {
	if _, err := m.ids.SignIn(ctx, email, password); err != nil {
		return nil, err
	}
	sess := m.Current()
	if sess == nil {
		// Sign-in succeeded but no session was established: either the
		// profile subscription failed outright, or the profile's blocked
		// flag forced a sign-out.
		m.mu.Lock()
		werr := m.watchErr
		m.mu.Unlock()
		if werr != nil {
			return nil, fmt.Errorf("profile subscription: %w", werr)
		}
		return nil, errs.ErrBlocked
	}
	return sess, nil
}

// Signup creates the provider account, then the profile document with role
// student and a createdAt timestamp.
func (m *Manager) Signup(ctx context.Context, draft SignupDraft) (*model.Session, error) {
	if err := m.validate.Struct(draft); err != nil {
		return nil, fmt.Errorf("invalid signup: %w", err)
	}
	id, err := m.ids.CreateAccount(ctx, draft.Email, draft.Password)
	if err != nil {
		return nil, err
	}

	profile := model.Profile{
		Name:      draft.Name,
		Email:     draft.Email,
		Branch:    draft.Branch,
		Year:      draft.Year,
		RegNo:     draft.RegNo,
		PhotoURL:  "",
		Role:      model.RoleStudent,
		CreatedAt: time.Now().UTC(),
	}
	fields, err := backend.FieldsOf(profile)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, backend.CollUsers, id.ID, fields, false); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	return m.Current(), nil
}

// SignupPositional is the legacy positional-argument signup form kept for
// callers that predate SignupDraft.
func (m *Manager) SignupPositional(ctx context.Context, email, password, name, branch, year string) (*model.Session, error) {
	return m.Signup(ctx, SignupDraft{
		Email:    email,
		Password: password,
		Name:     name,
		Branch:   branch,
		Year:     year,
	})
}

// FederatedLogin runs the provider's interactive sign-in. complete reports
// whether the resulting profile already has a real branch; callers route to
// a profile-completion step when it is false.
func (m *Manager) FederatedLogin(ctx context.Context) (sess *model.Session, complete bool, err error) {
	id, _, err := m.ids.FederatedSignIn(ctx)
	if err != nil {
		return nil, false, err
	}

	doc, err := m.store.Get(ctx, backend.CollUsers, id.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		profile := model.Profile{
			Name:      id.Name,
			Email:     id.Email,
			Branch:    model.BranchUnset,
			PhotoURL:  id.PhotoURL,
			Role:      model.RoleStudent,
			CreatedAt: time.Now().UTC(),
		}
		fields, ferr := backend.FieldsOf(profile)
		if ferr != nil {
			return nil, false, ferr
		}
		if err := m.store.Set(ctx, backend.CollUsers, id.ID, fields, false); err != nil {
			return nil, false, fmt.Errorf("create profile: %w", err)
		}
		return m.Current(), false, nil
	case err != nil:
		return nil, false, err
	}

	var profile model.Profile
	if err := backend.ScanDoc(doc, &profile); err != nil {
		return nil, false, err
	}
	return m.Current(), profile.Branch != model.BranchUnset, nil
}

// Logout signs out of the provider and clears every piece of local session
// state, including the verified-admin marker. Idempotent.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.ids.SignOut(ctx); err != nil {
		return err
	}
	// The state subscription already cleared the session; the admin marker
	// is cleared here because only full logout revokes it.
	m.cache.ClearAdminID()
	m.cache.ClearProfile()
	return nil
}

// VerifyAdmin compares pin with the configured secret. On match it raises
// the in-memory session to admin and persists the marker so the elevation
// survives reloads without re-entering the PIN. Mismatch has no side effects.
func (m *Manager) VerifyAdmin(pin string) error {
	if pin == "" || pin != m.cfg.AdminPIN {
		return errs.ErrBadPIN
	}
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return errs.ErrNoSession
	}
	m.session.Role = model.RoleAdmin
	cpy := *m.session
	m.mu.Unlock()

	if err := m.cache.SetAdminID(cpy.UID); err != nil {
		m.log.Warn("persist admin marker", zap.Error(err))
	}
	if err := m.cache.SaveProfile(&cpy); err != nil {
		m.log.Warn("persist profile cache", zap.Error(err))
	}
	m.notify(&cpy)
	return nil
}

// ChangePassword delegates to the provider; errs.ErrReauthRequired means the
// user must sign in again first.
func (m *Manager) ChangePassword(ctx context.Context, newPassword string) error {
	if m.Current() == nil {
		return errs.ErrNoSession
	}
	return m.ids.ChangePassword(ctx, newPassword)
}

// handleIdentity reacts to provider auth-state transitions. The previous
// profile subscription is always disposed before a new one attaches.
func (m *Manager) handleIdentity(ctx context.Context, id *backend.Identity) {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.watchErr = nil
	prev := m.profileUnsub
	m.profileUnsub = nil
	m.mu.Unlock()
	if prev != nil {
		prev()
	}

	if id == nil {
		m.mu.Lock()
		m.session = nil
		m.loading = false
		m.mu.Unlock()
		m.cache.ClearProfile()
		m.notify(nil)
		return
	}

	identity := *id
	unsub, err := m.store.WatchDoc(ctx, backend.CollUsers, identity.ID, func(doc backend.Document, exists bool) {
		m.onProfile(ctx, identity, doc, exists)
	})
	if err != nil {
		// Resolve loading anyway so consumers don't spin forever.
		m.log.Error("profile subscription failed", zap.String("uid", identity.ID), zap.Error(err))
		m.mu.Lock()
		if m.gen == gen {
			m.watchErr = err
		}
		m.loading = false
		m.mu.Unlock()
		return
	}
	m.mu.Lock()
	if m.gen != gen {
		// The identity changed while the watch was attaching. The initial
		// emission can do this: a blocked profile forces a sign-out before
		// the unsubscribe is stored. Dispose the stale watch instead of
		// keeping it attached past the sign-out.
		m.mu.Unlock()
		unsub()
		return
	}
	m.profileUnsub = unsub
	m.loading = false
	m.mu.Unlock()
}

// onProfile applies one emission of the live profile document.
func (m *Manager) onProfile(ctx context.Context, id backend.Identity, doc backend.Document, exists bool) {
	if !exists {
		// Right after signup the profile document may not exist yet; the
		// bare identity serves as the session until it does.
		sess := &model.Session{
			UID:      id.ID,
			Name:     id.Name,
			Email:    id.Email,
			PhotoURL: id.PhotoURL,
			Role:     model.RoleStudent,
		}
		if m.cfg.PrivilegedEmail != "" && id.Email == m.cfg.PrivilegedEmail {
			sess.Role = model.RoleAdmin
		}
		m.mu.Lock()
		m.session = sess
		cpy := *sess
		m.mu.Unlock()
		m.notify(&cpy)
		return
	}

	var profile model.Profile
	if err := backend.ScanDoc(doc, &profile); err != nil {
		m.log.Error("malformed profile document", zap.String("uid", id.ID), zap.Error(err))
		return
	}

	if profile.Blocked {
		m.forceSignOut(ctx, id.ID)
		return
	}

	sess := mergeSession(id, profile)
	sess.Role = m.deriveRole(sess)

	m.mu.Lock()
	m.session = sess
	cpy := *sess
	m.mu.Unlock()

	if err := m.cache.SaveProfile(&cpy); err != nil {
		m.log.Warn("persist profile cache", zap.Error(err))
	}
	m.notify(&cpy)
}

// forceSignOut terminates a blocked session: provider sign-out, full local
// cleanup, and the blocking user notice.
func (m *Manager) forceSignOut(ctx context.Context, uid string) {
	m.mu.Lock()
	m.session = nil
	m.loading = false
	m.mu.Unlock()

	if err := m.ids.SignOut(ctx); err != nil {
		m.log.Warn("sign out blocked account", zap.String("uid", uid), zap.Error(err))
	}
	m.cache.ClearProfile()
	m.cache.ClearAdminID()
	m.notify(nil)

	m.log.Warn("account blocked, session terminated", zap.String("uid", uid))
	if m.onBlocked != nil {
		m.onBlocked("Your account has been blocked. Contact the administration office.")
	}
}

// mergeSession merges identity and profile fields; profile fields win.
func mergeSession(id backend.Identity, p model.Profile) *model.Session {
	sess := &model.Session{
		UID:      id.ID,
		Name:     p.Name,
		Email:    p.Email,
		Branch:   p.Branch,
		Year:     p.Year,
		RegNo:    p.RegNo,
		PhotoURL: p.PhotoURL,
		Role:     p.Role,
	}
	if sess.Name == "" {
		sess.Name = id.Name
	}
	if sess.Email == "" {
		sess.Email = id.Email
	}
	if sess.PhotoURL == "" {
		sess.PhotoURL = id.PhotoURL
	}
	if sess.Role == "" {
		sess.Role = model.RoleStudent
	}
	return sess
}

// deriveRole recomputes the authorization level on every profile emission:
// admin when the profile says so, when the email is the privileged address,
// or when this identity carries the PIN-verified marker.
func (m *Manager) deriveRole(s *model.Session) model.Role {
	if s.Role == model.RoleAdmin {
		return model.RoleAdmin
	}
	if m.cfg.PrivilegedEmail != "" && s.Email == m.cfg.PrivilegedEmail {
		return model.RoleAdmin
	}
	if m.cache.AdminID() == s.UID {
		return model.RoleAdmin
	}
	return model.RoleStudent
}

func (m *Manager) notify(s *model.Session) {
	m.mu.Lock()
	fns := make([]func(*model.Session), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
