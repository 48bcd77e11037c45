package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/academe-app/academe/internal/backend"
	"github.com/academe-app/academe/internal/backend/membackend"
	"github.com/academe-app/academe/internal/errs"
	"github.com/academe-app/academe/internal/localcache"
	"github.com/academe-app/academe/internal/model"
)

type fixture struct {
	mgr   *Manager
	ids   *membackend.IdentityProvider
	store *membackend.Store
	cache *localcache.Cache
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ids:   membackend.NewIdentityProvider(),
		store: membackend.NewStore(),
		cache: localcache.New(t.TempDir()),
	}
	f.mgr = New(f.ids, f.store, f.cache, cfg, zap.NewNop(), opts...)
	f.mgr.Start(context.Background())
	t.Cleanup(f.mgr.Close)
	return f
}

var testDraft = SignupDraft{
	Email:    "a@x.com",
	Password: "secret1",
	Name:     "A",
	Branch:   "CSE",
	Year:     "1st Year",
	RegNo:    "R1",
}

func TestSignup_CreatesProfileAndCaches(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AdminPIN: "0000"})

	sess, err := f.mgr.Signup(context.Background(), testDraft)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if sess == nil || sess.Branch != "CSE" || sess.Role != model.RoleStudent {
		t.Fatalf("session = %+v", sess)
	}

	doc, err := f.store.Get(context.Background(), backend.CollUsers, sess.UID)
	if err != nil {
		t.Fatalf("profile doc: %v", err)
	}
	var p model.Profile
	if err := backend.ScanDoc(doc, &p); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if p.Role != model.RoleStudent || p.Branch != "CSE" || p.RegNo != "R1" {
		t.Fatalf("profile = %+v", p)
	}
	if p.CreatedAt.IsZero() {
		t.Fatalf("createdAt not set")
	}

	cached, ok := f.cache.Profile()
	if !ok || cached.Branch != "CSE" {
		t.Fatalf("cached profile = %+v, %v", cached, ok)
	}
}

func TestSignup_ValidatesDraft(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	bad := testDraft
	bad.Email = "not-an-email"
	if _, err := f.mgr.Signup(context.Background(), bad); err == nil {
		t.Fatalf("want validation error")
	}
	bad = testDraft
	bad.Password = "short"
	if _, err := f.mgr.Signup(context.Background(), bad); err == nil {
		t.Fatalf("want validation error on weak password")
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	if _, err := f.mgr.Signup(context.Background(), testDraft); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if _, err := f.mgr.Signup(context.Background(), testDraft); !errors.Is(err, errs.ErrAccountExists) {
		t.Fatalf("want ErrAccountExists, got %v", err)
	}
}

func TestSignupPositional_LegacyForm(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	sess, err := f.mgr.SignupPositional(context.Background(), "b@x.com", "secret1", "B", "ECE", "2nd Year")
	if err != nil {
		t.Fatalf("SignupPositional: %v", err)
	}
	if sess.Branch != "ECE" || sess.Name != "B" {
		t.Fatalf("session = %+v", sess)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	if _, err := f.mgr.Login(context.Background(), "ghost@x.com", "nope"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginLogout_AuthorizationResets(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AdminPIN: "4321"})
	ctx := context.Background()

	if _, err := f.mgr.Signup(ctx, testDraft); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if err := f.mgr.VerifyAdmin("4321"); err != nil {
		t.Fatalf("VerifyAdmin: %v", err)
	}
	if !f.mgr.IsAdmin() {
		t.Fatalf("want admin after PIN verification")
	}

	if err := f.mgr.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if f.mgr.Current() != nil {
		t.Fatalf("session must be nil after logout")
	}
	if f.cache.AdminID() != "" {
		t.Fatalf("admin marker must be cleared by logout")
	}
	if _, ok := f.cache.Profile(); ok {
		t.Fatalf("cached profile must be cleared by logout")
	}

	// Regardless of prior admin status, a fresh login is a student again.
	sess, err := f.mgr.Login(ctx, testDraft.Email, testDraft.Password)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.Role != model.RoleStudent {
		t.Fatalf("role after re-login = %v, want student", sess.Role)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	if _, err := f.mgr.Signup(ctx, testDraft); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if err := f.mgr.Logout(ctx); err != nil {
		t.Fatalf("first Logout: %v", err)
	}
	if err := f.mgr.Logout(ctx); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if f.mgr.Current() != nil {
		t.Fatalf("session must stay nil")
	}
}

func TestVerifyAdmin(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AdminPIN: "9999"})
	ctx := context.Background()

	if _, err := f.mgr.Signup(ctx, testDraft); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	// Mismatch: error, and no state mutation of any kind.
	if err := f.mgr.VerifyAdmin("1234"); !errors.Is(err, errs.ErrBadPIN) {
		t.Fatalf("want ErrBadPIN, got %v", err)
	}
	if f.mgr.IsAdmin() {
		t.Fatalf("wrong PIN must not elevate")
	}
	if f.cache.AdminID() != "" {
		t.Fatalf("wrong PIN must not persist a marker")
	}
	// Empty PIN never matches, even with an empty configured secret.
	empty := newFixture(t, Config{AdminPIN: ""})
	if err := empty.mgr.VerifyAdmin(""); !errors.Is(err, errs.ErrBadPIN) {
		t.Fatalf("empty pin accepted")
	}

	// Match: elevate in memory and persist the marker.
	if err := f.mgr.VerifyAdmin("9999"); err != nil {
		t.Fatalf("VerifyAdmin: %v", err)
	}
	sess := f.mgr.Current()
	if !sess.IsAdmin() {
		t.Fatalf("session not elevated")
	}
	if f.cache.AdminID() != sess.UID {
		t.Fatalf("marker = %q, want %q", f.cache.AdminID(), sess.UID)
	}
}

func TestVerifyAdmin_MarkerSurvivesReload(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AdminPIN: "9999"})
	ctx := context.Background()

	if _, err := f.mgr.Signup(ctx, testDraft); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if err := f.mgr.VerifyAdmin("9999"); err != nil {
		t.Fatalf("VerifyAdmin: %v", err)
	}
	f.mgr.Close()

	// A fresh manager over the same cache and provider state re-derives
	// admin from the persisted marker without a new PIN entry.
	m2 := New(f.ids, f.store, f.cache, Config{AdminPIN: "9999"}, zap.NewNop())
	m2.Start(ctx)
	defer m2.Close()
	if !m2.IsAdmin() {
		t.Fatalf("admin not re-derived from persisted marker")
	}
}

func TestBlocked_MidSession(t *testing.T) {
	t.Parallel()
	var notice string
	f := newFixture(t, Config{}, WithBlockedNotice(func(msg string) { notice = msg }))
	ctx := context.Background()

	sess, err := f.mgr.Signup(ctx, testDraft)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	// Flip the blocked flag remotely; the live profile subscription must
	// terminate the session within one callback cycle.
	if err := f.store.Set(ctx, backend.CollUsers, sess.UID, map[string]any{"blocked": true}, true); err != nil {
		t.Fatalf("Set blocked: %v", err)
	}

	if f.mgr.Current() != nil {
		t.Fatalf("blocked profile still has a session")
	}
	if _, ok := f.cache.Profile(); ok {
		t.Fatalf("cached profile not cleared")
	}
	if f.cache.AdminID() != "" {
		t.Fatalf("admin marker not cleared")
	}
	if notice == "" {
		t.Fatalf("blocking notice not shown")
	}
}

func TestBlocked_NeverProducesSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	sess, err := f.mgr.Signup(ctx, testDraft)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if err := f.store.Set(ctx, backend.CollUsers, sess.UID, map[string]any{"blocked": true}, true); err != nil {
		t.Fatalf("Set blocked: %v", err)
	}

	if _, err := f.mgr.Login(ctx, testDraft.Email, testDraft.Password); !errors.Is(err, errs.ErrBlocked) {
		t.Fatalf("want ErrBlocked, got %v", err)
	}
	if f.mgr.Current() != nil {
		t.Fatalf("blocked login produced a session")
	}
}

func TestBlocked_WatchDisposedAfterForcedSignOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	sess, err := f.mgr.Signup(ctx, testDraft)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if err := f.store.Set(ctx, backend.CollUsers, sess.UID, map[string]any{"blocked": true}, true); err != nil {
		t.Fatalf("Set blocked: %v", err)
	}

	// The initial profile emission on this login sees the blocked flag and
	// forces a sign-out before the subscription handle is stored. The watch
	// attached during that emission must not outlive the sign-out.
	if _, err := f.mgr.Login(ctx, testDraft.Email, testDraft.Password); !errors.Is(err, errs.ErrBlocked) {
		t.Fatalf("want ErrBlocked, got %v", err)
	}

	// Unblocking remotely while nobody is signed in must not resurrect a
	// session out of a leaked watch.
	if err := f.store.Set(ctx, backend.CollUsers, sess.UID, map[string]any{"blocked": false}, true); err != nil {
		t.Fatalf("Set unblocked: %v", err)
	}
	if got := f.mgr.Current(); got != nil {
		t.Fatalf("unblocking while signed out produced a session: %+v", got)
	}
	if _, ok := f.cache.Profile(); ok {
		t.Fatalf("unblocking while signed out re-cached a profile")
	}
}

// watchFailStore delegates to a real store but refuses profile watches.
type watchFailStore struct {
	backend.DocumentStore
	err error
}

func (s *watchFailStore) WatchDoc(context.Context, string, string, func(backend.Document, bool)) (backend.Unsubscribe, error) {
	return nil, s.err
}

func TestLogin_WatchFailureIsNotBlocked(t *testing.T) {
	t.Parallel()
	errStream := errors.New("stream down")
	ids := membackend.NewIdentityProvider()
	store := &watchFailStore{DocumentStore: membackend.NewStore(), err: errStream}
	mgr := New(ids, store, localcache.New(t.TempDir()), Config{}, zap.NewNop())
	mgr.Start(context.Background())
	t.Cleanup(mgr.Close)
	ctx := context.Background()

	if _, err := ids.CreateAccount(ctx, testDraft.Email, testDraft.Password); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := ids.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	_, err := mgr.Login(ctx, testDraft.Email, testDraft.Password)
	if !errors.Is(err, errStream) {
		t.Fatalf("want wrapped subscription error, got %v", err)
	}
	if errors.Is(err, errs.ErrBlocked) {
		t.Fatalf("subscription failure misreported as blocked")
	}
	if mgr.Current() != nil {
		t.Fatalf("session established despite failed subscription")
	}
}

func TestFederated_FirstTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.ids.Federated = &backend.Identity{ID: "fed-1", Email: "b@x.com", Name: "B", PhotoURL: "p.jpg"}
	f.ids.FederatedNew = true

	sess, complete, err := f.mgr.FederatedLogin(context.Background())
	if err != nil {
		t.Fatalf("FederatedLogin: %v", err)
	}
	if complete {
		t.Fatalf("fresh federated identity cannot have a complete profile")
	}
	if sess.Name != "B" || sess.Branch != model.BranchUnset {
		t.Fatalf("session = %+v", sess)
	}

	doc, err := f.store.Get(context.Background(), backend.CollUsers, "fed-1")
	if err != nil {
		t.Fatalf("profile doc: %v", err)
	}
	var p model.Profile
	if err := backend.ScanDoc(doc, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Branch != model.BranchUnset || p.Name != "B" || p.Role != model.RoleStudent {
		t.Fatalf("profile = %+v", p)
	}
}

func TestFederated_ReturningComplete(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	fields, err := backend.FieldsOf(model.Profile{Name: "B", Email: "b@x.com", Branch: "ECE", Role: model.RoleStudent})
	if err != nil {
		t.Fatalf("FieldsOf: %v", err)
	}
	if err := f.store.Set(ctx, backend.CollUsers, "fed-1", fields, false); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	f.ids.Federated = &backend.Identity{ID: "fed-1", Email: "b@x.com", Name: "B"}

	sess, complete, err := f.mgr.FederatedLogin(ctx)
	if err != nil {
		t.Fatalf("FederatedLogin: %v", err)
	}
	if !complete {
		t.Fatalf("existing branch must report complete")
	}
	if sess.Branch != "ECE" {
		t.Fatalf("branch not merged: %+v", sess)
	}
}

func TestPrivilegedEmail_BootstrapWithoutProfile(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{PrivilegedEmail: "root@x.com"})

	// Account exists at the provider but no profile document yet; the bare
	// identity serves as the session and the privileged address gets admin.
	if _, err := f.ids.CreateAccount(context.Background(), "root@x.com", "secret1"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	sess := f.mgr.Current()
	if sess == nil || !sess.IsAdmin() {
		t.Fatalf("privileged bootstrap session = %+v", sess)
	}
}

func TestProfileFieldsWinOnMerge(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	sess, err := f.mgr.Signup(ctx, testDraft)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	// Remote rename lands through the live subscription and wins over the
	// identity's snapshot of the name.
	if err := f.store.Set(ctx, backend.CollUsers, sess.UID, map[string]any{"name": "Renamed"}, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := f.mgr.Current(); got.Name != "Renamed" {
		t.Fatalf("name = %q, want Renamed", got.Name)
	}
}

func TestChangePassword(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.mgr.ChangePassword(ctx, "newpass1"); !errors.Is(err, errs.ErrNoSession) {
		t.Fatalf("want ErrNoSession, got %v", err)
	}

	if _, err := f.mgr.Signup(ctx, testDraft); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if err := f.mgr.ChangePassword(ctx, "newpass1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// Past the reauth window the provider demands a fresh sign-in.
	f.ids.ReauthWindow = time.Nanosecond
	time.Sleep(time.Millisecond)
	if err := f.mgr.ChangePassword(ctx, "newpass2"); !errors.Is(err, errs.ErrReauthRequired) {
		t.Fatalf("want ErrReauthRequired, got %v", err)
	}
}

func TestOnSessionChange_Notifies(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	var last *model.Session
	calls := 0
	unsub := f.mgr.OnSessionChange(func(s *model.Session) {
		last = s
		calls++
	})
	defer unsub()
	if calls != 1 { // fires immediately with current (nil) state
		t.Fatalf("calls = %d, want 1", calls)
	}

	if _, err := f.mgr.Signup(ctx, testDraft); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if last == nil || last.Email != testDraft.Email {
		t.Fatalf("listener did not see the session: %+v", last)
	}
	if err := f.mgr.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if last != nil {
		t.Fatalf("listener did not see the sign-out")
	}
}
