// Command academe is the terminal client for the AcadeMe student portal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/academe-app/academe/internal/backend/mongostore"
	"github.com/academe-app/academe/internal/datasync"
	"github.com/academe-app/academe/internal/identity"
	"github.com/academe-app/academe/internal/identity/oidc"
	"github.com/academe-app/academe/internal/limiter"
	"github.com/academe-app/academe/internal/localcache"
	"github.com/academe-app/academe/internal/model"
	"github.com/academe-app/academe/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `academe — student portal CLI
Usage:
  academe [-env file] [-cache dir] <cmd> [args]

Account:
  signup        -email -password -name -branch -year [-regno]
  login         -email -password
  login-sso                       (federated sign-in via OIDC)
  logout
  whoami
  passwd        -new <password>
  verify-admin  -pin <pin>

Academics:
  cgpa
  grades        list | add -course -credits -grade [-semester] | update -id ... | rm -id
  attendance    list | add -course -attended -total | mark -id -attended -total
  courses       list

Campus:
  faculty       list | add ... | rm -id        (add/rm admin)
  reviews       list -faculty | add -faculty -rating -text | reply -id -text
  resources     list | add ... | rm -id        (add/rm admin)
  updates       list | add ... | rm -id        (add/rm admin)
  notices       list [-seen] | push -uid -title -body   (push admin)
`)
	os.Exit(2)
}

// app bundles everything a subcommand needs.
type app struct {
	ctx  context.Context
	log  *zap.Logger
	mgr  *session.Manager
	sync *datasync.Synchronizer
	stop func()
}

func (a *app) close() {
	a.sync.Close()
	a.mgr.Close()
	a.stop()
	_ = a.log.Sync()
}

// setup wires cache, store, identity provider, session manager and
// synchronizer from the environment.
func setup(ctx context.Context, envFile, cacheDir string) (*app, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load env: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	uri := os.Getenv("ACADEME_MONGO_URI")
	dbName := os.Getenv("ACADEME_DB_NAME")
	signKey := os.Getenv("ACADEME_JWT_KEY")
	if uri == "" || dbName == "" || signKey == "" {
		return nil, fmt.Errorf("ACADEME_MONGO_URI, ACADEME_DB_NAME and ACADEME_JWT_KEY are required")
	}

	cache := localcache.New(cacheDir)
	store, stop, err := mongostore.Connect(ctx, uri, dbName, logger)
	if err != nil {
		return nil, err
	}

	var idOpts []identity.Option
	idOpts = append(idOpts, identity.WithReauthWindow(30*time.Minute))
	if issuer := os.Getenv("ACADEME_OIDC_ISSUER"); issuer != "" {
		idOpts = append(idOpts, identity.WithFederatedFlow(oidc.New(oidc.Config{
			IssuerURL:    issuer,
			ClientID:     os.Getenv("ACADEME_OIDC_CLIENT_ID"),
			ClientSecret: os.Getenv("ACADEME_OIDC_CLIENT_SECRET"),
			ListenAddr:   envOr("ACADEME_OIDC_LISTEN", "127.0.0.1:8910"),
		}, logger)))
	}
	ids := identity.New(store, cache,
		limiter.NewMemory(time.Minute, 5, 5*time.Minute),
		[]byte(signKey), 24*time.Hour, logger, idOpts...)
	ids.Restore(ctx)

	mgr := session.New(ids, store, cache, session.Config{
		AdminPIN:        os.Getenv("ACADEME_ADMIN_PIN"),
		PrivilegedEmail: os.Getenv("ACADEME_ADMIN_EMAIL"),
	}, logger, session.WithBlockedNotice(func(reason string) {
		fmt.Fprintln(os.Stderr, reason)
	}))
	mgr.Start(ctx)

	sy := datasync.New(store, cache, logger)
	if err := sy.Start(ctx); err != nil {
		mgr.Close()
		stop()
		return nil, err
	}
	mgr.OnSessionChange(func(s *model.Session) { sy.Bind(ctx, s) })

	return &app{ctx: ctx, log: logger, mgr: mgr, sync: sy, stop: stop}, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// main dispatches subcommands.
func main() {
	envFile := flag.String("env", ".env", "environment file")
	cacheDir := flag.String("cache", "", "local cache dir (default: user config dir)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	if cmd == "version" {
		fmt.Printf("academe %s (%s)\n", version, buildDate)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := setup(ctx, *envFile, *cacheDir)
	if err != nil {
		fail(err)
	}
	defer a.close()

	switch cmd {
	case "signup":
		cmdSignup(a, args)
	case "login":
		cmdLogin(a, args)
	case "login-sso":
		cmdLoginSSO(a)
	case "logout":
		if err := a.mgr.Logout(a.ctx); err != nil {
			fail(err)
		}
		fmt.Println("signed out")
	case "whoami":
		cmdWhoami(a)
	case "passwd":
		cmdPasswd(a, args)
	case "verify-admin":
		cmdVerifyAdmin(a, args)
	case "cgpa":
		cmdCGPA(a)
	case "grades":
		cmdGrades(a, args)
	case "attendance":
		cmdAttendance(a, args)
	case "courses":
		cmdCourses(a)
	case "faculty":
		cmdFaculty(a, args)
	case "reviews":
		cmdReviews(a, args)
	case "resources":
		cmdResources(a, args)
	case "updates":
		cmdUpdates(a, args)
	case "notices":
		cmdNotices(a, args)
	default:
		usage()
	}
}
