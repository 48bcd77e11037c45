// Package oidc implements the interactive federated sign-in flow over OpenID
// Connect with a localhost redirect: the user opens the printed provider URL
// in a browser and the flow captures the callback.
package oidc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/academe-app/academe/internal/backend"
	"github.com/academe-app/academe/internal/identity"
)

// Config selects the OIDC provider and client registration.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	// ListenAddr is the localhost address for the redirect capture,
	// e.g. "127.0.0.1:8910". Must match the registered redirect URI.
	ListenAddr string
}

// Flow runs the authorization-code flow with PKCE.
type Flow struct {
	cfg Config
	log *zap.Logger
	// openURL presents the provider URL to the user; defaults to printing.
	openURL func(url string)
}

var _ identity.FederatedFlow = (*Flow)(nil)

// New constructs a Flow.
func New(cfg Config, log *zap.Logger) *Flow {
	return &Flow{
		cfg: cfg,
		log: log,
		openURL: func(url string) {
			fmt.Printf("Open the following URL in a browser to sign in:\n\n  %s\n\n", url)
		},
	}
}

func randomString(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func codeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// SignIn runs the interactive flow and returns the federated identity.
func (f *Flow) SignIn(ctx context.Context) (*backend.Identity, error) {
	provider, err := oidc.NewProvider(ctx, f.cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover issuer: %w", err)
	}

	ln, err := net.Listen("tcp", f.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("callback listener: %w", err)
	}
	defer ln.Close()

	oauthCfg := oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  "http://" + ln.Addr().String() + "/callback",
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	state := randomString(24)
	verifier := randomString(32)

	type result struct {
		code string
		err  error
	}
	resCh := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			resCh <- result{err: errors.New("state mismatch")}
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			resCh <- result{err: errors.New("missing authorization code")}
			return
		}
		fmt.Fprintln(w, "Signed in. You may close this tab.")
		resCh <- result{code: code}
	})
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()
	defer func() { _ = srv.Shutdown(context.Background()) }()

	f.openURL(oauthCfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	))

	var code string
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		code = res.code
	}

	tok, err := oauthCfg.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("provider returned no id_token")
	}
	idToken, err := provider.Verifier(&oidc.Config{ClientID: f.cfg.ClientID}).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}

	f.log.Info("federated sign-in complete", zap.String("subject", idToken.Subject))
	return &backend.Identity{
		ID:       idToken.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		PhotoURL: claims.Picture,
	}, nil
}
