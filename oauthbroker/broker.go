// Package oauthbroker implements the three-legged authorization-code grant
// with PKCE described in spec.md §4.B: per-backend dynamic client
// registration, a loopback redirect listener, and file-backed token
// storage with scoped invalidation. It satisfies backend.AuthBroker so
// backend/sse and backend/streamhttp can request a bearer token without
// knowing how it was obtained.
package oauthbroker

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultAwaitTimeout bounds how long EnsureAuthorized waits for the user
// to complete the browser redirect before giving up.
const DefaultAwaitTimeout = 10 * time.Second

// ServerMetadata is the subset of OAuth 2.0 Authorization Server Metadata
// (RFC 8414) a backend must supply up front; Broker does not discover it.
type ServerMetadata struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	RegistrationEndpoint  string
	Scopes                []string
}

// Registrar performs dynamic client registration (RFC 7591) against a
// backend's registration endpoint. Swappable for tests.
type Registrar interface {
	Register(ctx context.Context, endpoint, redirectURI string) (ClientInfo, error)
}

// Broker coordinates the authorization-code grant for every backend that
// requires it, keyed by backend name.
type Broker struct {
	root       string
	registrar  Registrar
	metadata   map[string]ServerMetadata
	awaitAfter time.Duration
	announce   func(string) error

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Broker rooted at <root>/.oauth/, with per-backend
// server metadata supplied by the caller (spec.md §4.B leaves discovery
// out of scope: callers configure the three endpoints directly).
func New(root string, metadata map[string]ServerMetadata, registrar Registrar) *Broker {
	return &Broker{
		root:       root,
		registrar:  registrar,
		metadata:   metadata,
		awaitAfter: DefaultAwaitTimeout,
		announce:   announceToStderr,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (b *Broker) lockFor(backendName string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[backendName]
	if !ok {
		l = &sync.Mutex{}
		b.locks[backendName] = l
	}
	return l
}

// EnsureAuthorized returns a valid access token for backendName, running
// the full code grant if no usable token is on disk. Concurrent calls for
// the same backend serialize on a per-backend mutex so only one browser
// redirect is ever in flight at a time, per spec.md §5.
func (b *Broker) EnsureAuthorized(ctx context.Context, backendName string) (string, error) {
	lock := b.lockFor(backendName)
	lock.Lock()
	defer lock.Unlock()

	storage, err := NewStorage(b.root, backendName)
	if err != nil {
		return "", fmt.Errorf("oauthbroker: %s: %w", backendName, err)
	}

	if tokens, err := storage.LoadTokens(); err == nil && tokens != nil && !tokens.Expired() {
		return tokens.AccessToken, nil
	}

	meta, ok := b.metadata[backendName]
	if !ok {
		return "", fmt.Errorf("oauthbroker: %s: no server metadata configured", backendName)
	}

	info, err := storage.LoadClientInfo()
	if err != nil {
		return "", fmt.Errorf("oauthbroker: %s: load client info: %w", backendName, err)
	}

	lst := newListener()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lst.Shutdown(shutdownCtx)
	}()

	redirectURI, err := lst.Start("/callback")
	if err != nil {
		return "", fmt.Errorf("oauthbroker: %s: %w", backendName, err)
	}

	if info == nil {
		registered, err := b.registrar.Register(ctx, meta.RegistrationEndpoint, redirectURI)
		if err != nil {
			return "", fmt.Errorf("oauthbroker: %s: dynamic client registration: %w", backendName, err)
		}
		if err := storage.SaveClientInfo(registered); err != nil {
			return "", fmt.Errorf("oauthbroker: %s: %w", backendName, err)
		}
		info = &registered
	}

	verifier, challenge, err := newPKCEPair()
	if err != nil {
		return "", fmt.Errorf("oauthbroker: %s: pkce: %w", backendName, err)
	}
	if err := storage.SaveVerifier(verifier); err != nil {
		return "", fmt.Errorf("oauthbroker: %s: %w", backendName, err)
	}

	conf := &oauth2.Config{
		ClientID:     info.ClientID,
		ClientSecret: info.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       meta.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  meta.AuthorizationEndpoint,
			TokenURL: meta.TokenEndpoint,
		},
	}

	state, err := randomToken(16)
	if err != nil {
		return "", fmt.Errorf("oauthbroker: %s: state: %w", backendName, err)
	}

	authURL := conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	if err := b.announce(authURL); err != nil {
		return "", fmt.Errorf("oauthbroker: %s: announce authorization url: %w", backendName, err)
	}

	awaitCtx, cancel := context.WithTimeout(ctx, b.awaitAfter)
	defer cancel()

	result, err := lst.Await(awaitCtx)
	if err != nil {
		return "", fmt.Errorf("oauthbroker: %s: waiting for authorization redirect: %w", backendName, err)
	}
	if result.err != "" {
		return "", fmt.Errorf("oauthbroker: %s: authorization server returned error: %s", backendName, result.err)
	}
	if result.state != state {
		return "", fmt.Errorf("oauthbroker: %s: state mismatch in redirect", backendName)
	}

	savedVerifier, err := storage.LoadAndClearVerifier()
	if err != nil {
		return "", fmt.Errorf("oauthbroker: %s: %w", backendName, err)
	}

	token, err := conf.Exchange(ctx, result.code,
		oauth2.SetAuthURLParam("code_verifier", savedVerifier),
	)
	if err != nil {
		return "", fmt.Errorf("oauthbroker: %s: token exchange: %w", backendName, err)
	}

	if err := storage.SaveTokens(Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
	}); err != nil {
		return "", fmt.Errorf("oauthbroker: %s: %w", backendName, err)
	}

	return token.AccessToken, nil
}

// Invalidate clears backendName's persisted OAuth state to the given
// scope, per spec.md §4.B.
func (b *Broker) Invalidate(backendName string, scope InvalidateScope) error {
	storage, err := NewStorage(b.root, backendName)
	if err != nil {
		return fmt.Errorf("oauthbroker: %s: %w", backendName, err)
	}
	return storage.Invalidate(scope)
}

// announceToStderr prints the authorization URL to the operator's
// standard error, per spec.md §4.B; toolfed does not launch a browser on
// the user's behalf.
func announceToStderr(authURL string) error {
	_, err := fmt.Fprintf(os.Stderr, "oauthbroker: open this URL to authorize: %s\n", authURL)
	return err
}

func newPKCEPair() (verifier, challenge string, err error) {
	verifier, err = randomToken(32)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
