// Package oauthbroker implements the file-backed credential provider for
// the three-legged code-grant flow, per spec.md §4.B. Storage is rooted at
// <root>/.oauth/<backend>/ with three files: client_info.json,
// tokens.json, code_verifier.txt.
package oauthbroker

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ClientInfo is the result of dynamic client registration.
type ClientInfo struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// Tokens holds the access/refresh token pair and its expiry.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry.
func (t Tokens) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// InvalidateScope selects what Storage.Invalidate clears.
type InvalidateScope string

const (
	ScopeAll      InvalidateScope = "all"
	ScopeClient   InvalidateScope = "client"
	ScopeTokens   InvalidateScope = "tokens"
	ScopeVerifier InvalidateScope = "verifier"
)

// Storage persists the three OAuth blobs for one backend, per spec.md
// §3's "OAuth record" invariants. client_info.json and tokens.json are
// written as atomic file replaces; code_verifier.txt is written in place.
type Storage struct {
	dir string
}

// NewStorage roots a Storage at <root>/.oauth/<backend>/, creating the
// directory if needed.
func NewStorage(root, backendName string) (*Storage, error) {
	dir := filepath.Join(root, ".oauth", backendName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Storage{dir: dir}, nil
}

func (s *Storage) path(name string) string { return filepath.Join(s.dir, name) }

// LoadClientInfo reads client_info.json, returning (nil, nil) if absent.
func (s *Storage) LoadClientInfo() (*ClientInfo, error) {
	var info ClientInfo
	ok, err := readJSON(s.path("client_info.json"), &info)
	if err != nil || !ok {
		return nil, err
	}
	return &info, nil
}

// SaveClientInfo atomically persists client_info.json.
func (s *Storage) SaveClientInfo(info ClientInfo) error {
	return writeJSONAtomic(s.path("client_info.json"), info)
}

// LoadTokens reads tokens.json, returning (nil, nil) if absent.
func (s *Storage) LoadTokens() (*Tokens, error) {
	var tokens Tokens
	ok, err := readJSON(s.path("tokens.json"), &tokens)
	if err != nil || !ok {
		return nil, err
	}
	return &tokens, nil
}

// SaveTokens atomically persists tokens.json.
func (s *Storage) SaveTokens(tokens Tokens) error {
	return writeJSONAtomic(s.path("tokens.json"), tokens)
}

// SaveVerifier writes the PKCE verifier. It must be written before the
// redirect and read exactly once during the callback, per spec.md §3.
func (s *Storage) SaveVerifier(verifier string) error {
	return os.WriteFile(s.path("code_verifier.txt"), []byte(verifier), 0o600)
}

// LoadAndClearVerifier reads the PKCE verifier and removes the file so it
// cannot be read twice.
func (s *Storage) LoadAndClearVerifier() (string, error) {
	path := s.path("code_verifier.txt")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	_ = os.Remove(path)
	return string(data), nil
}

// Invalidate clears the requested scope of persisted state.
func (s *Storage) Invalidate(scope InvalidateScope) error {
	var names []string
	switch scope {
	case ScopeAll:
		names = []string{"client_info.json", "tokens.json", "code_verifier.txt"}
	case ScopeClient:
		names = []string{"client_info.json"}
	case ScopeTokens:
		names = []string{"tokens.json"}
	case ScopeVerifier:
		names = []string{"code_verifier.txt"}
	default:
		return errUnknownScope(scope)
	}
	for _, name := range names {
		if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func errUnknownScope(scope InvalidateScope) error {
	return &unknownScopeError{scope: scope}
}

type unknownScopeError struct{ scope InvalidateScope }

func (e *unknownScopeError) Error() string { return "oauthbroker: unknown invalidate scope: " + string(e.scope) }

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// writeJSONAtomic marshals v and replaces path atomically via a temp file
// + rename, so a crash mid-write never leaves a corrupt blob on disk.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
