package oauthbroker

import (
	"testing"
	"time"
)

func TestStorageSaveLoadClientInfo(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStorage(dir, "example")
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	if info, err := s.LoadClientInfo(); err != nil || info != nil {
		t.Fatalf("expected no client info initially, got %+v, err %v", info, err)
	}

	want := ClientInfo{ClientID: "abc123", RedirectURIs: []string{"http://127.0.0.1:1/callback"}}
	if err := s.SaveClientInfo(want); err != nil {
		t.Fatalf("SaveClientInfo: %v", err)
	}

	got, err := s.LoadClientInfo()
	if err != nil {
		t.Fatalf("LoadClientInfo: %v", err)
	}
	if got == nil || got.ClientID != want.ClientID {
		t.Fatalf("LoadClientInfo = %+v, want %+v", got, want)
	}
}

func TestStorageTokensExpiry(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStorage(dir, "example")
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	fresh := Tokens{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.SaveTokens(fresh); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	got, err := s.LoadTokens()
	if err != nil || got == nil {
		t.Fatalf("LoadTokens = %+v, err %v", got, err)
	}
	if got.Expired() {
		t.Fatal("expected fresh token not expired")
	}

	stale := Tokens{AccessToken: "tok", ExpiresAt: time.Now().Add(-time.Hour)}
	if err := s.SaveTokens(stale); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	got, err = s.LoadTokens()
	if err != nil || got == nil {
		t.Fatalf("LoadTokens = %+v, err %v", got, err)
	}
	if !got.Expired() {
		t.Fatal("expected stale token to be expired")
	}
}

func TestStorageVerifierReadOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStorage(dir, "example")
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	if err := s.SaveVerifier("verifier-value"); err != nil {
		t.Fatalf("SaveVerifier: %v", err)
	}

	v, err := s.LoadAndClearVerifier()
	if err != nil {
		t.Fatalf("LoadAndClearVerifier: %v", err)
	}
	if v != "verifier-value" {
		t.Fatalf("LoadAndClearVerifier = %q, want verifier-value", v)
	}

	v, err = s.LoadAndClearVerifier()
	if err != nil {
		t.Fatalf("second LoadAndClearVerifier: %v", err)
	}
	if v != "" {
		t.Fatalf("expected empty verifier on second read, got %q", v)
	}
}

func TestStorageInvalidateScopes(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStorage(dir, "example")
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	if err := s.SaveClientInfo(ClientInfo{ClientID: "abc"}); err != nil {
		t.Fatalf("SaveClientInfo: %v", err)
	}
	if err := s.SaveTokens(Tokens{AccessToken: "tok"}); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	if err := s.SaveVerifier("v"); err != nil {
		t.Fatalf("SaveVerifier: %v", err)
	}

	if err := s.Invalidate(ScopeTokens); err != nil {
		t.Fatalf("Invalidate(tokens): %v", err)
	}
	if tokens, err := s.LoadTokens(); err != nil || tokens != nil {
		t.Fatalf("expected tokens cleared, got %+v, err %v", tokens, err)
	}
	if info, err := s.LoadClientInfo(); err != nil || info == nil {
		t.Fatalf("expected client info to survive tokens invalidation, got %+v, err %v", info, err)
	}

	if err := s.Invalidate(ScopeAll); err != nil {
		t.Fatalf("Invalidate(all): %v", err)
	}
	if info, err := s.LoadClientInfo(); err != nil || info != nil {
		t.Fatalf("expected client info cleared after all, got %+v, err %v", info, err)
	}
}
