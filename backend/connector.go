// Package backend defines the shared Connector contract implemented by
// every transport-specific backend connector (backend/stdio, backend/sse,
// backend/streamhttp). A connector encapsulates exactly one backend
// session, per spec.md §3 "Backend session" and §4.A.
package backend

import (
	"context"
	"sync"

	"github.com/basaltrun/toolfed"
)

// State is a backend session's lifecycle state.
type State string

const (
	StateConnecting     State = "connecting"
	StateReady          State = "ready"
	StateAuthenticating State = "authenticating"
	StateFailed         State = "failed"
)

// Connector encapsulates one backend session: open it, enumerate its
// tools, call them, and close it. Implementations speak one transport
// (local subprocess, SSE, or streamable HTTP) but present the same shape
// to the federation proxy.
type Connector interface {
	// Name returns the backend's configured name.
	Name() string

	// Open establishes the session. Returns an error wrapping
	// ErrBackendUnreachable, ErrUnauthorized or ErrConfiguration on
	// failure; the caller (federation proxy) logs and continues without
	// this backend's tools.
	Open(ctx context.Context) error

	// State returns the current session state.
	State() State

	// ListTools enumerates the backend's raw tool records (unqualified,
	// undecorated — the federation proxy namespaces and decorates them).
	ListTools(ctx context.Context) ([]toolfed.ToolRecord, error)

	// Call invokes a raw (unqualified) tool name with the given arguments.
	// The connector does not interpret Content; it is a transparent
	// envelope per spec.md §4.A.
	Call(ctx context.Context, rawName string, args map[string]any) (toolfed.CallResult, error)

	// Close releases the transport and any child process, best-effort.
	Close() error
}

// AuthBroker is the subset of the OAuth broker (package oauthbroker) a
// remote connector needs: begin a flow and await its completion. Kept as
// a narrow interface here so backend/sse and backend/streamhttp don't
// import oauthbroker directly, avoiding an import cycle with the
// federation/entry-point wiring that constructs both.
type AuthBroker interface {
	// EnsureAuthorized blocks until the backend has a usable access token,
	// starting a new authorization flow if none is on file. Returns the
	// bearer token to attach to the retried connection.
	EnsureAuthorized(ctx context.Context, backendName string) (token string, err error)
}

// SessionState is a small concurrency-safe holder for a connector's
// current State, shared by the transport-specific implementations so they
// don't each re-derive the same mutex discipline.
type SessionState struct {
	mu    sync.RWMutex
	state State
}

// NewSessionState creates a SessionState starting in StateConnecting.
func NewSessionState() *SessionState {
	return &SessionState{state: StateConnecting}
}

// Get returns the current state.
func (s *SessionState) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Set transitions to a new state.
func (s *SessionState) Set(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
}
