package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/basaltrun/toolfed"
	"github.com/basaltrun/toolfed/backend"
)

func TestNewConnectorStartsConnecting(t *testing.T) {
	c := New("weather", "https://weather.example.com/sse", nil)
	if c.Name() != "weather" {
		t.Fatalf("Name() = %q, want weather", c.Name())
	}
	if c.State() != backend.StateConnecting {
		t.Fatalf("State() = %q, want connecting", c.State())
	}
}

func TestOpenWithoutAuthBrokerFailsOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("weather", srv.URL, nil)
	err := c.Open(context.Background())
	if err == nil {
		t.Fatal("expected error when no auth broker is configured and the backend requires auth")
	}
	if c.State() != backend.StateFailed {
		t.Fatalf("State() = %q, want failed", c.State())
	}
}

func TestOpenUnreachableServerFailsState(t *testing.T) {
	c := New("weather", "http://127.0.0.1:0/sse", nil)
	err := c.Open(context.Background())
	if err == nil {
		t.Fatal("expected error connecting to an unreachable server")
	}
	if c.State() != backend.StateFailed {
		t.Fatalf("State() = %q, want failed", c.State())
	}
}

func TestListToolsBeforeOpenIsBackendUnreachable(t *testing.T) {
	c := New("weather", "https://weather.example.com/sse", nil)
	_, err := c.ListTools(context.Background())
	if err == nil {
		t.Fatal("expected error listing tools on an unopened connector")
	}
	if !errors.Is(err, toolfed.ErrBackendUnreachable) {
		t.Fatalf("ListTools error = %v, want ErrBackendUnreachable", err)
	}
}

func TestCallBeforeOpenIsBackendUnreachable(t *testing.T) {
	c := New("weather", "https://weather.example.com/sse", nil)
	_, err := c.Call(context.Background(), "get_forecast", nil)
	if err == nil {
		t.Fatal("expected error calling an unopened connector")
	}
	if !errors.Is(err, toolfed.ErrBackendUnreachable) {
		t.Fatalf("Call error = %v, want ErrBackendUnreachable", err)
	}
}

func TestCloseWithoutSessionIsNoop(t *testing.T) {
	c := New("weather", "https://weather.example.com/sse", nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close on a never-opened connector: %v", err)
	}
}

func TestIsUnauthorizedRecognizesStatusCoder(t *testing.T) {
	if isUnauthorized(errors.New("plain error")) {
		t.Fatal("plain error should not be treated as unauthorized")
	}
	if !isUnauthorized(&fakeStatusError{code: http.StatusUnauthorized}) {
		t.Fatal("401 status error should be treated as unauthorized")
	}
	if isUnauthorized(&fakeStatusError{code: http.StatusInternalServerError}) {
		t.Fatal("500 status error should not be treated as unauthorized")
	}
}

func TestBearerRoundTripperAttachesAuthorizationHeader(t *testing.T) {
	var gotHeader string
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		gotHeader = req.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	rt := &bearerRoundTripper{token: "tok123", base: base}
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if gotHeader != "Bearer tok123" {
		t.Fatalf("Authorization header = %q, want %q", gotHeader, "Bearer tok123")
	}
}

type fakeStatusError struct{ code int }

func (e *fakeStatusError) Error() string  { return "status error" }
func (e *fakeStatusError) StatusCode() int { return e.code }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

var _ backend.Connector = (*Connector)(nil)
