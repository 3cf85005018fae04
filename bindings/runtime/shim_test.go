package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/basaltrun/toolfed"
	"github.com/basaltrun/toolfed/federation"
)

type testArgs struct {
	Path string `json:"path"`
}

type testResult struct {
	Contents string `json:"contents"`
}

func withFakeProxy(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	prevEndpoint := endpoint
	prevClient := httpClient
	SetEndpoint(srv.URL)
	SetHTTPClient(srv.Client())
	t.Cleanup(func() {
		srv.Close()
		endpoint = prevEndpoint
		httpClient = prevClient
	})
	return srv
}

func TestInvokeStructuredResult(t *testing.T) {
	withFakeProxy(t, func(w http.ResponseWriter, r *http.Request) {
		var req federation.RequestEnvelope
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Arguments["path"] != "/tmp/x" {
			t.Fatalf("arguments = %v", req.Arguments)
		}
		result := toolfed.StructuredResult("ok", map[string]any{"contents": "hello"})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(federation.ResponseEnvelope{ID: req.ID, Result: &result})
	})

	raw, err := Invoke(context.Background(), "fs__read_file", testArgs{Path: "/tmp/x"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var out testResult
	if err := DecodeInto(raw, &out); err != nil {
		t.Fatalf("DecodeInto: %v", err)
	}
	if out.Contents != "hello" {
		t.Fatalf("Contents = %q, want hello", out.Contents)
	}
}

func TestInvokeTextOnlyResultParsedAsJSON(t *testing.T) {
	withFakeProxy(t, func(w http.ResponseWriter, r *http.Request) {
		var req federation.RequestEnvelope
		_ = json.NewDecoder(r.Body).Decode(&req)
		result := toolfed.TextResult(`{"contents":"from-text"}`)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(federation.ResponseEnvelope{ID: req.ID, Result: &result})
	})

	raw, err := Invoke(context.Background(), "fs__read_file", testArgs{Path: "/tmp/x"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var out testResult
	if err := DecodeInto(raw, &out); err != nil {
		t.Fatalf("DecodeInto: %v", err)
	}
	if out.Contents != "from-text" {
		t.Fatalf("Contents = %q, want from-text", out.Contents)
	}
}

func TestInvokeTextOnlyResultNotJSONReturnsString(t *testing.T) {
	withFakeProxy(t, func(w http.ResponseWriter, r *http.Request) {
		var req federation.RequestEnvelope
		_ = json.NewDecoder(r.Body).Decode(&req)
		result := toolfed.TextResult("plain human text")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(federation.ResponseEnvelope{ID: req.ID, Result: &result})
	})

	raw, err := Invoke(context.Background(), "fs__read_file", testArgs{Path: "/tmp/x"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	s, ok := raw.(string)
	if !ok || s != "plain human text" {
		t.Fatalf("raw = %#v, want plain text string", raw)
	}
}

func TestInvokeInBandErrorReturnsGoError(t *testing.T) {
	withFakeProxy(t, func(w http.ResponseWriter, r *http.Request) {
		var req federation.RequestEnvelope
		_ = json.NewDecoder(r.Body).Decode(&req)
		result := toolfed.ErrorResult("file not found")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(federation.ResponseEnvelope{ID: req.ID, Result: &result})
	})

	_, err := Invoke(context.Background(), "fs__read_file", testArgs{Path: "/tmp/x"})
	if err == nil {
		t.Fatal("expected error for in-band failure")
	}
}

func TestInvokeTransportErrorReturnsGoError(t *testing.T) {
	withFakeProxy(t, func(w http.ResponseWriter, r *http.Request) {
		var req federation.RequestEnvelope
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(federation.ResponseEnvelope{ID: req.ID, Error: "backend unreachable"})
	})

	_, err := Invoke(context.Background(), "fs__read_file", testArgs{Path: "/tmp/x"})
	if err == nil {
		t.Fatal("expected error for transport fault")
	}
}
