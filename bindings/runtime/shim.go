// Package runtime is the single transport helper every generated binding
// stub calls (spec.md §4.E): it speaks the line-delimited JSON envelope
// (federation.RequestEnvelope/ResponseEnvelope) over loopback HTTP to the
// in-sandbox proxy endpoint, exactly as federation.Server exposes it.
// Grounded on the teacher's toolcodeengine/adapter.go, which plays the
// same role for its own sandbox: a thin boundary that adapts a domain
// calling convention (typed Args/Result structs here, toolcode.ExecuteParams
// there) onto a fixed transport/runtime interface, and maps the far side's
// failure modes onto the caller's error type.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/basaltrun/toolfed"
	"github.com/basaltrun/toolfed/federation"
)

// DefaultEndpointEnv names the environment variable the sandbox manager
// sets to the in-container proxy's loopback address before any generated
// binding can run.
const DefaultEndpointEnv = "TOOLFED_PROXY_ENDPOINT"

// defaultEndpoint is used when the environment variable is unset, which
// only happens outside a real sandbox (e.g. unit tests that call
// SetEndpoint directly).
const defaultEndpoint = "http://127.0.0.1:8765"

var (
	endpoint   = endpointFromEnv()
	httpClient = &http.Client{Timeout: 60 * time.Second}
)

func endpointFromEnv() string {
	if v := os.Getenv(DefaultEndpointEnv); v != "" {
		return v
	}
	return defaultEndpoint
}

// SetEndpoint overrides the proxy endpoint used by Invoke. Tests and the
// sandbox bootstrap call this directly rather than relying on the
// environment variable.
func SetEndpoint(addr string) {
	endpoint = addr
}

// SetHTTPClient overrides the HTTP client used by Invoke, primarily so
// tests can point Invoke at an httptest.Server with a short timeout.
func SetHTTPClient(c *http.Client) {
	httpClient = c
}

// Invoke calls qualifiedName through the in-sandbox proxy endpoint,
// marshaling args to the envelope's argument map. Per spec.md §4.E:
// structured-content responses are returned directly; text-only
// responses are parsed as JSON when possible, and returned as a string
// otherwise; error responses (transport faults or in-band tool errors)
// come back as a Go error carrying the backend-supplied reason.
func Invoke(ctx context.Context, qualifiedName string, args any) (any, error) {
	arguments, err := toArgumentMap(args)
	if err != nil {
		return nil, fmt.Errorf("runtime: encode arguments for %s: %w", qualifiedName, err)
	}

	req := federation.RequestEnvelope{
		Op:            federation.OpCallTool,
		QualifiedName: qualifiedName,
		Arguments:     arguments,
	}
	resp, err := post(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("runtime: invoke %s: %w", qualifiedName, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("runtime: %s: %s", qualifiedName, resp.Error)
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("runtime: %s: empty result", qualifiedName)
	}
	if resp.Result.IsError {
		return nil, fmt.Errorf("runtime: %s: %s", qualifiedName, firstText(resp.Result.Content))
	}
	return interpretContent(resp.Result.Content), nil
}

// toArgumentMap round-trips a typed Args struct through JSON into the
// map[string]any the wire envelope carries.
func toArgumentMap(args any) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func post(ctx context.Context, envelope federation.RequestEnvelope) (federation.ResponseEnvelope, error) {
	var resp federation.ResponseEnvelope

	body, err := json.Marshal(envelope)
	if err != nil {
		return resp, fmt.Errorf("encode request envelope: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/invoke", bytes.NewReader(body))
	if err != nil {
		return resp, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return resp, fmt.Errorf("post to proxy: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("proxy returned status %d", httpResp.StatusCode)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode response envelope: %w", err)
	}
	return resp, nil
}

// interpretContent prefers a structured part; falls back to the first
// text part, parsed as JSON when possible.
func interpretContent(parts []toolfed.ContentPart) any {
	for _, part := range parts {
		if part.Type == toolfed.ContentStructured {
			return part.Structured
		}
	}
	text := firstText(parts)
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed
	}
	return text
}

func firstText(parts []toolfed.ContentPart) string {
	for _, part := range parts {
		if part.Type == toolfed.ContentText {
			return part.Text
		}
	}
	return ""
}

// DecodeInto round-trips a decoded result value through JSON into dest,
// so the generated stub's typed Result struct can absorb whatever the
// backend returned (a map, a string, a number, ...).
func DecodeInto(raw any, dest any) error {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("runtime: re-encode result: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("runtime: decode result: %w", err)
	}
	return nil
}
