// Package sse implements a backend.Connector for remote backends reached
// over a server-sent-event HTTP stream, per spec.md §4.A. On an
// unauthorized first connection it hands control to an AuthBroker and
// retries exactly once with a fresh transport carrying the new credential.
package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/basaltrun/toolfed"
	"github.com/basaltrun/toolfed/backend"
)

// ConnectTimeout bounds the initial handshake.
const ConnectTimeout = 15 * time.Second

// Connector is a backend.Connector for a remote SSE-transport backend.
type Connector struct {
	name string
	url  string
	auth backend.AuthBroker

	mu      sync.Mutex
	session *mcpsdk.ClientSession
	state   *backend.SessionState
}

// New creates a Connector for a remote SSE backend. auth may be nil if the
// backend never requires authorization.
func New(name, url string, auth backend.AuthBroker) *Connector {
	return &Connector{
		name:  name,
		url:   url,
		auth:  auth,
		state: backend.NewSessionState(),
	}
}

func (c *Connector) Name() string          { return c.name }
func (c *Connector) State() backend.State  { return c.state.Get() }

// Open attempts the configured transport; on an unauthorized response it
// consults the AuthBroker and retries exactly once (spec.md §9 "Retry
// policy for the initial remote connect" — never loop).
func (c *Connector) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.connect(ctx, "")
	if err == nil {
		c.session = session
		c.state.Set(backend.StateReady)
		return nil
	}

	if !isUnauthorized(err) {
		c.state.Set(backend.StateFailed)
		return fmt.Errorf("%w: %s: %v", toolfed.ErrBackendUnreachable, c.name, err)
	}

	if c.auth == nil {
		c.state.Set(backend.StateFailed)
		return fmt.Errorf("%w: %s: no authorization broker configured", toolfed.ErrUnauthorized, c.name)
	}

	c.state.Set(backend.StateAuthenticating)
	token, authErr := c.auth.EnsureAuthorized(ctx, c.name)
	if authErr != nil {
		c.state.Set(backend.StateFailed)
		return fmt.Errorf("%w: %s: %v", toolfed.ErrUnauthorized, c.name, authErr)
	}

	session, err = c.connect(ctx, token)
	if err != nil {
		// Persistent failure after a completed OAuth flow is treated as
		// backend-unreachable, per spec.md §7; no further retries.
		c.state.Set(backend.StateFailed)
		return fmt.Errorf("%w: %s: retry after authorization failed: %v", toolfed.ErrBackendUnreachable, c.name, err)
	}

	c.session = session
	c.state.Set(backend.StateReady)
	return nil
}

func (c *Connector) connect(ctx context.Context, bearerToken string) (*mcpsdk.ClientSession, error) {
	connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	httpClient := http.DefaultClient
	if bearerToken != "" {
		httpClient = &http.Client{Transport: &bearerRoundTripper{token: bearerToken, base: http.DefaultTransport}}
	}

	transport := mcpsdk.NewSSEClientTransport(c.url, &mcpsdk.SSEClientTransportOptions{
		HTTPClient: httpClient,
	})

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "toolfed", Version: "0.1.0"}, nil)
	return client.Connect(connectCtx, transport, nil)
}

func (c *Connector) ListTools(ctx context.Context) ([]toolfed.ToolRecord, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("%w: %s: not open", toolfed.ErrBackendUnreachable, c.name)
	}
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		c.fail()
		return nil, fmt.Errorf("%w: %s: list_tools: %v", toolfed.ErrBackendFailed, c.name, err)
	}
	records := make([]toolfed.ToolRecord, 0, len(result.Tools))
	for _, tool := range result.Tools {
		records = append(records, toolfed.ToolRecord{
			QualifiedName: tool.Name,
			Description:   tool.Description,
			InputSchema:   schemaToMap(tool.InputSchema),
			OutputSchema:  schemaToMap(tool.OutputSchema),
		})
	}
	return records, nil
}

func (c *Connector) Call(ctx context.Context, rawName string, args map[string]any) (toolfed.CallResult, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return toolfed.CallResult{}, fmt.Errorf("%w: %s: not open", toolfed.ErrBackendUnreachable, c.name)
	}
	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: rawName, Arguments: args})
	if err != nil {
		c.fail()
		return toolfed.CallResult{}, fmt.Errorf("%w: %s.%s: %v", toolfed.ErrBackendFailed, c.name, rawName, err)
	}
	out := toolfed.CallResult{IsError: result.IsError}
	for _, part := range result.Content {
		if text, ok := part.(*mcpsdk.TextContent); ok {
			out.Content = append(out.Content, toolfed.ContentPart{Type: toolfed.ContentText, Text: text.Text})
		}
	}
	if result.StructuredContent != nil {
		out.Content = append(out.Content, toolfed.ContentPart{Type: toolfed.ContentStructured, Structured: result.StructuredContent})
	}
	return out, nil
}

func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

func (c *Connector) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Set(backend.StateFailed)
}

// bearerRoundTripper attaches an Authorization header to every request.
type bearerRoundTripper struct {
	token string
	base  http.RoundTripper
}

func (rt *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+rt.token)
	return rt.base.RoundTrip(clone)
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	return nil
}

func isUnauthorized(err error) bool {
	var statusErr interface{ StatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode() == http.StatusUnauthorized
	}
	return false
}

var _ backend.Connector = (*Connector)(nil)
