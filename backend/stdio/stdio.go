// Package stdio implements a backend.Connector for local subprocess
// backends, speaking the Model Context Protocol over the child's
// stdin/stdout with its stderr inherited for diagnostics, per spec.md §4.A.
package stdio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/basaltrun/toolfed"
	"github.com/basaltrun/toolfed/backend"
)

// ConnectTimeout bounds how long a subprocess has to complete the MCP
// handshake before Open gives up.
const ConnectTimeout = 10 * time.Second

// CallTimeout bounds an individual tool call when the caller supplies no
// deadline of its own.
const CallTimeout = 60 * time.Second

// Connector is a backend.Connector for a local subprocess tool server.
// Not safe for concurrent Open/Close; Call and ListTools may be called
// concurrently once the session is ready, matching spec.md §5's
// cooperative-per-session model.
type Connector struct {
	name string
	argv []string

	mu      sync.Mutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
	state   *backend.SessionState
}

// New creates a Connector for the given backend name and subprocess
// command line (argv[0] is the executable).
func New(name string, argv []string) *Connector {
	return &Connector{
		name:  name,
		argv:  argv,
		state: backend.NewSessionState(),
	}
}

// Name returns the backend's configured name.
func (c *Connector) Name() string { return c.name }

// State returns the current session state.
func (c *Connector) State() backend.State { return c.state.Get() }

// Open spawns the subprocess and completes the MCP handshake.
func (c *Connector) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.argv) == 0 {
		c.state.Set(backend.StateFailed)
		return fmt.Errorf("%w: %s: empty command", toolfed.ErrConfiguration, c.name)
	}

	cmd := exec.Command(c.argv[0], c.argv[1:]...)
	cmd.Stderr = os.Stderr
	transport := &mcpsdk.CommandTransport{Command: cmd}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "toolfed",
		Version: "0.1.0",
	}, nil)

	connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		c.state.Set(backend.StateFailed)
		return fmt.Errorf("%w: %s: %v", toolfed.ErrBackendUnreachable, c.name, err)
	}

	c.client = client
	c.session = session
	c.state.Set(backend.StateReady)
	return nil
}

// ListTools enumerates the subprocess's advertised tools.
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
			QualifiedName: tool.Name, // raw name; federation proxy qualifies it
			Description:   tool.Description,
			InputSchema:   schemaToMap(tool.InputSchema),
			OutputSchema:  schemaToMap(tool.OutputSchema),
		})
	}
	return records, nil
}

// Call invokes a raw tool name on the subprocess.
func (c *Connector) Call(ctx context.Context, rawName string, args map[string]any) (toolfed.CallResult, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return toolfed.CallResult{}, fmt.Errorf("%w: %s: not open", toolfed.ErrBackendUnreachable, c.name)
	}

	callCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, CallTimeout)
		defer cancel()
	}

	result, err := session.CallTool(callCtx, &mcpsdk.CallToolParams{
		Name:      rawName,
		Arguments: args,
	})
	if err != nil {
		// A transport fault (as opposed to an in-band tool error) demotes
		// the session; the federation proxy is responsible for evicting
		// its catalog entries.
		c.fail()
		return toolfed.CallResult{}, fmt.Errorf("%w: %s.%s: %v", toolfed.ErrBackendFailed, c.name, rawName, err)
	}

	return convertResult(result), nil
}

// Close releases the transport and its child process.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.client = nil
	return err
}

func (c *Connector) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Set(backend.StateFailed)
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

func convertResult(result *mcpsdk.CallToolResult) toolfed.CallResult {
	out := toolfed.CallResult{IsError: result.IsError}
	for _, part := range result.Content {
		out.Content = append(out.Content, convertContent(part))
	}
	if result.StructuredContent != nil {
		out.Content = append(out.Content, toolfed.ContentPart{
			Type:       toolfed.ContentStructured,
			Structured: result.StructuredContent,
		})
	}
	return out
}

func convertContent(part mcpsdk.Content) toolfed.ContentPart {
	switch v := part.(type) {
	case *mcpsdk.TextContent:
		return toolfed.ContentPart{Type: toolfed.ContentText, Text: v.Text}
	case *mcpsdk.ImageContent:
		return toolfed.ContentPart{Type: toolfed.ContentImage, Data: v.Data, MimeType: v.MIMEType}
	default:
		return toolfed.ContentPart{Type: toolfed.ContentText, Text: fmt.Sprintf("%v", part)}
	}
}

var _ backend.Connector = (*Connector)(nil)
