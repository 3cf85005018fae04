package federation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/basaltrun/toolfed"
)

// EnvelopeOp identifies which of the proxy's two operations a request
// envelope invokes, per spec.md §4.C.
type EnvelopeOp string

const (
	OpListTools EnvelopeOp = "list_tools"
	OpCallTool  EnvelopeOp = "call_tool"
)

// RequestEnvelope is one line of the line-delimited JSON request stream.
type RequestEnvelope struct {
	ID            string         `json:"id"`
	Op            EnvelopeOp     `json:"op"`
	QualifiedName string         `json:"qualified_name,omitempty"`
	Arguments     map[string]any `json:"arguments,omitempty"`
}

// ResponseEnvelope is one line of the line-delimited JSON response stream.
type ResponseEnvelope struct {
	ID     string               `json:"id"`
	Tools  []toolfed.ToolRecord `json:"tools,omitempty"`
	Result *toolfed.CallResult  `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// Server exposes a Proxy over the same line-delimited JSON envelope used
// by backends (spec.md §4.C): the proxy acts as a backend to its own
// hosted clients. Reached over loopback HTTP, one POST per envelope,
// per spec.md §4.F, matching the teacher's gateway/proxy
// request/response framing but over HTTP instead of an arbitrary
// Connection, since the in-sandbox deployment specifically requires a
// loopback HTTP health probe and endpoint.
type Server struct {
	proxy *Proxy
	log   *slog.Logger
	http  *http.Server
}

// NewServer wraps proxy in a loopback HTTP envelope server.
func NewServer(proxy *Proxy, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{proxy: proxy, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", s.handleInvoke)
	mux.HandleFunc("/healthz", s.handleHealthz)
	s.http = &http.Server{Handler: mux}
	return s
}

// handleHealthz lets the sandbox manager's probe loop distinguish a live
// in-container proxy from an unreachable one without exercising the
// envelope protocol itself.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Serve binds addr and serves until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("federation: bind %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = s.http.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the server, best-effort.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleInvoke accepts a single-line JSON request body (the degenerate
// one-line case of the line-delimited envelope over a stateless HTTP
// POST) and writes a single-line JSON response.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		http.Error(w, "empty request body", http.StatusBadRequest)
		return
	}

	var req RequestEnvelope
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		http.Error(w, fmt.Sprintf("malformed envelope: %v", err), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	resp := s.dispatch(r.Context(), req)

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(resp); err != nil {
		s.log.Error("failed to encode response envelope", "error", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req RequestEnvelope) ResponseEnvelope {
	switch req.Op {
	case OpListTools:
		return ResponseEnvelope{ID: req.ID, Tools: s.proxy.ListTools()}
	case OpCallTool:
		result, err := s.proxy.Dispatch(ctx, req.QualifiedName, req.Arguments)
		if err != nil {
			return ResponseEnvelope{ID: req.ID, Error: err.Error()}
		}
		return ResponseEnvelope{ID: req.ID, Result: &result}
	default:
		return ResponseEnvelope{ID: req.ID, Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}
