package oauthbroker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/yosida95/uritemplate/v3"
)

// redirectTemplate expands the loopback port into the fixed callback
// path every backend's registered redirect_uri points at.
var redirectTemplate = uritemplate.MustNew("http://127.0.0.1:{port}{+path}")

// callbackResult is what the loopback listener delivers once the
// authorization server redirects back with a code or an error.
type callbackResult struct {
	code  string
	state string
	err   string
}

// listener is a single-fire loopback HTTP server for the redirect leg of
// the code grant. It is idempotent to start: a second Start call before
// the first fires is a no-op that shares the same awaitable.
type listener struct {
	mu       sync.Mutex
	srv      *http.Server
	ln       net.Listener
	resultCh chan callbackResult
	started  bool
}

func newListener() *listener {
	return &listener{resultCh: make(chan callbackResult, 1)}
}

// Start binds an ephemeral loopback port and begins serving the redirect
// path, returning the full redirect URI to register with the
// authorization server. A repeat call on a started listener binds and
// registers nothing new; it returns the URI for the already-bound port.
func (l *listener) Start(path string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", fmt.Errorf("oauthbroker: bind loopback listener: %w", err)
		}

		mux := http.NewServeMux()
		mux.HandleFunc(path, l.handleCallback)
		l.srv = &http.Server{Handler: mux}
		l.ln = ln
		l.started = true

		go func() {
			_ = l.srv.Serve(ln)
		}()
	}

	port := l.ln.Addr().(*net.TCPAddr).Port
	values := uritemplate.Values{}
	values.Set("port", uritemplate.String(strconv.Itoa(port)))
	values.Set("path", uritemplate.String(path))
	redirectURI, err := redirectTemplate.Expand(values)
	if err != nil {
		return "", fmt.Errorf("oauthbroker: expand redirect uri: %w", err)
	}
	return redirectURI, nil
}

func (l *listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := callbackResult{
		code:  q.Get("code"),
		state: q.Get("state"),
		err:   q.Get("error"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if result.err != "" {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "<html><body><h3>Authorization failed: %s</h3>You may close this window.</body></html>", result.err)
	} else {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "<html><body><h3>Authorization complete</h3>You may close this window.</body></html>")
	}

	select {
	case l.resultCh <- result:
	default:
	}
}

// Await blocks until the redirect fires or ctx is done.
func (l *listener) Await(ctx context.Context) (callbackResult, error) {
	select {
	case result := <-l.resultCh:
		return result, nil
	case <-ctx.Done():
		return callbackResult{}, ctx.Err()
	}
}

// Shutdown tears down the listener. Safe to call more than once.
func (l *listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started || l.srv == nil {
		return nil
	}
	err := l.srv.Shutdown(ctx)
	l.started = false
	return err
}
