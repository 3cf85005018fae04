// Package federation implements the federation proxy (spec.md §4.C): it
// holds the tool catalog, runs backend discovery, namespaces and
// decorates tool records, and dispatches calls to the right backend
// session. Grounded on the teacher's gateway/direct in-process delegation
// shape, generalized from its fixed index/docs/runner trio to an
// arbitrary set of backend.Connector sessions.
package federation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/basaltrun/toolfed"
	"github.com/basaltrun/toolfed/backend"
)

// Proxy aggregates N backend connectors behind a single namespaced
// catalog and dispatches calls to the owning backend.
type Proxy struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]backend.Connector
	catalog  *toolfed.Catalog
}

// New creates an empty Proxy. Call Discover to populate it.
func New(log *slog.Logger) *Proxy {
	if log == nil {
		log = slog.Default()
	}
	return &Proxy{
		log:      log,
		sessions: make(map[string]backend.Connector),
		catalog:  toolfed.NewCatalog(),
	}
}

// Catalog exposes the underlying catalog for callers (the façade, the
// wire-protocol server) that need read access beyond Dispatch/ListTools.
func (p *Proxy) Catalog() *toolfed.Catalog { return p.catalog }

// Discover opens every connector, lists its tools, namespaces and
// decorates them, and populates the catalog. A connector that fails to
// open is logged and skipped, per spec.md §4.A: backend-unreachable
// during open is recoverable at the proxy level.
func (p *Proxy) Discover(ctx context.Context, connectors []backend.Connector) {
	for _, conn := range connectors {
		if err := conn.Open(ctx); err != nil {
			p.log.Warn("backend unreachable during discovery", "backend", conn.Name(), "error", err)
			continue
		}

		records, err := conn.ListTools(ctx)
		if err != nil {
			p.log.Warn("list_tools failed during discovery", "backend", conn.Name(), "error", err)
			_ = conn.Close()
			continue
		}

		p.mu.Lock()
		p.sessions[conn.Name()] = conn
		p.mu.Unlock()

		qualified := make([]toolfed.ToolRecord, 0, len(records))
		for _, rec := range records {
			qualified = append(qualified, toolfed.ToolRecord{
				QualifiedName: toolfed.QualifiedName(conn.Name(), rec.QualifiedName),
				Description:   fmt.Sprintf("[%s] %s", conn.Name(), rec.Description),
				InputSchema:   rec.InputSchema,
				OutputSchema:  rec.OutputSchema,
			})
		}
		p.catalog.PutAll(qualified)
		p.log.Info("backend discovered", "backend", conn.Name(), "tools", len(qualified))
	}
}

// Dispatch routes a call to a qualified tool name: locate backend,
// forward the call, surface the result unchanged. Missing backend or
// tool is an in-band error result, never a transport fault, per
// spec.md §4.C. The proxy never retries.
func (p *Proxy) Dispatch(ctx context.Context, qualifiedName string, args map[string]any) (toolfed.CallResult, error) {
	backendName, rawName, ok := toolfed.SplitQualifiedName(qualifiedName)
	if !ok {
		return toolfed.ErrorResult(fmt.Sprintf("malformed tool name %q: missing %q separator", qualifiedName, toolfed.NameSeparator)), nil
	}

	if _, found := p.catalog.Get(qualifiedName); !found {
		return toolfed.ErrorResult(fmt.Sprintf("unknown tool %q", qualifiedName)), nil
	}

	p.mu.RLock()
	conn, ok := p.sessions[backendName]
	p.mu.RUnlock()
	if !ok {
		return toolfed.ErrorResult(fmt.Sprintf("unknown backend %q", backendName)), nil
	}

	result, err := conn.Call(ctx, rawName, args)
	if err != nil {
		p.evict(conn)
		return toolfed.CallResult{}, fmt.Errorf("federation: dispatch %s: %w", qualifiedName, err)
	}
	return result, nil
}

// ListTools returns the full catalog snapshot.
func (p *Proxy) ListTools() []toolfed.ToolRecord {
	return p.catalog.Snapshot()
}

// evict drops a failed backend's session and catalog entries, per
// spec.md §4.A: a transport fault during call demotes the session and
// the proxy evicts its tools.
func (p *Proxy) evict(conn backend.Connector) {
	p.mu.Lock()
	delete(p.sessions, conn.Name())
	p.mu.Unlock()
	p.catalog.EvictBackend(conn.Name())
	p.log.Warn("backend evicted after call failure", "backend", conn.Name())
}

// Close releases every open backend session, best-effort.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for name, conn := range p.sessions {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("federation: close %s: %w", name, err)
		}
	}
	p.sessions = make(map[string]backend.Connector)
	return firstErr
}
