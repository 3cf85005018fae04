// Package facade implements the meta-tool façade (spec.md §4.D): the
// only four operations ever exposed to the calling model. Direct
// dispatch of a non-meta tool is refused in-band, per the spec's load-
// bearing decision to force all tool use through generated bindings
// (spec.md §9 "Open question" resolves this the strict way).
package facade

import (
	"context"
	"fmt"
	"strings"

	"github.com/basaltrun/toolfed"
)

// DefaultListLimit is list_tool_names's default truncation limit.
const DefaultListLimit = 100

// ScriptRunner is the subset of the sandbox manager (package sandbox)
// the façade needs to route execute_script. Narrow interface at the
// integration seam, matching the teacher's ImageResolver/HealthChecker
// pattern in backend/docker/interfaces.go.
type ScriptRunner interface {
	Execute(ctx context.Context, code string, timeoutMS int) (ExecuteResult, error)
}

// ExecuteResult is the outcome of one execute_script call.
type ExecuteResult struct {
	State    string // "completed" | "timed_out" | "failed"
	Stdout   string
	Stderr   string
	ExitCode int
}

// Catalog is the subset of the federation proxy's catalog the façade
// reads. Kept narrow so facade doesn't import federation; the entry
// point (cmd/toolfed) passes in the federation proxy's catalog and its
// own ScriptRunner implementation when it wires them together.
type Catalog interface {
	Snapshot() []toolfed.ToolRecord
	Filter(server string, keywords []string) []toolfed.ToolRecord
	Get(qualifiedName string) (toolfed.ToolRecord, bool)
}

// Facade implements the four meta-operations over a catalog and a
// script runner.
type Facade struct {
	catalog  Catalog
	runner   ScriptRunner
	selector Selector
}

// New constructs a Facade. selector may be nil; NoopSelector is used in
// that case (returns every candidate unchanged).
func New(catalog Catalog, runner ScriptRunner, selector Selector) *Facade {
	if selector == nil {
		selector = NoopSelector{}
	}
	return &Facade{catalog: catalog, runner: runner, selector: selector}
}

// ListToolNamesResult is the shape list_tool_names returns.
type ListToolNamesResult struct {
	ToolNames []string `json:"tool_names"`
	Total     int      `json:"total"`
	Returned  int      `json:"returned"`
	Truncated bool     `json:"truncated"`
}

// ListToolNames implements meta-operation 1.
func (f *Facade) ListToolNames(server string, keywords []string, limit int) ListToolNamesResult {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	matched := f.catalog.Filter(server, keywords)
	total := len(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	names := make([]string, len(matched))
	for i, rec := range matched {
		names[i] = rec.QualifiedName
	}
	return ListToolNamesResult{
		ToolNames: names,
		Total:     total,
		Returned:  len(names),
		Truncated: total > len(names),
	}
}

// GetToolDefinition implements meta-operation 2.
func (f *Facade) GetToolDefinition(toolName string) (toolfed.ToolRecord, error) {
	rec, ok := f.catalog.Get(toolName)
	if !ok {
		return toolfed.ToolRecord{}, fmt.Errorf("unknown tool %q", toolName)
	}
	return rec, nil
}

// SearchTools implements meta-operation 3: LLM-assisted selection with a
// deterministic fallback to the full candidate list.
func (f *Facade) SearchTools(ctx context.Context, query, server string, limit int) []toolfed.ToolRecord {
	candidates := f.catalog.Filter(server, nil)

	selected, err := f.selector.Select(ctx, query, candidates)
	if err != nil || selected == nil {
		selected = make([]string, len(candidates))
		for i, rec := range candidates {
			selected[i] = rec.QualifiedName
		}
	}

	byName := make(map[string]toolfed.ToolRecord, len(candidates))
	for _, rec := range candidates {
		byName[rec.QualifiedName] = rec
	}

	out := make([]toolfed.ToolRecord, 0, len(selected))
	for _, name := range selected {
		if rec, ok := byName[name]; ok {
			out = append(out, rec)
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ExecuteScript implements meta-operation 4, the only operation that
// triggers work.
func (f *Facade) ExecuteScript(ctx context.Context, code string, timeoutMS int) (ExecuteResult, error) {
	if timeoutMS <= 0 {
		timeoutMS = 30000
	}
	return f.runner.Execute(ctx, code, timeoutMS)
}

// metaOperationNames is consulted by IsMetaOperation to refuse anything else.
var metaOperationNames = map[string]bool{
	"list_tool_names":    true,
	"get_tool_definition": true,
	"search_tools":       true,
	"execute_script":      true,
}

// IsMetaOperation reports whether name is one of the four meta-tools
// the façade exposes.
func IsMetaOperation(name string) bool {
	return metaOperationNames[strings.TrimSpace(name)]
}

// RefuseDirectDispatch builds the in-band error response for any call
// that isn't one of the four meta-operations, per spec.md §4.D.
func RefuseDirectDispatch(name string) toolfed.CallResult {
	return toolfed.ErrorResult(fmt.Sprintf(
		"direct invocation of %q is not permitted; use execute_script with generated bindings instead", name))
}
