package toolfed

import (
	"fmt"
	"strings"
)

// NameSeparator is the two-character separator between a backend name and
// a raw tool name in a qualified tool name. Backend names must not contain
// it; splitting on its first occurrence recovers the backend name even
// when the raw tool name itself contains the separator.
const NameSeparator = "__"

// TransportKind identifies how a backend is reached.
type TransportKind string

const (
	// TransportLocal spawns a subprocess and speaks line-delimited JSON
	// over its stdin/stdout.
	TransportLocal TransportKind = "local"

	// TransportSSE speaks JSON-over-HTTP with a server-sent-event stream.
	TransportSSE TransportKind = "sse"

	// TransportStreamableHTTP speaks JSON-over-HTTP with streamable framing.
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// BackendDescriptor configures one federated backend. Exactly one of the
// local or remote field groups applies, selected by Transport.
type BackendDescriptor struct {
	// Name identifies the backend. Must be non-empty and must not contain
	// NameSeparator. Unique across the configured backend set.
	Name string

	// Transport selects how the backend is reached. Empty defaults to
	// TransportLocal when Command is set, or is invalid otherwise.
	Transport TransportKind

	// Command and Argv configure a local subprocess backend.
	Command string
	Argv    []string

	// URL configures a remote backend (TransportSSE or TransportStreamableHTTP).
	URL string
}

// Validate checks the descriptor for the configuration errors spec.md §7
// treats as fatal at startup.
func (d BackendDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: backend name is required", ErrConfiguration)
	}
	if strings.Contains(d.Name, NameSeparator) {
		return fmt.Errorf("%w: backend name %q must not contain %q", ErrConfiguration, d.Name, NameSeparator)
	}
	switch d.Transport {
	case TransportLocal, "":
		if d.Command == "" {
			return fmt.Errorf("%w: backend %q requires a command for local transport", ErrConfiguration, d.Name)
		}
	case TransportSSE, TransportStreamableHTTP:
		if d.URL == "" {
			return fmt.Errorf("%w: backend %q requires a url for remote transport", ErrConfiguration, d.Name)
		}
	default:
		return fmt.Errorf("%w: backend %q has unknown transport %q", ErrConfiguration, d.Name, d.Transport)
	}
	return nil
}

// IsLocal reports whether the descriptor configures a local subprocess backend.
func (d BackendDescriptor) IsLocal() bool {
	return d.Transport == TransportLocal || (d.Transport == "" && d.Command != "")
}

// QualifiedName returns backendName + NameSeparator + rawName.
func QualifiedName(backendName, rawName string) string {
	return backendName + NameSeparator + rawName
}

// SplitQualifiedName splits a qualified tool name into its backend and raw
// tool name components by the FIRST occurrence of NameSeparator, never by
// any later occurrence. This matters because raw tool names may themselves
// contain NameSeparator while backend names never do (BackendDescriptor.Validate
// enforces that invariant at configuration time).
func SplitQualifiedName(qualified string) (backend, raw string, ok bool) {
	idx := strings.Index(qualified, NameSeparator)
	if idx < 0 {
		return "", "", false
	}
	return qualified[:idx], qualified[idx+len(NameSeparator):], true
}

// ToolRecord is a single entry in the federation catalog.
type ToolRecord struct {
	// QualifiedName is backend.Name + NameSeparator + the backend's raw tool name.
	QualifiedName string `json:"qualified_name"`

	// Description is the backend-supplied description, decorated with a
	// "[backend_name] " provenance prefix by the federation proxy.
	Description string `json:"description"`

	// InputSchema is the tool's JSON input schema, as advertised by the backend.
	InputSchema map[string]any `json:"input_schema,omitempty"`

	// OutputSchema is the tool's JSON output schema, if the backend advertised one.
	OutputSchema map[string]any `json:"output_schema,omitempty"`
}

// Backend returns the backend name recovered from QualifiedName.
func (t ToolRecord) Backend() string {
	backend, _, _ := SplitQualifiedName(t.QualifiedName)
	return backend
}
