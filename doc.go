// Package toolfed provides the core data model shared by every subsystem of
// the tool-protocol aggregator and sandboxed-execution hub: backend
// descriptors, the tool catalog, the wire envelope, and the sentinel errors
// every other package builds on.
//
// # Architecture
//
// toolfed fans a single meta-tool façade out to N heterogeneous backend
// tool servers (package backend), namespaces their tools into one catalog
// (package federation), and lets a language model drive that catalog
// indirectly by writing short scripts that execute inside a long-running
// sandbox container (package sandbox). A binding generator (package
// bindings) emits one typed Go stub per tool so scripts call tools like
// ordinary functions. Remote backends that require user authorization are
// handled by an OAuth broker (package oauthbroker) implementing the
// three-legged code-grant flow with PKCE.
//
// # Security model
//
// The façade (package facade) exposes exactly four operations to the
// language model: list_tool_names, search_tools, get_tool_definition, and
// execute_script. Direct invocation of any other tool is refused; all real
// tool use happens inside the sandbox via generated bindings. This keeps
// the protocol surface exposed to the model small and constant regardless
// of how many backend tools are federated.
package toolfed
