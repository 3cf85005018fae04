package sandbox

import "context"

// ContainerRunner is the primary interface for container execution.
// Implementations may use the Docker SDK, containerd, or a mock for
// testing. The interface is intentionally minimal: "the bigger the
// interface, the weaker the abstraction."
//
// Implementations are expected to:
//   - Create a container from the spec
//   - Start and wait for container completion
//   - Capture stdout/stderr
//   - Remove the container after execution
//   - Respect context cancellation and spec timeout
type ContainerRunner interface {
	// Run executes code in a container and returns the result.
	// The container lifecycle (create, start, wait, remove) is atomic.
	Run(ctx context.Context, spec ContainerSpec) (ContainerResult, error)
}
