package sandbox

import "errors"

// Sentinel errors for sandbox lifecycle and container execution.
var (
	// ErrDockerNotAvailable is returned when the container runtime is not available.
	ErrDockerNotAvailable = errors.New("container runtime not available")

	// ErrImageNotFound is returned when the sandbox image is not present and
	// cannot be built from the bundled recipe.
	ErrImageNotFound = errors.New("sandbox image not found")

	// ErrContainerFailed is returned when container creation/execution fails.
	ErrContainerFailed = errors.New("container execution failed")

	// ErrClientNotConfigured is returned when no ContainerRunner is configured.
	ErrClientNotConfigured = errors.New("container runner not configured")

	// ErrDaemonUnavailable is returned when the container daemon is not reachable.
	ErrDaemonUnavailable = errors.New("container daemon unavailable")

	// ErrSecurityViolation is returned when a container spec violates sandbox policy.
	ErrSecurityViolation = errors.New("sandbox security policy violation")

	// ErrSandboxUnhealthy is returned when the sandbox container or in-container
	// proxy cannot be reached.
	ErrSandboxUnhealthy = errors.New("sandbox unhealthy")

	// ErrAlreadyStarting is returned when Ensure is called concurrently while a
	// sandbox is already starting.
	ErrAlreadyStarting = errors.New("sandbox already starting")

	// ErrScriptTimeout is returned when a script execution exceeds its timeout.
	// Partial stdout/stderr is still returned alongside this error's wrapping.
	ErrScriptTimeout = errors.New("script execution timed out")
)
