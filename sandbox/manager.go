package sandbox

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a position in the sandbox lifecycle: absent → starting →
// healthy → unhealthy → absent.
type State string

const (
	StateAbsent    State = "absent"
	StateStarting  State = "starting"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

const (
	defaultImageTag     = "toolfed-sandbox:latest"
	ownerLabelKey       = "toolfed.sandbox"
	ownerLabelValue     = "managed"
	containerWorkDir    = "/workspace"
	containerModDir     = "/opt/toolfed"
	defaultProxyPort    = 8765
	defaultRedirectPort = 8766
)

// implicitImportLine is spliced in right after a script's package clause
// so every execute_script call can reach the federation proxy without
// writing the import itself, per spec.md §4.F. Generated stubs
// (bindings/<backend>/*.go) already import this package on the script's
// behalf when called through them; scripts that skip the generated
// stubs and call runtime.Invoke directly need it in scope too.
const implicitImportLine = "import \"github.com/basaltrun/toolfed/bindings/runtime\"\n"

// prependImplicitImport inserts implicitImportLine immediately after
// code's package clause (its first line, by convention: every
// execute_script payload is a complete "package main" file).
func prependImplicitImport(code string) string {
	idx := strings.IndexByte(code, '\n')
	if idx < 0 {
		return code + "\n" + implicitImportLine
	}
	return code[:idx+1] + implicitImportLine + code[idx+1:]
}

// scriptModulePath is the module the workspace go.mod declares for itself.
// moduleImportPath is the module the scripts import bindings from; the
// workspace go.mod replaces it with the read-only tree mounted at
// containerModDir so `go run` never needs network access to resolve it.
const (
	scriptModulePath = "toolfed/sandboxscript"
	moduleImportPath = "github.com/basaltrun/toolfed"
)

// workspaceGoMod is written once per workspace directory so scripts under
// it can `go run` with containerModDir's packages (and, transitively,
// everything containerModDir's own go.sum already resolved) in scope,
// without workspace itself sitting inside the read-only module tree.
func workspaceGoMod(goVersion string) string {
	return fmt.Sprintf(
		"module %s\n\ngo %s\n\nrequire %s v0.0.0-00010101000000-000000000000\n\nreplace %s => %s\n",
		scriptModulePath, goVersion, moduleImportPath, moduleImportPath, containerModDir,
	)
}

// ensureScriptModule writes a go.mod to the workspace root the first time
// it's missing, so execute_script's `go run` resolves against
// containerModDir's packages instead of failing with "cannot find main
// module" the moment a script imports anything beyond the standard
// library (spec.md §4.F).
func ensureScriptModule(workspaceRoot string) error {
	path := filepath.Join(workspaceRoot, "go.mod")
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(workspaceGoMod("1.24")), 0o644)
}

var _ Docker = (*DockerRunner)(nil)

// Docker is the narrow set of Docker operations the manager needs,
// satisfied by *DockerRunner. Kept as an interface (rather than a
// concrete dependency) purely so tests can substitute a fake, following
// the same narrow-seam pattern as ImageResolver/HealthChecker.
type Docker interface {
	ContainerRunner
	ImageResolver
	HealthChecker
	ContainersByLabel(ctx context.Context, labels map[string]string) ([]string, error)
	StartDetached(ctx context.Context, spec ContainerSpec) (string, error)
	ExecIn(ctx context.Context, containerID string, cmd []string, opts ExecOptions, stdin io.Reader) (ContainerResult, error)
	HostPortFor(ctx context.Context, containerID string, containerPort int, protocol string) (string, error)
	Stop(ctx context.Context, containerID string) error
	BuildImage(ctx context.Context, tag string, buildContext io.Reader, dockerfilePath string) error
}

// ManagerConfig configures the sandbox manager.
type ManagerConfig struct {
	// Image is the sandbox image tag. Defaults to "toolfed-sandbox:latest".
	Image string

	// WorkspaceRoot is the host directory bind-mounted read-write at
	// /workspace inside the container.
	WorkspaceRoot string

	// ModuleRoot is the host directory containing the installed module
	// tree (this repository), bind-mounted read-only at /opt/toolfed and
	// also used as the Docker build context when the image is absent.
	ModuleRoot string

	// ProxyPort and RedirectPort are the container-side ports the
	// in-container federation proxy and the OAuth loopback listener bind.
	ProxyPort    int
	RedirectPort int

	// PollInterval and PollTimeout govern the startup health probe loop.
	PollInterval time.Duration
	PollTimeout  time.Duration

	Logger *slog.Logger
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.Image == "" {
		c.Image = defaultImageTag
	}
	if c.ProxyPort == 0 {
		c.ProxyPort = defaultProxyPort
	}
	if c.RedirectPort == 0 {
		c.RedirectPort = defaultRedirectPort
	}
	if c.PollInterval == 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Manager owns the single sandbox container per process (spec.md §4.F):
// it builds the image if absent, starts at most one container, probes
// the in-container proxy for health, serializes script executions
// against it with a mutex, and tears it down on shutdown. Grounded on
// the teacher's runtime.go (RegisterBackend's mutex discipline) and
// backend/docker/docker.go's Execute flow (validate → timeout → health
// → resolve → spec → run → convert), generalized from a one-shot
// execution backend into a long-lived single-tenant sandbox.
type Manager struct {
	docker Docker
	cfg    ManagerConfig
	log    *slog.Logger
	http   *http.Client

	execMu sync.Mutex // serializes Execute

	stateMu       sync.Mutex
	state         State
	containerID   string
	hostProxyPort string
}

// NewManager constructs a Manager in StateAbsent. It does not touch Docker.
func NewManager(docker Docker, cfg ManagerConfig) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		docker: docker,
		cfg:    cfg,
		log:    cfg.Logger,
		http:   &http.Client{Timeout: 2 * time.Second},
		state:  StateAbsent,
	}
}

// State reports the manager's current lifecycle position.
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// Ensure brings the sandbox to StateHealthy, starting a fresh container
// if one isn't already running. Idempotent: a healthy sandbox returns
// immediately.
func (m *Manager) Ensure(ctx context.Context) error {
	if m.docker == nil {
		return ErrClientNotConfigured
	}
	m.stateMu.Lock()
	switch m.state {
	case StateHealthy:
		m.stateMu.Unlock()
		return nil
	case StateStarting:
		m.stateMu.Unlock()
		return ErrAlreadyStarting
	}
	m.state = StateStarting
	m.stateMu.Unlock()

	if err := m.cleanupOrphans(ctx); err != nil {
		m.log.Warn("orphan cleanup failed", "error", err)
	}

	if err := ensureScriptModule(m.cfg.WorkspaceRoot); err != nil {
		m.setState(StateAbsent)
		return fmt.Errorf("%w: prepare script module: %v", ErrSandboxUnhealthy, err)
	}

	if _, err := m.docker.Resolve(ctx, m.cfg.Image); err != nil {
		m.log.Info("sandbox image absent, building", "image", m.cfg.Image)
		buildCtx, buildErr := tarBuildContext(m.cfg.ModuleRoot)
		if buildErr != nil {
			m.setState(StateAbsent)
			return fmt.Errorf("%w: prepare build context: %v", ErrImageNotFound, buildErr)
		}
		if err := m.docker.BuildImage(ctx, m.cfg.Image, buildCtx, "sandbox/recipe/Dockerfile"); err != nil {
			m.setState(StateAbsent)
			return err
		}
	}

	spec, err := m.containerSpec()
	if err != nil {
		m.setState(StateAbsent)
		return fmt.Errorf("%w: %v", ErrContainerFailed, err)
	}

	id, err := m.docker.StartDetached(ctx, spec)
	if err != nil {
		m.setState(StateAbsent)
		return err
	}

	hostPort, err := m.docker.HostPortFor(ctx, id, m.cfg.ProxyPort, "tcp")
	if err != nil {
		_ = m.docker.Stop(ctx, id)
		m.setState(StateAbsent)
		return fmt.Errorf("%w: resolve proxy port: %v", ErrSandboxUnhealthy, err)
	}

	m.stateMu.Lock()
	m.containerID = id
	m.hostProxyPort = hostPort
	m.stateMu.Unlock()

	if err := m.awaitHealthy(ctx, hostPort); err != nil {
		m.setState(StateUnhealthy)
		return err
	}

	m.setState(StateHealthy)
	m.log.Info("sandbox healthy", "container_id", id, "proxy_port", hostPort)
	return nil
}

// awaitHealthy polls the in-container proxy's /healthz endpoint at
// PollInterval until it answers or PollTimeout elapses.
func (m *Manager) awaitHealthy(ctx context.Context, hostPort string) error {
	deadline := time.Now().Add(m.cfg.PollTimeout)
	url := fmt.Sprintf("http://127.0.0.1:%s/healthz", hostPort)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			if resp, err := m.http.Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: proxy did not become healthy within %s", ErrSandboxUnhealthy, m.cfg.PollTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cleanupOrphans stops and removes any container carrying this
// process's sandbox label from a prior, ungracefully terminated run.
func (m *Manager) cleanupOrphans(ctx context.Context) error {
	ids, err := m.docker.ContainersByLabel(ctx, map[string]string{ownerLabelKey: ownerLabelValue})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.docker.Stop(ctx, id); err != nil {
			m.log.Warn("failed to remove orphaned sandbox container", "container_id", id, "error", err)
		}
	}
	return nil
}

func (m *Manager) containerSpec() (ContainerSpec, error) {
	builder := NewSpecBuilder(m.cfg.Image).
		WithBindMount(m.cfg.WorkspaceRoot, containerWorkDir, false).
		WithBindMount(m.cfg.ModuleRoot, containerModDir, true).
		WithPublishedPort(m.cfg.ProxyPort).
		WithPublishedPort(m.cfg.RedirectPort).
		WithEnv("TOOLFED_PROXY_PORT", itoa(m.cfg.ProxyPort)).
		WithEnv("TOOLFED_REDIRECT_PORT", itoa(m.cfg.RedirectPort)).
		WithLabel(ownerLabelKey, ownerLabelValue)
	// Bridge (the default network mode) is required here so the host can
	// reach the published proxy/redirect ports. Scripts exec'd into the
	// container share this network; no per-script network restriction
	// is applied.
	return builder.Build()
}

// Execute runs code inside the sandbox, bringing it to StateHealthy
// first if it isn't already. Executions are serialized: the sandbox is
// single-tenant per process, so concurrent callers queue rather than
// race each other inside the container. timeoutMS <= 0 defaults to 30s,
// matching the façade's execute_script default.
//
// Per spec.md §4.F, code is written to a unique file under the
// workspace bind mount (so `go run` can resolve it against the
// read-only module tree mounted alongside at containerModDir), with an
// implicit import line prepended so generated bindings are reachable,
// and the file is removed once the run completes.
func (m *Manager) Execute(ctx context.Context, code string, timeoutMS int) (ContainerResult, error) {
	m.execMu.Lock()
	defer m.execMu.Unlock()

	if m.State() != StateHealthy {
		if err := m.Ensure(ctx); err != nil {
			return ContainerResult{}, err
		}
	}

	timeout := time.Duration(timeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scriptName := fmt.Sprintf("script-%s.go", uuid.NewString())
	hostPath := filepath.Join(m.cfg.WorkspaceRoot, scriptName)
	containerPath := filepath.Join(containerWorkDir, scriptName)

	if err := os.WriteFile(hostPath, []byte(prependImplicitImport(code)), 0o644); err != nil {
		return ContainerResult{}, fmt.Errorf("%w: write script: %v", ErrSandboxUnhealthy, err)
	}
	defer os.Remove(hostPath)

	id := m.containerIDSnapshot()
	runScript := "go run " + containerPath
	result, err := m.docker.ExecIn(execCtx, id, []string{"sh", "-c", runScript}, ExecOptions{
		WorkDir: containerWorkDir,
		Env:     []string{"TOOLFED_PROXY_ENDPOINT=http://127.0.0.1:" + itoa(m.cfg.ProxyPort)},
	}, nil)
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			// The script itself overran, not the sandbox: the container is
			// still usable, so its health is left untouched.
			return result, fmt.Errorf("%w: %v", ErrScriptTimeout, err)
		}
		m.setState(StateUnhealthy)
		return ContainerResult{}, fmt.Errorf("%w: %v", ErrSandboxUnhealthy, err)
	}
	return result, nil
}

func (m *Manager) containerIDSnapshot() string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.containerID
}

// Shutdown stops and removes the sandbox container, if any. Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stateMu.Lock()
	id := m.containerID
	m.containerID = ""
	m.hostProxyPort = ""
	m.stateMu.Unlock()

	m.setState(StateAbsent)
	if id == "" {
		return nil
	}
	return m.docker.Stop(ctx, id)
}

// tarBuildContext packages root's contents (the installed module tree)
// into a tar stream suitable as a Docker build context, skipping the
// read-only reference pack and VCS metadata so the image doesn't embed
// them.
func tarBuildContext(root string) (io.Reader, error) {
	pr, pw := io.Pipe()
	tw := tar.NewWriter(pw)

	go func() {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			if skipFromBuildContext(rel) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			hdr := &tar.Header{
				Name: filepath.ToSlash(rel),
				Mode: int64(info.Mode().Perm()),
				Size: int64(len(data)),
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			_, err = tw.Write(data)
			return err
		})
		if err != nil {
			_ = tw.Close()
			_ = pw.CloseWithError(err)
			return
		}
		_ = tw.Close()
		_ = pw.Close()
	}()

	return pr, nil
}

func skipFromBuildContext(rel string) bool {
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	switch first {
	case "_examples", ".git", "runner-setup", ".claude":
		return true
	}
	return false
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
