package sandbox

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeDocker struct {
	mu sync.Mutex

	resolveErr   error
	buildCalled  bool
	startErr     error
	hostPortErr  error
	execErr      error
	execResult   ContainerResult
	stoppedIDs   []string
	orphanIDs    []string
	healthServer *httptest.Server
	blockOnExec  bool

	// workspaceRoot, when set, makes ExecIn snapshot the one script-*.go
	// file it finds there (name + content) before the real Execute call
	// removes it, so tests can assert on a file that only ever exists for
	// the duration of the exec.
	workspaceRoot   string
	seenScriptName  string
	seenScriptBytes []byte
	seenCmds        [][]string
}

func (f *fakeDocker) Run(ctx context.Context, spec ContainerSpec) (ContainerResult, error) {
	return ContainerResult{}, nil
}

func (f *fakeDocker) Resolve(ctx context.Context, image string) (string, error) {
	return image, f.resolveErr
}

func (f *fakeDocker) Ping(ctx context.Context) error { return nil }

func (f *fakeDocker) Info(ctx context.Context) (DaemonInfo, error) { return DaemonInfo{}, nil }

func (f *fakeDocker) ContainersByLabel(ctx context.Context, labels map[string]string) ([]string, error) {
	return f.orphanIDs, nil
}

func (f *fakeDocker) StartDetached(ctx context.Context, spec ContainerSpec) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return "container-1", nil
}

func (f *fakeDocker) ExecIn(ctx context.Context, containerID string, cmd []string, opts ExecOptions, stdin io.Reader) (ContainerResult, error) {
	f.mu.Lock()
	f.seenCmds = append(f.seenCmds, cmd)
	if f.workspaceRoot != "" {
		if entries, err := os.ReadDir(f.workspaceRoot); err == nil {
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), "script-") && strings.HasSuffix(e.Name(), ".go") {
					f.seenScriptName = e.Name()
					f.seenScriptBytes, _ = os.ReadFile(filepath.Join(f.workspaceRoot, e.Name()))
				}
			}
		}
	}
	f.mu.Unlock()

	if f.blockOnExec {
		<-ctx.Done()
		return ContainerResult{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return ContainerResult{}, f.execErr
	}
	return f.execResult, nil
}

func (f *fakeDocker) HostPortFor(ctx context.Context, containerID string, containerPort int, protocol string) (string, error) {
	if f.hostPortErr != nil {
		return "", f.hostPortErr
	}
	_, port, _ := splitHostPort(f.healthServer.URL)
	return port, nil
}

func (f *fakeDocker) Stop(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stoppedIDs = append(f.stoppedIDs, containerID)
	return nil
}

func (f *fakeDocker) BuildImage(ctx context.Context, tag string, buildContext io.Reader, dockerfilePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buildCalled = true
	_, _ = io.Copy(io.Discard, buildContext)
	return nil
}

func splitHostPort(url string) (string, string, error) {
	// url is like http://127.0.0.1:54321
	idx := len(url) - 1
	for idx >= 0 && url[idx] != ':' {
		idx--
	}
	return url[:idx], url[idx+1:], nil
}

func newHealthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
}

func testManager(t *testing.T, docker *fakeDocker) *Manager {
	t.Helper()
	return NewManager(docker, ManagerConfig{
		Image:         "toolfed-sandbox:test",
		WorkspaceRoot: t.TempDir(),
		ModuleRoot:    t.TempDir(),
		PollInterval:  5 * time.Millisecond,
		PollTimeout:   500 * time.Millisecond,
	})
}

func TestManagerEnsureTransitionsToHealthy(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv}
	m := testManager(t, docker)

	if err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if m.State() != StateHealthy {
		t.Fatalf("state = %v, want healthy", m.State())
	}
}

func TestManagerEnsureIsIdempotentWhenHealthy(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv}
	m := testManager(t, docker)

	if err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	docker.startErr = errors.New("should not be called again")
	if err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("second Ensure should be a no-op, got: %v", err)
	}
}

func TestManagerEnsureBuildsImageWhenAbsent(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv, resolveErr: errors.New("not found")}
	m := testManager(t, docker)

	if err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !docker.buildCalled {
		t.Fatal("expected BuildImage to be called when Resolve fails")
	}
}

func TestManagerEnsureFailsWhenProxyNeverHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv}
	m := testManager(t, docker)

	if err := m.Ensure(context.Background()); err == nil {
		t.Fatal("expected error when proxy never becomes healthy")
	}
	if m.State() != StateUnhealthy {
		t.Fatalf("state = %v, want unhealthy", m.State())
	}
}

func TestManagerExecuteEnsuresThenRuns(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{
		healthServer: srv,
		execResult:   ContainerResult{ExitCode: 0, Stdout: "hello"},
	}
	m := testManager(t, docker)

	result, err := m.Execute(context.Background(), "package main\nfunc main(){}\n", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Stdout != "hello" {
		t.Fatalf("Stdout = %q, want hello", result.Stdout)
	}
}

func TestManagerExecuteMarksUnhealthyOnExecFailure(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv, execErr: errors.New("exec failed")}
	m := testManager(t, docker)

	if _, err := m.Execute(context.Background(), "package main\n", 0); err == nil {
		t.Fatal("expected error from Execute")
	}
	if m.State() != StateUnhealthy {
		t.Fatalf("state = %v, want unhealthy", m.State())
	}
}

func TestManagerShutdownStopsContainerAndResetsState(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv}
	m := testManager(t, docker)

	if err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if m.State() != StateAbsent {
		t.Fatalf("state = %v, want absent", m.State())
	}
	if len(docker.stoppedIDs) != 1 || docker.stoppedIDs[0] != "container-1" {
		t.Fatalf("stoppedIDs = %v", docker.stoppedIDs)
	}
}

func TestManagerExecuteReturnsScriptTimeoutWithoutMarkingUnhealthy(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv, blockOnExec: true}
	m := testManager(t, docker)

	if err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	_, err := m.Execute(context.Background(), "package main\n", 10)
	if err == nil || !errors.Is(err, ErrScriptTimeout) {
		t.Fatalf("Execute error = %v, want ErrScriptTimeout", err)
	}
	if m.State() != StateHealthy {
		t.Fatalf("state = %v, want healthy (a script timeout doesn't indict the sandbox)", m.State())
	}
}

func TestManagerShutdownIdempotentWithoutContainer(t *testing.T) {
	m := testManager(t, &fakeDocker{})
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on absent sandbox: %v", err)
	}
}

func TestManagerExecuteWritesUniqueScriptWithImplicitImportAndCleansUp(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv, execResult: ContainerResult{ExitCode: 0}}
	m := testManager(t, docker)
	docker.workspaceRoot = m.cfg.WorkspaceRoot

	const code = "package main\n\nfunc main() {}\n"
	if _, err := m.Execute(context.Background(), code, 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if docker.seenScriptName == "" {
		t.Fatal("exec never observed a script-*.go file under the workspace")
	}
	seen := string(docker.seenScriptBytes)
	wantPrefix := "package main\n" + implicitImportLine
	if !strings.HasPrefix(seen, wantPrefix) {
		t.Fatalf("script content = %q, want prefix %q (implicit import spliced after package clause)", seen, wantPrefix)
	}
	if !strings.Contains(seen, "func main() {}") {
		t.Fatal("script content lost the original body")
	}

	leftover, err := os.ReadDir(m.cfg.WorkspaceRoot)
	if err != nil {
		t.Fatalf("ReadDir workspace: %v", err)
	}
	for _, e := range leftover {
		if strings.HasPrefix(e.Name(), "script-") && strings.HasSuffix(e.Name(), ".go") {
			t.Fatalf("script file %s still present after Execute returned, want removed", e.Name())
		}
	}
}

func TestManagerExecuteUsesAUniqueFilenamePerCall(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv, execResult: ContainerResult{ExitCode: 0}}
	m := testManager(t, docker)
	docker.workspaceRoot = m.cfg.WorkspaceRoot

	if _, err := m.Execute(context.Background(), "package main\n", 0); err != nil {
		t.Fatalf("Execute #1: %v", err)
	}
	first := docker.seenScriptName
	if first == "" {
		t.Fatal("first Execute never observed a script file")
	}

	if _, err := m.Execute(context.Background(), "package main\n", 0); err != nil {
		t.Fatalf("Execute #2: %v", err)
	}
	second := docker.seenScriptName
	if second == "" {
		t.Fatal("second Execute never observed a script file")
	}

	if first == second {
		t.Fatalf("expected distinct script filenames across calls, got %q both times", first)
	}
}

func TestManagerExecuteCleansUpScriptFileEvenOnExecFailure(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv, execErr: errors.New("exec failed")}
	m := testManager(t, docker)
	docker.workspaceRoot = m.cfg.WorkspaceRoot

	if _, err := m.Execute(context.Background(), "package main\n", 0); err == nil {
		t.Fatal("expected error from Execute")
	}
	if docker.seenScriptName == "" {
		t.Fatal("exec never observed a script file before failing")
	}

	leftover, err := os.ReadDir(m.cfg.WorkspaceRoot)
	if err != nil {
		t.Fatalf("ReadDir workspace: %v", err)
	}
	for _, e := range leftover {
		if strings.HasPrefix(e.Name(), "script-") && strings.HasSuffix(e.Name(), ".go") {
			t.Fatalf("script file %s still present after a failed Execute, want removed", e.Name())
		}
	}
}

func TestManagerEnsureWritesWorkspaceGoModForScriptImports(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv}
	m := testManager(t, docker)

	if err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	goModPath := filepath.Join(m.cfg.WorkspaceRoot, "go.mod")
	data, err := os.ReadFile(goModPath)
	if err != nil {
		t.Fatalf("workspace go.mod was not written: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, moduleImportPath) {
		t.Fatalf("workspace go.mod = %q, want it to require %s", content, moduleImportPath)
	}
	if !strings.Contains(content, "replace "+moduleImportPath+" => "+containerModDir) {
		t.Fatalf("workspace go.mod = %q, want a replace directive pointing at %s", content, containerModDir)
	}
}

func TestManagerEnsureDoesNotOverwriteExistingWorkspaceGoMod(t *testing.T) {
	srv := newHealthyServer(t)
	defer srv.Close()

	docker := &fakeDocker{healthServer: srv}
	m := testManager(t, docker)

	goModPath := filepath.Join(m.cfg.WorkspaceRoot, "go.mod")
	custom := "module custom\n\ngo 1.24\n"
	if err := os.WriteFile(goModPath, []byte(custom), 0o644); err != nil {
		t.Fatalf("seed go.mod: %v", err)
	}

	if err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	data, err := os.ReadFile(goModPath)
	if err != nil {
		t.Fatalf("ReadFile go.mod: %v", err)
	}
	if string(data) != custom {
		t.Fatalf("go.mod = %q, want untouched %q", string(data), custom)
	}
}
