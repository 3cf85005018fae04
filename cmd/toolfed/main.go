// Command toolfed is the one-shot bootstrap entry point described in
// spec.md §4.H: read config, construct the federation proxy, run backend
// discovery, run the binding generator, bring up the sandbox manager,
// and hand the façade to the calling model over MCP stdio. Grounded on
// cklxx-elephant.ai's cobra_cli.go root-command wiring and
// Aureuma-si's credentials-mcp/main.go mcp.NewServer/mcp.AddTool shape.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/basaltrun/toolfed"
	"github.com/basaltrun/toolfed/backend"
	"github.com/basaltrun/toolfed/backend/sse"
	"github.com/basaltrun/toolfed/backend/stdio"
	"github.com/basaltrun/toolfed/backend/streamhttp"
	"github.com/basaltrun/toolfed/bindings"
	"github.com/basaltrun/toolfed/config"
	"github.com/basaltrun/toolfed/facade"
	"github.com/basaltrun/toolfed/federation"
	"github.com/basaltrun/toolfed/oauthbroker"
	"github.com/basaltrun/toolfed/sandbox"
	"github.com/basaltrun/toolfed/workspace"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "toolfed",
		Short: "Tool federation gateway: one meta-tool façade over many MCP backends",
	}
	root.AddCommand(newServeCmd(), newSandboxdCmd())
	return root
}

// newServeCmd wires the full host-side stack per spec.md §4.H and
// serves the façade's four meta-operations to an upstream MCP client
// over stdio.
func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bootstrap the federation gateway and serve its façade over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to toolfed.yaml (searches . and $HOME if unset)")
	return cmd
}

func runServe(parentCtx context.Context, configPath string) error {
	log := slog.Default()

	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ws, err := workspace.Ensure(cfg.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("cmd/toolfed: bootstrap workspace: %w", err)
	}

	connectors, err := buildConnectors(cfg)
	if err != nil {
		return err
	}

	proxy := federation.New(log)
	proxy.Discover(ctx, connectors)

	gen, err := bindings.NewGenerator()
	if err != nil {
		return fmt.Errorf("cmd/toolfed: compile binding templates: %w", err)
	}
	files, err := gen.Generate(proxy.ListTools())
	if err != nil {
		return fmt.Errorf("cmd/toolfed: generate bindings: %w", err)
	}
	if err := writeGeneratedFiles(cfg.BindingsOutputDir, files); err != nil {
		return fmt.Errorf("cmd/toolfed: write bindings: %w", err)
	}

	docker, err := sandbox.NewDockerRunner()
	if err != nil {
		return fmt.Errorf("cmd/toolfed: connect to container runtime: %w", err)
	}
	defer docker.Close()

	mgr := sandbox.NewManager(docker, sandbox.ManagerConfig{
		Image:         cfg.Sandbox.Image,
		WorkspaceRoot: ws.Root(),
		ModuleRoot:    cfg.ModuleRoot,
		ProxyPort:     cfg.Sandbox.ProxyPort,
		RedirectPort:  cfg.Sandbox.RedirectPort,
		Logger:        log,
	})
	if err := mgr.Ensure(ctx); err != nil {
		// Non-fatal: list_tool_names/get_tool_definition/search_tools stay
		// usable without a sandbox; execute_script retries Ensure itself on
		// its next call.
		log.Warn("sandbox not ready at startup, will retry on first execute_script", "error", err)
	}
	defer func() { _ = mgr.Shutdown(context.Background()) }()

	var selector facade.Selector
	if cfg.Selector.Model != "" {
		selector = facade.NewOpenAISelector(os.Getenv("OPENAI_API_KEY"), cfg.Selector.Model)
	}

	fac := facade.New(proxy.Catalog(), managerScriptRunner{mgr: mgr}, selector)

	return serveMCP(ctx, fac)
}

// newSandboxdCmd runs the in-container half of the federation: its own
// independent proxy, discovering its own backend set and serving it
// over loopback HTTP for generated bindings to call. Per spec.md §9 the
// host-side and in-container proxies never communicate directly; this
// is the command sandbox/recipe/entrypoint.sh backgrounds at container
// start.
func newSandboxdCmd() *cobra.Command {
	var (
		addr       string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "sandboxd",
		Short: "Run the in-sandbox federation proxy over loopback HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSandboxd(cmd.Context(), addr, configPath)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0:8765", "listen address for the in-container proxy")
	cmd.Flags().StringVarP(&configPath, "config", "c", "/workspace/backends.yaml", "path to the backend descriptor config")
	return cmd
}

func runSandboxd(parentCtx context.Context, addr, configPath string) error {
	log := slog.Default()

	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	connectors, err := buildConnectors(cfg)
	if err != nil {
		return err
	}

	proxy := federation.New(log)
	proxy.Discover(ctx, connectors)

	srv := federation.NewServer(proxy, log)
	return srv.Serve(ctx, addr)
}

// buildConnectors constructs one backend.Connector per configured
// descriptor. Shared by serve and sandboxd since both run their own,
// independent discovery against the same backend set.
func buildConnectors(cfg *config.Config) ([]backend.Connector, error) {
	var auth backend.AuthBroker
	if meta := cfg.OAuthMetadata(); len(meta) > 0 {
		auth = oauthbroker.New(cfg.OAuthRoot, meta, &oauthbroker.HTTPRegistrar{})
	}

	descriptors := cfg.Descriptors()
	connectors := make([]backend.Connector, 0, len(descriptors))
	for _, d := range descriptors {
		switch d.Transport {
		case toolfed.TransportLocal, "":
			argv := append([]string{d.Command}, d.Argv...)
			connectors = append(connectors, stdio.New(d.Name, argv))
		case toolfed.TransportSSE:
			connectors = append(connectors, sse.New(d.Name, d.URL, auth))
		case toolfed.TransportStreamableHTTP:
			connectors = append(connectors, streamhttp.New(d.Name, d.URL, auth))
		default:
			return nil, fmt.Errorf("cmd/toolfed: backend %q: unknown transport %q", d.Name, d.Transport)
		}
	}
	return connectors, nil
}

func writeGeneratedFiles(outputDir string, files []bindings.GeneratedFile) error {
	for _, f := range files {
		path := filepath.Join(outputDir, f.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// managerScriptRunner adapts *sandbox.Manager to facade.ScriptRunner,
// translating the sandbox package's ContainerResult/error vocabulary
// into the façade's completed/timed_out/failed state machine.
type managerScriptRunner struct {
	mgr *sandbox.Manager
}

func (r managerScriptRunner) Execute(ctx context.Context, code string, timeoutMS int) (facade.ExecuteResult, error) {
	result, err := r.mgr.Execute(ctx, code, timeoutMS)
	if err != nil {
		if errors.Is(err, sandbox.ErrScriptTimeout) {
			return facade.ExecuteResult{
				State:    "timed_out",
				Stdout:   result.Stdout,
				Stderr:   result.Stderr,
				ExitCode: result.ExitCode,
			}, nil
		}
		return facade.ExecuteResult{State: "failed"}, err
	}

	state := "completed"
	if result.ExitCode != 0 {
		state = "failed"
	}
	return facade.ExecuteResult{
		State:    state,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
	}, nil
}

var _ facade.ScriptRunner = managerScriptRunner{}
