package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// DockerRunner is the one concrete ContainerRunner/ImageResolver/
// HealthChecker this repo ships, wrapping the Docker Engine API client.
// The teacher's backend/docker package defines these interfaces as a
// pluggable seam and leaves them unimplemented; this type finishes the
// wiring, adapted from a pack example's own Docker client (NewClient,
// ContainerByLabels, Exec, CopyFileToContainer, Logs, RemoveContainer).
// It additionally exposes the long-lived-container operations the
// sandbox manager needs (StartDetached, ExecIn, ContainersByLabel,
// Stop) beyond the one-shot ContainerRunner.Run used for atomic,
// single-command executions.
type DockerRunner struct {
	api *client.Client
}

// NewDockerRunner connects to the Docker daemon using the standard
// environment variables (DOCKER_HOST, DOCKER_CERT_PATH, ...).
func NewDockerRunner() (*DockerRunner, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDockerNotAvailable, err)
	}
	return &DockerRunner{api: api}, nil
}

// Close releases the underlying client connection.
func (d *DockerRunner) Close() error {
	if d == nil || d.api == nil {
		return nil
	}
	return d.api.Close()
}

var (
	_ ContainerRunner = (*DockerRunner)(nil)
	_ ImageResolver   = (*DockerRunner)(nil)
	_ HealthChecker   = (*DockerRunner)(nil)
)

// Ping checks Docker daemon availability.
func (d *DockerRunner) Ping(ctx context.Context) error {
	if _, err := d.api.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	return nil
}

// Info returns daemon metadata.
func (d *DockerRunner) Info(ctx context.Context) (DaemonInfo, error) {
	info, err := d.api.Info(ctx)
	if err != nil {
		return DaemonInfo{}, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	return DaemonInfo{
		Version:      info.ServerVersion,
		APIVersion:   d.api.ClientVersion(),
		OS:           info.OperatingSystem,
		Architecture: info.Architecture,
		RootDir:      info.DockerRootDir,
	}, nil
}

// Resolve checks whether imageRef exists locally, pulling it if absent.
func (d *DockerRunner) Resolve(ctx context.Context, imageRef string) (string, error) {
	if _, _, err := d.api.ImageInspectWithRaw(ctx, imageRef); err == nil {
		return imageRef, nil
	} else if !client.IsErrNotFound(err) {
		return "", fmt.Errorf("sandbox: inspect image %s: %w", imageRef, err)
	}

	rc, err := d.api.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: pull %s: %v", ErrImageNotFound, imageRef, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return "", fmt.Errorf("%w: pull %s: %v", ErrImageNotFound, imageRef, err)
	}
	return imageRef, nil
}

// Run executes spec atomically: create, start, wait, capture logs,
// remove. Used for one-shot executions where no long-lived container
// is needed.
func (d *DockerRunner) Run(ctx context.Context, spec ContainerSpec) (ContainerResult, error) {
	if err := spec.Validate(); err != nil {
		return ContainerResult{}, fmt.Errorf("%w: %v", ErrContainerFailed, err)
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cfg, hostCfg := toDockerConfig(spec)
	start := time.Now()

	created, err := d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return ContainerResult{}, fmt.Errorf("%w: create: %v", ErrContainerFailed, err)
	}
	id := created.ID
	defer func() {
		_ = d.api.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}()

	if err := d.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return ContainerResult{}, fmt.Errorf("%w: start: %v", ErrContainerFailed, err)
	}

	statusCh, errCh := d.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return ContainerResult{}, fmt.Errorf("%w: wait: %v", ErrContainerFailed, err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		return ContainerResult{}, ctx.Err()
	}

	stdout, stderr, err := d.fetchLogs(context.Background(), id)
	if err != nil {
		return ContainerResult{}, fmt.Errorf("%w: logs: %v", ErrContainerFailed, err)
	}
	return ContainerResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr, Duration: time.Since(start)}, nil
}

func (d *DockerRunner) fetchLogs(ctx context.Context, id string) (string, string, error) {
	reader, err := d.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil && !errors.Is(err, io.EOF) {
		return stdout.String(), stderr.String(), err
	}
	return stdout.String(), stderr.String(), nil
}

// ContainersByLabel lists every container (running or stopped) carrying
// every given label, used by the sandbox manager's orphan cleanup pass.
func (d *DockerRunner) ContainersByLabel(ctx context.Context, labels map[string]string) ([]string, error) {
	args := filters.NewArgs()
	for key, val := range labels {
		if key == "" {
			continue
		}
		args.Add("label", key+"="+val)
	}
	list, err := d.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("sandbox: list containers: %w", err)
	}
	ids := make([]string, 0, len(list))
	for _, item := range list {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// StartDetached creates and starts a long-lived container from spec
// without waiting for it to exit, returning its ID. Used to launch the
// sandbox's idle primary process.
func (d *DockerRunner) StartDetached(ctx context.Context, spec ContainerSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrContainerFailed, err)
	}
	cfg, hostCfg := toDockerConfig(spec)

	created, err := d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("%w: create: %v", ErrContainerFailed, err)
	}
	if err := d.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = d.api.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("%w: start: %v", ErrContainerFailed, err)
	}
	return created.ID, nil
}

// ExecOptions configures an in-container exec.
type ExecOptions struct {
	Env     []string
	WorkDir string
	User    string
}

// ExecIn runs cmd inside the already-running container id, feeding it
// stdin and capturing stdout/stderr/exit code. Grounded directly on the
// pack's own Client.Exec, generalized to return an exit code instead of
// a bare non-zero error, since the sandbox manager needs the script's
// actual exit code rather than just pass/fail.
func (d *DockerRunner) ExecIn(ctx context.Context, containerID string, cmd []string, opts ExecOptions, stdin io.Reader) (ContainerResult, error) {
	if strings.TrimSpace(containerID) == "" {
		return ContainerResult{}, errors.New("sandbox: container id required")
	}
	if len(cmd) == 0 {
		return ContainerResult{}, errors.New("sandbox: command required")
	}

	start := time.Now()
	execResp, err := d.api.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  stdin != nil,
		Cmd:          cmd,
		Env:          opts.Env,
		WorkingDir:   opts.WorkDir,
		User:         opts.User,
	})
	if err != nil {
		return ContainerResult{}, fmt.Errorf("%w: exec create: %v", ErrContainerFailed, err)
	}

	attach, err := d.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return ContainerResult{}, fmt.Errorf("%w: exec attach: %v", ErrContainerFailed, err)
	}
	defer attach.Close()

	stdinErrCh := make(chan error, 1)
	go func() {
		if stdin == nil {
			stdinErrCh <- nil
			return
		}
		_, err := io.Copy(attach.Conn, stdin)
		if cw, ok := attach.Conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
		stdinErrCh <- err
	}()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && !errors.Is(err, io.EOF) {
		return ContainerResult{Stdout: stdout.String(), Stderr: stderr.String()}, fmt.Errorf("%w: exec output: %v", ErrContainerFailed, err)
	}
	if err := <-stdinErrCh; err != nil {
		return ContainerResult{}, fmt.Errorf("%w: exec stdin: %v", ErrContainerFailed, err)
	}

	inspect, err := d.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ContainerResult{Stdout: stdout.String(), Stderr: stderr.String()}, fmt.Errorf("%w: exec inspect: %v", ErrContainerFailed, err)
	}

	return ContainerResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}, nil
}

// HostPortFor returns the host port bound to containerPort/protocol on
// the running container, used to discover the sandbox's published
// OAuth-redirect and proxy ports after start.
func (d *DockerRunner) HostPortFor(ctx context.Context, containerID string, containerPort int, protocol string) (string, error) {
	if protocol == "" {
		protocol = "tcp"
	}
	info, err := d.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("sandbox: inspect %s: %w", containerID, err)
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("sandbox: container %s has no network settings", containerID)
	}
	key := nat.Port(fmt.Sprintf("%d/%s", containerPort, protocol))
	bindings, ok := info.NetworkSettings.Ports[key]
	if !ok || len(bindings) == 0 {
		return "", fmt.Errorf("sandbox: no host port bound for %s", key)
	}
	for _, binding := range bindings {
		if strings.TrimSpace(binding.HostPort) != "" {
			return binding.HostPort, nil
		}
	}
	return "", fmt.Errorf("sandbox: no host port bound for %s", key)
}

// Stop stops and removes containerID, best-effort.
func (d *DockerRunner) Stop(ctx context.Context, containerID string) error {
	timeout := 5
	_ = d.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	return d.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

func toDockerConfig(spec ContainerSpec) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		Labels:     spec.Labels,
		User:       spec.Security.User,
	}

	networkMode := spec.Security.NetworkMode
	if networkMode == "" {
		networkMode = "bridge"
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    spec.Resources.MemoryBytes,
			CPUQuota:  spec.Resources.CPUQuota,
			PidsLimit: pidsLimitPtr(spec.Resources.PidsLimit),
		},
		ReadonlyRootfs: spec.Security.ReadOnlyRootfs,
		NetworkMode:    container.NetworkMode(networkMode),
		Privileged:     spec.Security.Privileged,
	}
	if spec.Security.SeccompProfile != "" {
		hostCfg.SecurityOpt = []string{"seccomp=" + spec.Security.SeccompProfile}
	}
	for _, m := range spec.Mounts {
		hostCfg.Mounts = append(hostCfg.Mounts, toDockerMount(m))
	}
	if len(spec.PublishPorts) > 0 {
		cfg.ExposedPorts = make(nat.PortSet, len(spec.PublishPorts))
		hostCfg.PortBindings = make(nat.PortMap, len(spec.PublishPorts))
		for _, p := range spec.PublishPorts {
			protocol := p.Protocol
			if protocol == "" {
				protocol = "tcp"
			}
			port := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, protocol))
			cfg.ExposedPorts[port] = struct{}{}
			hostCfg.PortBindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1"}}
		}
	}
	return cfg, hostCfg
}

// BuildImage builds tag from the given build context tarball if it does
// not already exist locally. dockerfilePath is the Dockerfile's path
// relative to the root of buildContext.
func (d *DockerRunner) BuildImage(ctx context.Context, tag string, buildContext io.Reader, dockerfilePath string) error {
	if _, _, err := d.api.ImageInspectWithRaw(ctx, tag); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("sandbox: inspect image %s: %w", tag, err)
	}

	resp, err := d.api.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfilePath,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("%w: build %s: %v", ErrImageNotFound, tag, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("%w: build %s: %v", ErrImageNotFound, tag, err)
	}
	return nil
}

func toDockerMount(m Mount) mount.Mount {
	out := mount.Mount{
		Target:   m.Target,
		Source:   m.Source,
		ReadOnly: m.ReadOnly,
	}
	switch m.Type {
	case MountTypeVolume:
		out.Type = mount.TypeVolume
	case MountTypeTmpfs:
		out.Type = mount.TypeTmpfs
	default:
		out.Type = mount.TypeBind
	}
	if m.Consistency != "" {
		out.Consistency = mount.Consistency(m.Consistency)
	}
	return out
}

func pidsLimitPtr(limit int64) *int64 {
	if limit <= 0 {
		return nil
	}
	return &limit
}
