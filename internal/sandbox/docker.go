// Package sandbox runs a single allow-listed command to completion inside a
// Docker container and reports its stdout, stderr, and exit code. Unlike a
// long-running dispatch backend, every call to Run is a synchronous
// create-start-wait-remove cycle: the container never outlives the call.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

// DockerAPI is the narrow slice of *client.Client the Sandbox needs, so
// tests can substitute a fake without a live daemon.
type DockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Sandbox runs allow-listed commands against a worktree inside disposable
// containers. It satisfies internal/verifier.CommandRunner.
type Sandbox struct {
	cli         DockerAPI
	image       string
	allowList   *AllowList
	credDir     string
	stepTimeout time.Duration
}

// New constructs a Sandbox. image is the container image every command runs
// in; credDir (may be empty) is mounted read-only at /credentials for
// commands that need provider API keys or other secrets; stepTimeout bounds
// how long a single Run call may take before it is killed and reported as
// KindStepTimeout.
func New(cli DockerAPI, image string, allowList *AllowList, credDir string, stepTimeout time.Duration) (*Sandbox, error) {
	if cli == nil {
		return nil, fmt.Errorf("sandbox: docker client is required")
	}
	if allowList == nil {
		return nil, fmt.Errorf("sandbox: allow list is required")
	}
	if image == "" {
		return nil, fmt.Errorf("sandbox: image is required")
	}
	if stepTimeout <= 0 {
		stepTimeout = 10 * time.Minute
	}
	return &Sandbox{cli: cli, image: image, allowList: allowList, credDir: credDir, stepTimeout: stepTimeout}, nil
}

// Run executes argv[0] (which must be allow-listed) with the remaining
// elements as its arguments, inside a fresh container with worktreePath bind
// mounted read-write at /workspace. The container is always removed before
// Run returns, whether it succeeded, failed, or timed out.
func (s *Sandbox) Run(ctx context.Context, worktreePath string, argv []string) (string, string, int, error) {
	if len(argv) == 0 {
		return "", "", 0, model.New(model.KindInvalidRequest, "sandbox.Run", "argv is empty")
	}
	if _, err := s.allowList.Resolve(argv[0], Vars{Worktree: worktreePath}); err != nil {
		return "", "", 0, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: worktreePath, Target: "/workspace"},
	}
	if s.credDir != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: s.credDir, Target: "/credentials", ReadOnly: true})
	}

	cfg := &container.Config{
		Image:      s.image,
		Cmd:        argv,
		WorkingDir: "/workspace",
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		Mounts:     mounts,
		AutoRemove: false,
	}

	created, err := s.cli.ContainerCreate(runCtx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", "", 0, model.Wrap(model.KindSandboxUnavailable, "sandbox.Run", "create container", err)
	}
	defer func() {
		removeCtx, removeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer removeCancel()
		_ = s.cli.ContainerRemove(removeCtx, created.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}()

	if err := s.cli.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return "", "", 0, model.Wrap(model.KindSandboxUnavailable, "sandbox.Run", "start container", err)
	}

	statusCh, errCh := s.cli.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if runCtx.Err() != nil {
			return "", "", 0, model.New(model.KindStepTimeout, "sandbox.Run", "command exceeded step timeout")
		}
		if err != nil {
			return "", "", 0, model.Wrap(model.KindSandboxUnavailable, "sandbox.Run", "wait for container", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	stdout, stderr, err := s.captureLogs(created.ID)
	if err != nil {
		return "", "", exitCode, model.Wrap(model.KindSandboxUnavailable, "sandbox.Run", "capture container logs", err)
	}

	return stdout, stderr, exitCode, nil
}

func (s *Sandbox) captureLogs(containerID string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logs, err := s.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", err
	}
	return stdout.String(), stderr.String(), nil
}

// NewDockerClient builds a Docker API client from the environment, the way
// every caller in this package expects to construct one.
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, model.Wrap(model.KindSandboxUnavailable, "sandbox.NewDockerClient", "initialize docker client", err)
	}
	return cli, nil
}
