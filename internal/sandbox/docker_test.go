package sandbox

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

type fakeDockerAPI struct {
	createErr error
	startErr  error
	waitErr   error
	exitCode  int64
	stdout    string
	removed   []string
}

func (f *fakeDockerAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	return container.CreateResponse{ID: "fake-id"}, nil
}

func (f *fakeDockerAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return f.startErr
}

func (f *fakeDockerAPI) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.waitErr != nil {
		errCh <- f.waitErr
	} else {
		statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return statusCh, errCh
}

func (f *fakeDockerAPI) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	// A non-TTY container's log stream is multiplexed; frame the canned
	// stdout the same way so Sandbox's stdcopy.StdCopy can split it.
	var buf bytes.Buffer
	if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout)); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDockerAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.removed = append(f.removed, containerID)
	return nil
}

func testAllowList(t *testing.T) *AllowList {
	t.Helper()
	al, err := NewAllowList([]Entry{{Command: "go", Args: []string{"test", "./..."}}})
	if err != nil {
		t.Fatalf("NewAllowList() error = %v", err)
	}
	return al
}

func TestSandboxRunRejectsCommandNotAllowListed(t *testing.T) {
	sb, err := New(&fakeDockerAPI{}, "chakravarti-sandbox:latest", testAllowList(t), "", 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, _, _, err = sb.Run(context.Background(), "/tmp/wt", []string{"rm", "-rf", "/"})
	if !model.IsKind(err, model.KindNotAllowed) {
		t.Fatalf("Run() error = %v, want KindNotAllowed", err)
	}
}

func TestSandboxRunRejectsEmptyArgv(t *testing.T) {
	sb, err := New(&fakeDockerAPI{}, "chakravarti-sandbox:latest", testAllowList(t), "", 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, _, _, err := sb.Run(context.Background(), "/tmp/wt", nil); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestSandboxRunAlwaysRemovesContainer(t *testing.T) {
	api := &fakeDockerAPI{exitCode: 0, stdout: "ok"}
	sb, err := New(api, "chakravarti-sandbox:latest", testAllowList(t), "", 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	stdout, _, exitCode, err := sb.Run(context.Background(), "/tmp/wt", []string{"go", "test", "./..."})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if exitCode != 0 {
		t.Errorf("exitCode = %d, want 0", exitCode)
	}
	if stdout != "ok" {
		t.Errorf("stdout = %q, want %q", stdout, "ok")
	}
	if len(api.removed) != 1 || api.removed[0] != "fake-id" {
		t.Errorf("removed = %v, want container removed exactly once", api.removed)
	}
}

func TestSandboxRunNonZeroExitIsNotAnError(t *testing.T) {
	api := &fakeDockerAPI{exitCode: 1, stdout: "FAIL"}
	sb, err := New(api, "chakravarti-sandbox:latest", testAllowList(t), "", 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, _, exitCode, err := sb.Run(context.Background(), "/tmp/wt", []string{"go", "test", "./..."})
	if err != nil {
		t.Fatalf("Run() returned error for a non-zero exit, want nil error with exitCode set: %v", err)
	}
	if exitCode != 1 {
		t.Errorf("exitCode = %d, want 1", exitCode)
	}
}

func TestSandboxRunSurfacesCreateFailureAsSandboxUnavailable(t *testing.T) {
	api := &fakeDockerAPI{createErr: io.ErrClosedPipe}
	sb, err := New(api, "chakravarti-sandbox:latest", testAllowList(t), "", 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, _, _, err = sb.Run(context.Background(), "/tmp/wt", []string{"go", "test", "./..."})
	if !model.IsKind(err, model.KindSandboxUnavailable) {
		t.Fatalf("Run() error = %v, want KindSandboxUnavailable", err)
	}
}
