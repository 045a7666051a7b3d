package taskrun

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// dockerClient implements ContainerClient on the Docker Engine API. The SDK
// client is safe for concurrent use, which the watchdog relies on.
type dockerClient struct {
	api *client.Client
}

// NewDockerClient connects to the Docker daemon using the standard
// environment (DOCKER_HOST and friends). The connection is lazy: an
// unreachable daemon surfaces on the first call, i.e. at image pull.
func NewDockerClient() (ContainerClient, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("configuring the container runtime client: %w", err)
	}
	return &dockerClient{api: api}, nil
}

// normalizeImageRef appends the default "latest" tag when the reference
// carries neither a tag nor a digest, so a pull fetches one image rather
// than every tag in the repository.
func normalizeImageRef(ref string) string {
	remainder := ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		remainder = ref[i+1:]
	}
	if strings.ContainsAny(remainder, ":@") {
		return ref
	}
	return ref + ":latest"
}

func (d *dockerClient) PullImage(ctx context.Context, ref string) (string, error) {
	ref = normalizeImageRef(ref)

	rc, err := d.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("pulling image %q: %w", ref, err)
	}
	// The pull happens while the progress stream is drained.
	_, copyErr := io.Copy(io.Discard, rc)
	rc.Close()
	if copyErr != nil {
		return "", fmt.Errorf("pulling image %q: %w", ref, copyErr)
	}

	inspect, _, err := d.api.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("inspecting pulled image %q: %w", ref, err)
	}
	return inspect.ID, nil
}

func (d *dockerClient) Run(ctx context.Context, imageID string, command []string, user string, mounts []BindMount) (string, error) {
	cfg := &container.Config{
		Image: imageID,
		Cmd:   strslice.StrSlice(command),
		User:  user,
	}
	hostCfg := &container.HostConfig{
		Mounts: make([]mount.Mount, 0, len(mounts)),
	}
	for _, m := range mounts {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: strings.TrimSuffix(m.Source, "/"),
			Target: strings.TrimSuffix(m.Target, "/"),
		})
	}

	created, err := d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("creating the container: %w", err)
	}
	if err := d.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting the container: %w", err)
	}
	return created.ID, nil
}

func (d *dockerClient) StreamLogs(ctx context.Context, containerID string, sink LogSink) error {
	rc, err := d.api.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("attaching to the container logs: %w", err)
	}
	defer rc.Close()

	// Stdout and stderr frames interleave on one multiplexed stream; both
	// feed the same ordered sink.
	lw := &lineWriter{sink: sink}
	defer lw.flush()
	if _, err := stdcopy.StdCopy(lw, lw, rc); err != nil {
		return fmt.Errorf("streaming the container logs: %w", err)
	}
	return nil
}

func (d *dockerClient) Wait(ctx context.Context, containerID string, timeout time.Duration) (int, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := d.api.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case err := <-errCh:
		return 0, fmt.Errorf("waiting for the container to exit: %w", err)
	}
}

func (d *dockerClient) ForceStop(ctx context.Context, containerID string) error {
	if err := d.api.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("stopping the container: %w", err)
	}
	return nil
}

func (d *dockerClient) Inspect(ctx context.Context, containerID string) (ContainerState, error) {
	info, err := d.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return ContainerState{}, fmt.Errorf("inspecting the container: %w", err)
	}
	state := ContainerState{}
	if info.State != nil {
		state.Running = info.State.Running
		state.OOMKilled = info.State.OOMKilled
	}
	return state, nil
}

func (d *dockerClient) Remove(ctx context.Context, containerID string) error {
	if err := d.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("removing the container: %w", err)
	}
	return nil
}

// lineWriter splits a byte stream into lines for a LogSink. StdCopy may
// deliver partial lines, so incomplete input is buffered until the next
// newline or a final flush.
type lineWriter struct {
	sink LogSink
	buf  []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.sink(string(w.buf[:i+1]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.sink(string(w.buf))
		w.buf = nil
	}
}
