// Package docker is the controller's contract with the container runtime.
// Every component that creates or observes containers goes through this
// client; it owns label conventions and controller-to-host path
// translation.
package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// Labels identifying containers owned by this controller.
const (
	LabelManaged   = "easycicd.managed"
	LabelProject   = "easycicd.project"
	LabelSlot      = "easycicd.slot"
	LabelBuild     = "easycicd.build"
	LabelContainer = "easycicd.container"
)

// Sentinel errors for the driver taxonomy.
var (
	ErrImageUnavailable  = errors.New("image unavailable")
	ErrResourceConflict  = errors.New("container name or port already taken")
	ErrDriverUnavailable = errors.New("container runtime unavailable")
	ErrNotFound          = errors.New("container not found")
)

// Client wraps the Docker Engine API client.
type Client struct {
	cli   *client.Client
	paths *HostPathTranslator
}

// Options configures the client.
type Options struct {
	// Host overrides the control socket address; empty uses the
	// environment (DOCKER_HOST et al).
	Host string
	// HostPaths maps controller-local path prefixes to the host's view
	// for bind mount translation.
	HostPaths map[string]string
}

// New creates a Docker client.
func New(opts Options) (*Client, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Client{cli: cli, paths: NewHostPathTranslator(opts.HostPaths)}, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping verifies the runtime is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
	}
	return nil
}

// EnsureImage pulls the image unless it is already present. Progress
// lines from the pull are forwarded to progress (may be nil).
func (c *Client) EnsureImage(ctx context.Context, imageRef string, progress func(line string)) error {
	if _, _, err := c.cli.ImageInspectWithRaw(ctx, imageRef); err == nil {
		return nil
	}

	reader, err := c.cli.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", imageRef, classify(err, ErrImageUnavailable))
	}
	defer reader.Close()

	// The pull stream is JSON lines of progress messages.
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if progress == nil {
			continue
		}
		var msg struct {
			Status   string `json:"status"`
			Progress string `json:"progress"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return fmt.Errorf("pulling %s: %s: %w", imageRef, msg.Error, ErrImageUnavailable)
		}
		line := msg.Status
		if msg.Progress != "" {
			line += " " + msg.Progress
		}
		if line != "" {
			progress(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading pull stream for %s: %w", imageRef, err)
	}
	return nil
}

// CreateAndStart creates and starts a container from the spec, returning
// its handle. The created container is removed again when start fails.
func (c *Client) CreateAndStart(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg, hostCfg, err := spec.apply(c.paths)
	if err != nil {
		return "", err
	}

	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", spec.Name, classifyCreate(err))
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Don't leave a created-but-dead container behind.
		_ = c.Remove(context.WithoutCancel(ctx), resp.ID)
		return "", fmt.Errorf("starting container %s: %w", spec.Name, classifyCreate(err))
	}

	return resp.ID, nil
}

// Stop sends a graceful stop and force-kills after grace. Stopping an
// already-stopped or missing container succeeds.
func (c *Client) Stop(ctx context.Context, handle string, grace time.Duration) error {
	secs := int(grace.Seconds())
	err := c.cli.ContainerStop(ctx, handle, container.StopOptions{Timeout: &secs})
	if err != nil && !errdefs.IsNotFound(err) && !errdefs.IsNotModified(err) {
		return fmt.Errorf("stopping container: %w", classify(err, nil))
	}
	return nil
}

// Remove force-removes a container. A missing container is success.
func (c *Client) Remove(ctx context.Context, handle string) error {
	err := c.cli.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing container: %w", classify(err, nil))
	}
	return nil
}

// Wait blocks until the container exits and returns its exit code.
func (c *Client) Wait(ctx context.Context, handle string) (int, error) {
	statusCh, errCh := c.cli.ContainerWait(ctx, handle, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("waiting for container: %w", classify(err, nil))
	case status := <-statusCh:
		if status.Error != nil {
			return -1, fmt.Errorf("waiting for container: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// State describes a container as seen by the runtime.
type State struct {
	Status    Status
	StartedAt time.Time
}

// Status is the coarse container condition the core cares about.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusMissing Status = "missing"
)

// Inspect returns a container's coarse state. A handle the runtime no
// longer knows reports StatusMissing without error.
func (c *Client) Inspect(ctx context.Context, handle string) (State, error) {
	info, err := c.cli.ContainerInspect(ctx, handle)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return State{Status: StatusMissing}, nil
		}
		return State{}, fmt.Errorf("inspecting container: %w", classify(err, nil))
	}

	st := State{Status: StatusStopped}
	if info.State != nil && info.State.Running {
		st.Status = StatusRunning
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			st.StartedAt = t
		}
	}
	return st, nil
}

// ExitCode returns the recorded exit code of a stopped container.
func (c *Client) ExitCode(ctx context.Context, handle string) (int, error) {
	info, err := c.cli.ContainerInspect(ctx, handle)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return -1, ErrNotFound
		}
		return -1, fmt.Errorf("inspecting container: %w", classify(err, nil))
	}
	if info.State == nil {
		return -1, fmt.Errorf("container %s has no state", handle)
	}
	return info.State.ExitCode, nil
}

// Owned describes one controller-owned container observed at the runtime.
type Owned struct {
	Handle    string
	Name      string
	Labels    map[string]string
	Running   bool
	HostPorts []int
}

// ListOwned returns every container carrying the controller's managed
// label, running or not.
func (c *Client) ListOwned(ctx context.Context) ([]Owned, error) {
	args := filters.NewArgs(filters.Arg("label", LabelManaged+"=true"))
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", classify(err, nil))
	}

	result := make([]Owned, 0, len(containers))
	for _, ctr := range containers {
		o := Owned{
			Handle:  ctr.ID,
			Labels:  ctr.Labels,
			Running: ctr.State == "running",
		}
		if len(ctr.Names) > 0 {
			o.Name = trimSlash(ctr.Names[0])
		}
		for _, p := range ctr.Ports {
			if p.PublicPort > 0 {
				o.HostPorts = append(o.HostPorts, int(p.PublicPort))
			}
		}
		result = append(result, o)
	}
	return result, nil
}

// BoundPorts returns every host port bound by any running container,
// owned or not. The port registry treats these as unavailable.
func (c *Client) BoundPorts(ctx context.Context) (map[int]bool, error) {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", classify(err, nil))
	}

	bound := make(map[int]bool)
	for _, ctr := range containers {
		for _, p := range ctr.Ports {
			if p.PublicPort > 0 {
				bound[int(p.PublicPort)] = true
			}
		}
	}
	return bound, nil
}

// classify maps a Docker API error onto the driver taxonomy. fallback, if
// non-nil, is joined for callers that want a specific kind.
func classify(err error, fallback error) error {
	switch {
	case err == nil:
		return nil
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errdefs.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrResourceConflict, err)
	case fallback != nil:
		return fmt.Errorf("%w: %v", fallback, err)
	default:
		return err
	}
}

func classifyCreate(err error) error {
	switch {
	case err == nil:
		return nil
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
	case errdefs.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrResourceConflict, err)
	case errdefs.IsNotFound(err):
		// Create with a missing image reports not-found.
		return fmt.Errorf("%w: %v", ErrImageUnavailable, err)
	default:
		return err
	}
}

func trimSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

// drainClose discards remaining stream content and closes. Used by log
// and exec streams on cancellation.
func drainClose(rc io.ReadCloser) {
	go func() {
		_, _ = io.Copy(io.Discard, rc)
		_ = rc.Close()
	}()
}
