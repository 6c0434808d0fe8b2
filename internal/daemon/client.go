package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

// Client talks to a running daemon over its unix socket.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a daemon client for the given socket path.
func NewClient(sockPath string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", sockPath)
				},
			},
		},
	}
}

// Health returns the daemon's health summary.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProject registers a project.
func (c *Client) CreateProject(ctx context.Context, spec store.ProjectSpec) (*store.Project, error) {
	var out store.Project
	if err := c.do(ctx, http.MethodPost, "/v1/projects", spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProjects returns all projects with their latest build.
func (c *Client) ListProjects(ctx context.Context) ([]ProjectStatus, error) {
	var out []ProjectStatus
	if err := c.do(ctx, http.MethodGet, "/v1/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProject returns one project by name.
func (c *Client) GetProject(ctx context.Context, projectName string) (*ProjectStatus, error) {
	var out ProjectStatus
	if err := c.do(ctx, http.MethodGet, "/v1/projects/"+projectName, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject destroys a project and everything it owns.
func (c *Client) DeleteProject(ctx context.Context, projectName string) error {
	return c.do(ctx, http.MethodDelete, "/v1/projects/"+projectName, nil, nil)
}

// TriggerBuild enqueues a build and returns its id.
func (c *Client) TriggerBuild(ctx context.Context, projectName string, req TriggerBuildRequest) (int64, error) {
	var out acceptedResponse
	if err := c.do(ctx, http.MethodPost, "/v1/projects/"+projectName+"/builds", req, &out); err != nil {
		return 0, err
	}
	return out.BuildID, nil
}

// ListBuilds returns a project's builds, newest first.
func (c *Client) ListBuilds(ctx context.Context, projectName string) ([]*store.Build, error) {
	var out []*store.Build
	if err := c.do(ctx, http.MethodGet, "/v1/projects/"+projectName+"/builds", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Rollback re-deploys a past successful build.
func (c *Client) Rollback(ctx context.Context, buildID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/builds/%d/rollback", buildID), nil, nil)
}

// RuntimeOp starts, stops or restarts a project's active slot.
func (c *Client) RuntimeOp(ctx context.Context, projectName, op string) error {
	return c.do(ctx, http.MethodPost, "/v1/projects/"+projectName+"/runtime/"+op, nil, nil)
}

// BuildLog streams a build's log file to w.
func (c *Client) BuildLog(ctx context.Context, buildID int64, deployLog bool, w io.Writer) error {
	path := fmt.Sprintf("/v1/builds/%d/log", buildID)
	if deployLog {
		path = fmt.Sprintf("/v1/builds/%d/deploy-log", buildID)
	}
	resp, err := c.raw(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// CreateNamed registers and starts a named container.
func (c *Client) CreateNamed(ctx context.Context, spec store.NamedContainerSpec) (*store.NamedContainer, error) {
	var out store.NamedContainer
	if err := c.do(ctx, http.MethodPost, "/v1/named", spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListNamed returns all named containers.
func (c *Client) ListNamed(ctx context.Context) ([]*store.NamedContainer, error) {
	var out []*store.NamedContainer
	if err := c.do(ctx, http.MethodGet, "/v1/named", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveNamed removes a named container.
func (c *Client) RemoveNamed(ctx context.Context, containerName string) error {
	return c.do(ctx, http.MethodDelete, "/v1/named/"+containerName, nil, nil)
}

// NamedOp starts or stops a named container.
func (c *Client) NamedOp(ctx context.Context, containerName, op string) error {
	return c.do(ctx, http.MethodPost, "/v1/named/"+containerName+"/"+op, nil, nil)
}

// PutSetting stores an opaque settings value (e.g. the repository access
// token) under key.
func (c *Client) PutSetting(ctx context.Context, key, value string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, "http://daemon/v1/settings/"+key,
		bytes.NewReader([]byte(value)))
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return nil
}

// Events streams event envelopes until ctx ends or the daemon closes the
// stream. Each line is handed to fn as raw tagged JSON.
func (c *Client) Events(ctx context.Context, fn func(line []byte)) error {
	resp, err := c.raw(ctx, http.MethodGet, "/v1/events", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(bytes.Clone(scanner.Bytes()))
	}
	return scanner.Err()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.raw(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) raw(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://daemon"+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	var apiErr ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Detail != "" {
		return fmt.Errorf("daemon: %s", apiErr.Detail)
	}
	return fmt.Errorf("daemon returned %d", resp.StatusCode)
}
