package daemon

import (
	"time"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

// HealthResponse is returned from GET /v1/health.
type HealthResponse struct {
	PID           int    `json:"pid"`
	StartedAt     string `json:"started_at"`
	Projects      int    `json:"projects"`
	PendingBuilds int    `json:"pending_builds"`
}

// TriggerBuildRequest is sent to POST /v1/projects/{name}/builds. All
// fields are optional: an empty commit hash builds the branch head.
type TriggerBuildRequest struct {
	CommitHash    string `json:"commit_hash,omitempty"`
	CommitMessage string `json:"commit_message,omitempty"`
	Author        string `json:"author,omitempty"`
}

// BuildResponse wraps a build record with its project name.
type BuildResponse struct {
	Build   *store.Build `json:"build"`
	Project string       `json:"project"`
}

// ErrorResponse is the JSON error body used by every handler.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// ProjectStatus is the list/get representation of a project with its
// latest build summary.
type ProjectStatus struct {
	Project   *store.Project `json:"project"`
	LastBuild *store.Build   `json:"last_build,omitempty"`
}

// acceptedResponse is returned for async operations (trigger, rollback).
type acceptedResponse struct {
	Accepted bool      `json:"accepted"`
	BuildID  int64     `json:"build_id,omitempty"`
	Time     time.Time `json:"time"`
}
