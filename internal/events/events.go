// Package events defines the controller's lifecycle events and an
// in-process broadcast bus. Delivery is best-effort fan-out: publishers
// never block, and a slow subscriber loses the oldest buffered events.
package events

import (
	"encoding/json"
	"time"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

// Event is implemented by every event type. Type returns the wire tag.
type Event interface {
	Type() string
}

// BuildStatus reports a build's state transition.
type BuildStatus struct {
	ProjectID int64             `json:"project_id"`
	BuildID   int64             `json:"build_id"`
	Status    store.BuildStatus `json:"status"`
}

func (BuildStatus) Type() string { return "build_status" }

// Log carries one build log line.
type Log struct {
	BuildID int64  `json:"build_id"`
	Line    string `json:"line"`
	Stream  string `json:"stream"` // "stdout" or "stderr"
}

func (Log) Type() string { return "log" }

// Deployment reports deployment progress for a project slot.
type Deployment struct {
	ProjectID int64      `json:"project_id"`
	Slot      store.Slot `json:"slot"`
	Status    string     `json:"status"` // "deploying", "deployed", "failed"
}

func (Deployment) Type() string { return "deployment" }

// Deployment status values.
const (
	DeployingStatus    = "deploying"
	DeployedStatus     = "deployed"
	DeployFailedStatus = "failed"
)

// HealthCheck reports one probe attempt against a slot.
type HealthCheck struct {
	ProjectID int64      `json:"project_id"`
	Slot      store.Slot `json:"slot"`
	Attempt   int        `json:"attempt"`
	OK        bool       `json:"ok"`
}

func (HealthCheck) Type() string { return "health_check" }

// SlotContainerStatus reports a slot container's existence and state.
type SlotContainerStatus struct {
	ProjectID int64      `json:"project_id"`
	Slot      store.Slot `json:"slot"`
	Handle    *string    `json:"handle,omitempty"`
	Running   bool       `json:"running"`
}

func (SlotContainerStatus) Type() string { return "slot_container_status" }

// NamedContainerStatus reports a named container's existence and state.
type NamedContainerStatus struct {
	ContainerID int64   `json:"container_id"`
	Handle      *string `json:"handle,omitempty"`
	Running     bool    `json:"running"`
}

func (NamedContainerStatus) Type() string { return "named_container_status" }

// ContainerLog carries one named-container log line.
type ContainerLog struct {
	ContainerID int64  `json:"container_id"`
	Line        string `json:"line"`
}

func (ContainerLog) Type() string { return "container_log" }

// envelope is the wire form carried over the event stream.
type envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data Event     `json:"data"`
}

// Encode serializes an event into its tagged JSON wire form.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(envelope{Type: e.Type(), Time: time.Now().UTC(), Data: e})
}
