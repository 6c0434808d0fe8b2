package store

import "time"

// Slot is one of the two runtime deployment positions a project owns.
type Slot string

const (
	SlotBlue  Slot = "blue"
	SlotGreen Slot = "green"
)

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == SlotBlue {
		return SlotGreen
	}
	return SlotBlue
}

// Valid reports whether s is a known slot.
func (s Slot) Valid() bool {
	return s == SlotBlue || s == SlotGreen
}

// DeploymentStatus tracks a project's deployment lifecycle.
type DeploymentStatus string

const (
	DeployNotDeployed DeploymentStatus = "not_deployed"
	DeployDeploying   DeploymentStatus = "deploying"
	DeployDeployed    DeploymentStatus = "deployed"
	DeployFailed      DeploymentStatus = "failed"
)

// BuildStatus tracks a build's lifecycle. Success and Failed are terminal.
type BuildStatus string

const (
	BuildQueued   BuildStatus = "queued"
	BuildBuilding BuildStatus = "building"
	BuildSuccess  BuildStatus = "success"
	BuildFailed   BuildStatus = "failed"
)

// Terminal reports whether the status is final.
func (s BuildStatus) Terminal() bool {
	return s == BuildSuccess || s == BuildFailed
}

// PortKind classifies a port allocation.
type PortKind string

const (
	PortApplication PortKind = "application"
	PortNamed       PortKind = "named"
)

// BuildRecipe describes how a project's commits are compiled.
type BuildRecipe struct {
	Image      string            `json:"image"`
	Command    string            `json:"command"`
	CacheClass string            `json:"cache_class"`
	WorkDir    string            `json:"work_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

// RuntimeRecipe describes how a project's artifacts are run.
type RuntimeRecipe struct {
	Image           string            `json:"image"`
	Command         string            `json:"command"`
	Port            int               `json:"port"`
	HealthCheckPath string            `json:"health_check_path"`
	Env             map[string]string `json:"env,omitempty"`
}

// ProjectSpec is the input to project creation.
type ProjectSpec struct {
	Name       string        `json:"name"`
	RepoURL    string        `json:"repo_url"`
	Branch     string        `json:"branch"`
	PathFilter string        `json:"path_filter,omitempty"`
	Build      BuildRecipe   `json:"build"`
	Runtime    RuntimeRecipe `json:"runtime"`
}

// Project is the long-lived unit of deployment.
type Project struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	RepoURL    string        `json:"repo_url"`
	Branch     string        `json:"branch"`
	PathFilter string        `json:"path_filter,omitempty"`
	Build      BuildRecipe   `json:"build"`
	Runtime    RuntimeRecipe `json:"runtime"`

	ActiveSlot       Slot             `json:"active_slot"`
	DeploymentStatus DeploymentStatus `json:"deployment_status"`
	BlueContainer    *string          `json:"blue_container,omitempty"`
	GreenContainer   *string          `json:"green_container,omitempty"`
	BluePort         int              `json:"blue_port"`
	GreenPort        int              `json:"green_port"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SlotContainer returns the recorded container handle for a slot.
func (p *Project) SlotContainer(s Slot) *string {
	if s == SlotBlue {
		return p.BlueContainer
	}
	return p.GreenContainer
}

// SlotPort returns the host port owned by a slot.
func (p *Project) SlotPort(s Slot) int {
	if s == SlotBlue {
		return p.BluePort
	}
	return p.GreenPort
}

// CommitInfo identifies the commit a build targets.
type CommitInfo struct {
	Hash    string `json:"hash"`
	Message string `json:"message,omitempty"`
	Author  string `json:"author,omitempty"`
}

// Build is one attempt to turn a commit into a running deployment.
type Build struct {
	ID          int64       `json:"id"`
	ProjectID   int64       `json:"project_id"`
	BuildNumber int64       `json:"build_number"`
	Commit      CommitInfo  `json:"commit"`
	Status      BuildStatus `json:"status"`

	LogPath       string  `json:"log_path"`
	DeployLogPath string  `json:"deploy_log_path"`
	ArtifactDir   *string `json:"artifact_dir,omitempty"`
	DeployedSlot  *Slot   `json:"deployed_slot,omitempty"`

	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// PortAllocation is one row of the persistent port ownership table.
type PortAllocation struct {
	Port  int      `json:"port"`
	Kind  PortKind `json:"kind"`
	Owner string   `json:"owner"`
}

// NamedContainerSpec is the input to named-container creation.
type NamedContainerSpec struct {
	Name          string            `json:"name"`
	Image         string            `json:"image"`
	Command       string            `json:"command,omitempty"`
	ContainerPort int               `json:"container_port,omitempty"`
	HTTP          bool              `json:"http,omitempty"`
	DataPath      string            `json:"data_path,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
}

// NamedContainer is a standalone utility container outside the blue/green
// scheme.
type NamedContainer struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	Image         string            `json:"image"`
	Command       string            `json:"command,omitempty"`
	ContainerPort int               `json:"container_port,omitempty"`
	HostPort      int               `json:"host_port,omitempty"`
	HTTP          bool              `json:"http,omitempty"`
	DataPath      string            `json:"data_path,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Handle        *string           `json:"handle,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// PortOwnerProject formats the allocation owner string for a project.
func PortOwnerProject(projectID int64) string {
	return "project:" + itoa(projectID)
}

// PortOwnerContainer formats the allocation owner string for a named
// container.
func PortOwnerContainer(containerName string) string {
	return "container:" + containerName
}
