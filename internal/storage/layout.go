// Package storage owns the controller's on-disk layout:
//
//	workspaces/{project_id}/          source checkouts
//	cache/{cache_class}/              shared dependency caches
//	output/{build_id}/                build artifacts
//	logs/{project_id}/{build_id}.log  build logs
//	logs/{project_id}/{build_id}_deploy.log
//	containers/{name}/data/           named container data
//
// Paths returned here are controller-local; the container driver translates
// them to the host's view before handing them to the runtime.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Layout resolves paths under the controller's data directory.
type Layout struct {
	root string
}

// NewLayout creates a Layout rooted at dir and ensures the top-level
// directories exist.
func NewLayout(dir string) (*Layout, error) {
	l := &Layout{root: dir}
	for _, sub := range []string{"workspaces", "cache", "output", "logs", "containers"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("creating %s dir: %w", sub, err)
		}
	}
	return l, nil
}

// Root returns the data directory.
func (l *Layout) Root() string {
	return l.root
}

// WorkspaceDir returns the source checkout directory for a project.
func (l *Layout) WorkspaceDir(projectID int64) string {
	return filepath.Join(l.root, "workspaces", strconv.FormatInt(projectID, 10))
}

// CacheDir returns the shared dependency cache directory for a cache class.
func (l *Layout) CacheDir(class string) string {
	return filepath.Join(l.root, "cache", class)
}

// OutputDir returns the artifact directory for a build.
func (l *Layout) OutputDir(buildID int64) string {
	return filepath.Join(l.root, "output", strconv.FormatInt(buildID, 10))
}

// BuildLogPath returns the build log file path.
func (l *Layout) BuildLogPath(projectID, buildID int64) string {
	return filepath.Join(l.logDir(projectID), strconv.FormatInt(buildID, 10)+".log")
}

// DeployLogPath returns the deploy log file path.
func (l *Layout) DeployLogPath(projectID, buildID int64) string {
	return filepath.Join(l.logDir(projectID), strconv.FormatInt(buildID, 10)+"_deploy.log")
}

// ContainerDataDir returns the persistent data directory for a named
// container.
func (l *Layout) ContainerDataDir(name string) string {
	return filepath.Join(l.root, "containers", name, "data")
}

// DatabasePath returns the sqlite database path.
func (l *Layout) DatabasePath() string {
	return filepath.Join(l.root, "easycicd.db")
}

// DebugLogDir returns the directory for the controller's own logs.
func (l *Layout) DebugLogDir() string {
	return filepath.Join(l.root, "debug")
}

func (l *Layout) logDir(projectID int64) string {
	return filepath.Join(l.root, "logs", strconv.FormatInt(projectID, 10))
}

// EnsureBuildDirs creates the per-build directories (artifact output, cache,
// log parent) before a build launches.
func (l *Layout) EnsureBuildDirs(projectID, buildID int64, cacheClass string) error {
	dirs := []string{
		l.OutputDir(buildID),
		l.CacheDir(cacheClass),
		l.logDir(projectID),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

// EnsureContainerDataDir creates the data directory for a named container.
func (l *Layout) EnsureContainerDataDir(name string) (string, error) {
	dir := l.ContainerDataDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating container data dir: %w", err)
	}
	return dir, nil
}

// RemoveWorkspace deletes a project's checkout directory.
func (l *Layout) RemoveWorkspace(projectID int64) error {
	return os.RemoveAll(l.WorkspaceDir(projectID))
}

// RemoveOutput deletes a build's artifact directory.
func (l *Layout) RemoveOutput(buildID int64) error {
	return os.RemoveAll(l.OutputDir(buildID))
}
