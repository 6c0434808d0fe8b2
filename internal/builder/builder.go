// Package builder executes builds: prepare the workspace, run the
// project's build command in a one-shot builder container, tee its logs,
// and judge the exit code.
package builder

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/logtee"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/name"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/storage"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/workspace"
)

// Well-known mount paths inside builder containers.
const (
	SourceMountPath = "/src"
	CacheMountPath  = "/cache"
	OutputMountPath = "/output"
)

const stopGrace = 10 * time.Second

// Driver is the slice of the container driver the executor uses.
type Driver interface {
	EnsureImage(ctx context.Context, imageRef string, progress func(line string)) error
	CreateAndStart(ctx context.Context, spec docker.ContainerSpec) (string, error)
	Logs(ctx context.Context, handle string) (*docker.LogStream, error)
	Wait(ctx context.Context, handle string) (int, error)
	Stop(ctx context.Context, handle string, grace time.Duration) error
	Remove(ctx context.Context, handle string) error
}

// Store is the slice of the persistent store the executor uses.
type Store interface {
	GetProject(id int64) (*store.Project, error)
	GetBuild(id int64) (*store.Build, error)
	UpdateBuildStatus(id int64, status store.BuildStatus) error
	FinishBuild(id int64, status store.BuildStatus) error
	SetBuildArtifact(id int64, dir string) error
}

// DeployFunc hands a successful build to the deployer.
type DeployFunc func(ctx context.Context, project *store.Project, build *store.Build) error

// Executor runs picked builds.
type Executor struct {
	driver     Driver
	store      Store
	bus        *events.Bus
	layout     *storage.Layout
	workspaces *workspace.Manager
	timeout    time.Duration

	// Deploy is invoked after a successful build. Nil skips deployment.
	Deploy DeployFunc
}

// New creates an executor. timeout of zero means builds are unbounded.
func New(driver Driver, st Store, bus *events.Bus, layout *storage.Layout, ws *workspace.Manager, timeout time.Duration) *Executor {
	return &Executor{
		driver:     driver,
		store:      st,
		bus:        bus,
		layout:     layout,
		workspaces: ws,
		timeout:    timeout,
	}
}

// Run executes one build to a terminal status. It never returns an error:
// once the project and build are loaded, every failure ends in a Failed
// build, and failures after the build log is opened write their cause to
// it. A project or build that cannot be loaded is only logged.
func (e *Executor) Run(ctx context.Context, projectID, buildID int64) {
	project, err := e.store.GetProject(projectID)
	if err != nil {
		log.Error("loading project for build", "project_id", projectID, "error", err)
		return
	}
	build, err := e.store.GetBuild(buildID)
	if err != nil {
		log.Error("loading build", "build_id", buildID, "error", err)
		return
	}

	e.setStatus(build, store.BuildBuilding)

	if err := e.layout.EnsureBuildDirs(project.ID, build.ID, project.Build.CacheClass); err != nil {
		e.fail(build, nil, fmt.Errorf("preparing directories: %w", err))
		return
	}

	buildLog, err := os.OpenFile(build.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		e.fail(build, nil, fmt.Errorf("opening build log: %w", err))
		return
	}
	defer buildLog.Close()

	if ctx.Err() != nil {
		// Canceled before anything launched: skip the build.
		e.fail(build, buildLog, fmt.Errorf("build canceled before start: %w", ctx.Err()))
		return
	}

	exitCode, err := e.execute(ctx, project, build, buildLog)
	if err != nil {
		e.fail(build, buildLog, err)
		return
	}
	if exitCode != 0 {
		e.fail(build, buildLog, fmt.Errorf("build command exited with code %d", exitCode))
		return
	}

	outputDir := e.layout.OutputDir(build.ID)
	if err := e.store.SetBuildArtifact(build.ID, outputDir); err != nil {
		e.fail(build, buildLog, fmt.Errorf("recording artifact: %w", err))
		return
	}
	if err := e.store.FinishBuild(build.ID, store.BuildSuccess); err != nil {
		log.ForBuild(project.ID, build.ID).Error("finishing build", "error", err)
		return
	}
	fmt.Fprintln(buildLog, "build succeeded")
	e.bus.Publish(events.BuildStatus{ProjectID: project.ID, BuildID: build.ID, Status: store.BuildSuccess})

	if e.Deploy != nil {
		fresh, err := e.store.GetBuild(build.ID)
		if err != nil {
			log.ForBuild(project.ID, build.ID).Error("reloading build for deploy", "error", err)
			return
		}
		if err := e.Deploy(ctx, project, fresh); err != nil {
			log.ForBuild(project.ID, build.ID).Warn("deployment failed", "error", err)
		}
	}
}

// execute performs workspace prep, the builder container run and the log
// tee, returning the container's exit code.
func (e *Executor) execute(ctx context.Context, project *store.Project, build *store.Build, buildLog *os.File) (int, error) {
	workDir := e.layout.WorkspaceDir(project.ID)
	commit, err := e.workspaces.Prepare(ctx, workDir, project.RepoURL, project.Branch, build.Commit.Hash)
	if err != nil {
		return -1, fmt.Errorf("preparing workspace: %w", err)
	}
	fmt.Fprintf(buildLog, "workspace at commit %s\n", commit)

	if err := e.driver.EnsureImage(ctx, project.Build.Image, func(line string) {
		fmt.Fprintln(buildLog, line)
	}); err != nil {
		return -1, fmt.Errorf("ensuring builder image: %w", err)
	}

	containerWorkDir := SourceMountPath
	if project.Build.WorkDir != "" {
		containerWorkDir = path.Join(SourceMountPath, project.Build.WorkDir)
	}

	env := docker.MergeEnv(map[string]string{
		"CI":         "true",
		"SOURCE_DIR": SourceMountPath,
		"CACHE_DIR":  CacheMountPath,
		"OUTPUT_DIR": OutputMountPath,
		"COMMIT_SHA": commit,
	}, project.Build.Env)

	handle, err := e.driver.CreateAndStart(ctx, docker.ContainerSpec{
		Name:    name.BuildContainer(),
		Image:   project.Build.Image,
		Cmd:     []string{"/bin/sh", "-c", project.Build.Command},
		WorkDir: containerWorkDir,
		Env:     env,
		Labels: map[string]string{
			docker.LabelBuild: strconv.FormatInt(build.ID, 10),
		},
		Mounts: []docker.Mount{
			{Source: workDir, Target: SourceMountPath, ReadOnly: true},
			{Source: e.layout.CacheDir(project.Build.CacheClass), Target: CacheMountPath},
			{Source: e.layout.OutputDir(build.ID), Target: OutputMountPath},
		},
	})
	if err != nil {
		return -1, fmt.Errorf("launching builder container: %w", err)
	}

	// From here the container runs to completion even if ctx is canceled:
	// the tee detaches, the exit code is still collected. This avoids
	// leaving partial artifacts behind a killed build.
	waitCtx := context.WithoutCancel(ctx)

	stream, err := e.driver.Logs(ctx, handle)
	if err != nil {
		log.ForBuild(project.ID, build.ID).Warn("attaching build logs failed", "error", err)
	} else {
		teeDone := make(chan struct{})
		go func() {
			defer close(teeDone)
			logtee.Tee(ctx, stream,
				logtee.FileSink(buildLog),
				func(line, streamName string) {
					e.bus.Publish(events.Log{BuildID: build.ID, Line: line, Stream: streamName})
				},
			)
		}()
		defer func() { <-teeDone }()
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, e.timeout)
		defer cancel()
	}

	exitCode, err := e.driver.Wait(waitCtx, handle)
	if err != nil {
		if waitCtx.Err() != nil {
			// Timeout: this is enforcement, not detachment.
			stopCtx := context.WithoutCancel(ctx)
			_ = e.driver.Stop(stopCtx, handle, stopGrace)
			_ = e.driver.Remove(stopCtx, handle)
			return -1, fmt.Errorf("build exceeded timeout of %s", e.timeout)
		}
		_ = e.driver.Remove(context.WithoutCancel(ctx), handle)
		return -1, fmt.Errorf("waiting for builder container: %w", err)
	}

	if err := e.driver.Remove(context.WithoutCancel(ctx), handle); err != nil {
		log.ForBuild(project.ID, build.ID).Warn("removing builder container", "error", err)
	}
	return exitCode, nil
}

func (e *Executor) setStatus(build *store.Build, status store.BuildStatus) {
	if err := e.store.UpdateBuildStatus(build.ID, status); err != nil {
		log.Error("updating build status", "build_id", build.ID, "error", err)
	}
	e.bus.Publish(events.BuildStatus{ProjectID: build.ProjectID, BuildID: build.ID, Status: status})
}

func (e *Executor) fail(build *store.Build, buildLog *os.File, cause error) {
	blog := log.ForBuild(build.ProjectID, build.ID)
	blog.Warn("build failed", "error", cause)
	if buildLog != nil {
		fmt.Fprintf(buildLog, "build failed: %v\n", cause)
	}
	if err := e.store.FinishBuild(build.ID, store.BuildFailed); err != nil {
		blog.Error("finishing failed build", "error", err)
	}
	e.bus.Publish(events.BuildStatus{ProjectID: build.ProjectID, BuildID: build.ID, Status: store.BuildFailed})
}
