// Package deploy drives the blue/green deployment state machine: launch
// the inactive slot, probe it, cut traffic over with a single store write,
// then reclaim the previous slot.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/config"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/health"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/name"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

// ErrArtifactMissing is returned when a deployment's artifact directory
// is gone (stale rollback target).
var ErrArtifactMissing = errors.New("artifact directory missing")

// ArtifactMountPath is where artifacts appear inside runtime containers.
const ArtifactMountPath = "/app"

const stopGrace = 10 * time.Second

// Driver is the slice of the container driver the deployer uses.
type Driver interface {
	EnsureImage(ctx context.Context, imageRef string, progress func(line string)) error
	CreateAndStart(ctx context.Context, spec docker.ContainerSpec) (string, error)
	Stop(ctx context.Context, handle string, grace time.Duration) error
	Remove(ctx context.Context, handle string) error
}

// Store is the slice of the persistent store the deployer uses.
type Store interface {
	GetProject(id int64) (*store.Project, error)
	UpdateSlotContainer(projectID int64, slot store.Slot, handle *string) error
	SwitchActiveSlot(projectID int64, slot store.Slot, status store.DeploymentStatus) error
	SetDeploymentStatus(projectID int64, status store.DeploymentStatus) error
	SetDeployedSlot(buildID int64, slot store.Slot) error
}

// Deployer runs deployments for one controller instance.
type Deployer struct {
	driver   Driver
	store    Store
	bus      *events.Bus
	gateway  string
	probeCfg config.HealthConfig

	// newChecker builds the health checker for a probe URL. Tests swap it.
	newChecker func(url string) health.Checker
}

// New creates a deployer.
func New(driver Driver, st Store, bus *events.Bus, gateway string, probeCfg config.HealthConfig) *Deployer {
	return &Deployer{
		driver:   driver,
		store:    st,
		bus:      bus,
		gateway:  gateway,
		probeCfg: probeCfg,
		newChecker: func(url string) health.Checker {
			return health.NewHTTPChecker(url, probeCfg.Timeout)
		},
	}
}

// Deploy launches build's artifact into project's inactive slot and cuts
// over on health. The build must be a terminal Success with an artifact.
func (d *Deployer) Deploy(ctx context.Context, project *store.Project, build *store.Build) error {
	return d.run(ctx, project, build, project.ActiveSlot.Other())
}

// Rollback re-deploys a past successful build onto the slot it originally
// shipped to, regardless of the current active slot.
func (d *Deployer) Rollback(ctx context.Context, project *store.Project, build *store.Build) error {
	if build.DeployedSlot == nil {
		return fmt.Errorf("build %d was never deployed", build.ID)
	}
	return d.rollbackTo(ctx, project, build, *build.DeployedSlot)
}

func (d *Deployer) rollbackTo(ctx context.Context, project *store.Project, build *store.Build, target store.Slot) error {
	return d.machine(ctx, project, build, target, false)
}

func (d *Deployer) run(ctx context.Context, project *store.Project, build *store.Build, target store.Slot) error {
	return d.machine(ctx, project, build, target, true)
}

// machine executes the state machine:
//
//	PullRuntime -> LaunchInactive -> HealthProbe -> Cutover ->
//	ReclaimPreviousActive -> Succeeded
//
// with failures draining the target slot and aborting without touching
// the previous active slot.
func (d *Deployer) machine(ctx context.Context, project *store.Project, build *store.Build, target store.Slot, recordSlot bool) error {
	deployLog, err := os.OpenFile(build.DeployLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening deploy log: %w", err)
	}
	defer deployLog.Close()
	logf := func(format string, args ...any) {
		fmt.Fprintf(deployLog, time.Now().UTC().Format(time.RFC3339)+" "+format+"\n", args...)
	}

	if build.ArtifactDir == nil {
		logf("aborted: build %d has no artifact directory", build.ID)
		return ErrArtifactMissing
	}
	if _, err := os.Stat(*build.ArtifactDir); err != nil {
		logf("aborted: artifact directory %s unavailable: %v", *build.ArtifactDir, err)
		return fmt.Errorf("%w: %s", ErrArtifactMissing, *build.ArtifactDir)
	}

	prevStatus := project.DeploymentStatus
	prevActive := project.ActiveSlot
	targetPort := project.SlotPort(target)

	logf("deploying build #%d (%s) to slot %s on port %d", build.BuildNumber, build.Commit.Hash, target, targetPort)
	d.bus.Publish(events.Deployment{ProjectID: project.ID, Slot: target, Status: events.DeployingStatus})
	if err := d.store.SetDeploymentStatus(project.ID, store.DeployDeploying); err != nil {
		logf("aborted: recording deploying status: %v", err)
		return err
	}

	// PullRuntime. A failure aborts with the previous status restored:
	// whatever was serving traffic still is.
	if err := d.driver.EnsureImage(ctx, project.Runtime.Image, func(line string) {
		logf("pull: %s", line)
	}); err != nil {
		logf("aborted: runtime image unavailable: %v", err)
		d.abort(project, prevStatus, target)
		return err
	}

	// A leftover container in the target slot (stale handle, or a
	// same-slot rollback) is taken down before launch; the canonical
	// name and host port must be free.
	if handle := project.SlotContainer(target); handle != nil {
		logf("clearing previous %s container %s", target, *handle)
		if err := d.teardownSlot(ctx, project, target, *handle); err != nil {
			logf("aborted: clearing slot: %v", err)
			d.abort(project, prevStatus, target)
			return err
		}
	}

	// LaunchInactive.
	containerName := name.ProjectContainer(project.ID, string(target))
	runtimeEnv := docker.MergeEnv(
		map[string]string{"PORT": strconv.Itoa(project.Runtime.Port)},
		project.Runtime.Env,
	)
	handle, err := d.driver.CreateAndStart(ctx, docker.ContainerSpec{
		Name:  containerName,
		Image: project.Runtime.Image,
		Cmd:   []string{"/bin/sh", "-c", project.Runtime.Command},
		Env:   runtimeEnv,
		Labels: map[string]string{
			docker.LabelProject: strconv.FormatInt(project.ID, 10),
			docker.LabelSlot:    string(target),
		},
		Ports: map[int]int{targetPort: project.Runtime.Port},
		Mounts: []docker.Mount{{
			Source:   *build.ArtifactDir,
			Target:   ArtifactMountPath,
			ReadOnly: true,
		}},
		RestartPolicy: "unless-stopped",
	})
	if err != nil {
		logf("aborted: launching %s: %v", containerName, err)
		d.abort(project, prevStatus, target)
		return err
	}
	logf("launched %s (%s)", containerName, handle)

	if err := d.store.UpdateSlotContainer(project.ID, target, &handle); err != nil {
		logf("aborted: recording container handle: %v", err)
		d.drain(ctx, project, target, handle, logf)
		d.abort(project, prevStatus, target)
		return err
	}
	d.bus.Publish(events.SlotContainerStatus{ProjectID: project.ID, Slot: target, Handle: &handle, Running: true})

	// HealthProbe.
	probeURL := fmt.Sprintf("http://%s:%d%s", d.gateway, targetPort, project.Runtime.HealthCheckPath)
	prober := &health.Prober{
		Attempts: d.probeCfg.Attempts,
		Interval: d.probeCfg.Interval,
		OnAttempt: func(attempt int, err error) {
			ok := err == nil
			if !ok {
				logf("health check %d/%d failed: %v", attempt, d.probeCfg.Attempts, err)
			} else {
				logf("health check %d/%d ok", attempt, d.probeCfg.Attempts)
			}
			d.bus.Publish(events.HealthCheck{ProjectID: project.ID, Slot: target, Attempt: attempt, OK: ok})
		},
	}
	if err := prober.Probe(ctx, d.newChecker(probeURL)); err != nil {
		// DrainInactive: take the unhealthy container down, leave the
		// previous active slot serving.
		logf("aborted: %v", err)
		d.drain(ctx, project, target, handle, logf)
		if serr := d.store.SetDeploymentStatus(project.ID, store.DeployFailed); serr != nil {
			log.ForProject(project.ID).Error("recording failed deployment status", "error", serr)
		}
		d.bus.Publish(events.Deployment{ProjectID: project.ID, Slot: target, Status: events.DeployFailedStatus})
		return err
	}

	// Cutover: one durable row update. After this write the router
	// resolves traffic to the target slot.
	if err := d.store.SwitchActiveSlot(project.ID, target, store.DeployDeployed); err != nil {
		logf("aborted: cutover write failed: %v", err)
		d.drain(ctx, project, target, handle, logf)
		d.abort(project, prevStatus, target)
		return err
	}
	if recordSlot {
		if err := d.store.SetDeployedSlot(build.ID, target); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.ForBuild(project.ID, build.ID).Error("recording deployed slot", "error", err)
		}
	}
	logf("cutover complete: active slot is now %s", target)
	d.bus.Publish(events.Deployment{ProjectID: project.ID, Slot: target, Status: events.DeployedStatus})

	// ReclaimPreviousActive. Failures here never revert the cutover; the
	// supervisor cleans up stale handles later.
	if prevActive != target {
		if prevHandle := project.SlotContainer(prevActive); prevHandle != nil {
			logf("reclaiming previous active slot %s (%s)", prevActive, *prevHandle)
			if err := d.teardownSlot(ctx, project, prevActive, *prevHandle); err != nil {
				logf("warning: reclaiming %s failed: %v", prevActive, err)
				log.ForProject(project.ID).Warn("reclaiming previous slot failed", "slot", prevActive, "error", err)
			}
		}
	}

	logf("deployment succeeded")
	return nil
}

// drain stops and removes the target slot's container and clears its
// handle.
func (d *Deployer) drain(ctx context.Context, project *store.Project, slot store.Slot, handle string, logf func(string, ...any)) {
	// Draining must run even when the deploy context was canceled.
	ctx = context.WithoutCancel(ctx)
	if err := d.teardownSlot(ctx, project, slot, handle); err != nil {
		logf("warning: draining %s failed: %v", slot, err)
		log.ForProject(project.ID).Warn("draining slot failed", "slot", slot, "error", err)
	}
}

func (d *Deployer) teardownSlot(ctx context.Context, project *store.Project, slot store.Slot, handle string) error {
	if err := d.driver.Stop(ctx, handle, stopGrace); err != nil {
		return err
	}
	if err := d.driver.Remove(ctx, handle); err != nil {
		return err
	}
	if err := d.store.UpdateSlotContainer(project.ID, slot, nil); err != nil {
		return err
	}
	d.bus.Publish(events.SlotContainerStatus{ProjectID: project.ID, Slot: slot, Running: false})
	return nil
}

// abort restores the pre-deployment status and emits the failed event.
func (d *Deployer) abort(project *store.Project, prevStatus store.DeploymentStatus, target store.Slot) {
	if err := d.store.SetDeploymentStatus(project.ID, prevStatus); err != nil {
		log.ForProject(project.ID).Error("restoring deployment status", "error", err)
	}
	d.bus.Publish(events.Deployment{ProjectID: project.ID, Slot: target, Status: events.DeployFailedStatus})
}
