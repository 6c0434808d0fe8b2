package supervise

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/name"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

// ErrNeverDeployed is returned by Start when the project has no
// successful deployed build to recreate from.
var ErrNeverDeployed = errors.New("project has no deployed build to start from")

// Start recreates the active slot's container from the last successfully
// deployed build's artifact. No health probe and no cutover: the active
// slot is already active.
func (s *Supervisor) Start(ctx context.Context, projectID int64) error {
	p, err := s.store.GetProject(projectID)
	if err != nil {
		return err
	}

	build, err := s.store.LastDeployedBuild(projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNeverDeployed
		}
		return err
	}
	if build.ArtifactDir == nil {
		return ErrNeverDeployed
	}

	slot := p.ActiveSlot
	if handle := p.SlotContainer(slot); handle != nil {
		if err := s.teardownSlot(ctx, p, slot, *handle); err != nil {
			return err
		}
	}

	if err := s.driver.EnsureImage(ctx, p.Runtime.Image, nil); err != nil {
		return err
	}

	runtimeEnv := docker.MergeEnv(
		map[string]string{"PORT": strconv.Itoa(p.Runtime.Port)},
		p.Runtime.Env,
	)
	handle, err := s.driver.CreateAndStart(ctx, docker.ContainerSpec{
		Name:  name.ProjectContainer(p.ID, string(slot)),
		Image: p.Runtime.Image,
		Cmd:   []string{"/bin/sh", "-c", p.Runtime.Command},
		Env:   runtimeEnv,
		Labels: map[string]string{
			docker.LabelProject: strconv.FormatInt(p.ID, 10),
			docker.LabelSlot:    string(slot),
		},
		Ports: map[int]int{p.SlotPort(slot): p.Runtime.Port},
		Mounts: []docker.Mount{{
			Source:   *build.ArtifactDir,
			Target:   "/app",
			ReadOnly: true,
		}},
		RestartPolicy: "unless-stopped",
	})
	if err != nil {
		return fmt.Errorf("starting active slot: %w", err)
	}

	if err := s.store.UpdateSlotContainer(p.ID, slot, &handle); err != nil {
		return err
	}
	if err := s.store.SetDeploymentStatus(p.ID, store.DeployDeployed); err != nil {
		return err
	}
	s.bus.Publish(events.SlotContainerStatus{ProjectID: p.ID, Slot: slot, Handle: &handle, Running: true})
	return nil
}

// StopProject stops and removes the active slot's container.
func (s *Supervisor) StopProject(ctx context.Context, projectID int64) error {
	p, err := s.store.GetProject(projectID)
	if err != nil {
		return err
	}

	slot := p.ActiveSlot
	if handle := p.SlotContainer(slot); handle != nil {
		if err := s.teardownSlot(ctx, p, slot, *handle); err != nil {
			return err
		}
	}
	return s.store.SetDeploymentStatus(p.ID, store.DeployNotDeployed)
}

// Restart is stop then start.
func (s *Supervisor) Restart(ctx context.Context, projectID int64) error {
	if err := s.StopProject(ctx, projectID); err != nil {
		return err
	}
	return s.Start(ctx, projectID)
}

func (s *Supervisor) teardownSlot(ctx context.Context, p *store.Project, slot store.Slot, handle string) error {
	if err := s.driver.Stop(ctx, handle, stopGrace); err != nil {
		return err
	}
	if err := s.driver.Remove(ctx, handle); err != nil {
		return err
	}
	if err := s.store.UpdateSlotContainer(p.ID, slot, nil); err != nil {
		return err
	}
	s.bus.Publish(events.SlotContainerStatus{ProjectID: p.ID, Slot: slot, Running: false})
	return nil
}
