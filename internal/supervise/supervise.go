// Package supervise reconciles declared runtime state with the container
// runtime. It runs on controller startup after arbitrary downtime and
// serves explicit start/stop/restart requests for a project's active slot.
package supervise

import (
	"context"
	"strconv"
	"time"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/ports"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

const stopGrace = 10 * time.Second

// Driver is the slice of the container driver the supervisor uses.
type Driver interface {
	ListOwned(ctx context.Context) ([]docker.Owned, error)
	BoundPorts(ctx context.Context) (map[int]bool, error)
	ExitCode(ctx context.Context, handle string) (int, error)
	Wait(ctx context.Context, handle string) (int, error)
	EnsureImage(ctx context.Context, imageRef string, progress func(line string)) error
	CreateAndStart(ctx context.Context, spec docker.ContainerSpec) (string, error)
	Stop(ctx context.Context, handle string, grace time.Duration) error
	Remove(ctx context.Context, handle string) error
}

// Store is the slice of the persistent store the supervisor uses.
type Store interface {
	ListProjects() ([]*store.Project, error)
	GetProject(id int64) (*store.Project, error)
	UpdateSlotContainer(projectID int64, slot store.Slot, handle *string) error
	SetDeploymentStatus(projectID int64, status store.DeploymentStatus) error
	ListNamedContainers() ([]*store.NamedContainer, error)
	UpdateNamedContainerHandle(containerName string, handle *string) error
	ListBuildsByStatus(status store.BuildStatus) ([]*store.Build, error)
	FinishBuild(id int64, status store.BuildStatus) error
	SetBuildArtifact(id int64, dir string) error
	LastDeployedBuild(projectID int64) (*store.Build, error)
}

// ArtifactDirFunc returns the artifact directory for a build id.
type ArtifactDirFunc func(buildID int64) string

// Supervisor reconciles store state against the runtime.
type Supervisor struct {
	driver   Driver
	store    Store
	registry *ports.Registry
	bus      *events.Bus
	artifact ArtifactDirFunc
}

// New creates a supervisor.
func New(driver Driver, st Store, registry *ports.Registry, bus *events.Bus, artifact ArtifactDirFunc) *Supervisor {
	return &Supervisor{driver: driver, store: st, registry: registry, bus: bus, artifact: artifact}
}

// Reconcile aligns the store with the observed container runtime state:
// slot handles are rewritten from observation, orphaned containers are
// removed, stranded builds are finalized, and the port registry is
// refreshed.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	observed, err := s.driver.ListOwned(ctx)
	if err != nil {
		return err
	}
	projects, err := s.store.ListProjects()
	if err != nil {
		return err
	}
	namedContainers, err := s.store.ListNamedContainers()
	if err != nil {
		return err
	}

	projectByID := make(map[int64]*store.Project, len(projects))
	for _, p := range projects {
		projectByID[p.ID] = p
	}
	namedByName := make(map[string]*store.NamedContainer, len(namedContainers))
	for _, c := range namedContainers {
		namedByName[c.Name] = c
	}

	// Index observed containers and collect garbage.
	type slotKey struct {
		projectID int64
		slot      store.Slot
	}
	slotObserved := make(map[slotKey]docker.Owned)
	namedObserved := make(map[string]docker.Owned)
	buildObserved := make(map[int64]docker.Owned)

	for _, o := range observed {
		switch {
		case o.Labels[docker.LabelProject] != "":
			pid, perr := strconv.ParseInt(o.Labels[docker.LabelProject], 10, 64)
			slot := store.Slot(o.Labels[docker.LabelSlot])
			if perr != nil || !slot.Valid() || projectByID[pid] == nil {
				s.removeGarbage(ctx, o)
				continue
			}
			key := slotKey{pid, slot}
			if _, dup := slotObserved[key]; dup || !o.Running {
				// Duplicate for the slot, or a dead container: garbage.
				s.removeGarbage(ctx, o)
				continue
			}
			slotObserved[key] = o

		case o.Labels[docker.LabelContainer] != "":
			cname := o.Labels[docker.LabelContainer]
			if namedByName[cname] == nil || !o.Running {
				s.removeGarbage(ctx, o)
				continue
			}
			namedObserved[cname] = o

		case o.Labels[docker.LabelBuild] != "":
			bid, berr := strconv.ParseInt(o.Labels[docker.LabelBuild], 10, 64)
			if berr != nil {
				s.removeGarbage(ctx, o)
				continue
			}
			buildObserved[bid] = o

		default:
			s.removeGarbage(ctx, o)
		}
	}

	// Converge each project's slot handles and deployment status.
	for _, p := range projects {
		for _, slot := range []store.Slot{store.SlotBlue, store.SlotGreen} {
			o, running := slotObserved[slotKey{p.ID, slot}]

			var handle *string
			if running {
				h := o.Handle
				handle = &h
			}
			if !handlesEqual(p.SlotContainer(slot), handle) {
				if err := s.store.UpdateSlotContainer(p.ID, slot, handle); err != nil {
					return err
				}
			}
			s.bus.Publish(events.SlotContainerStatus{
				ProjectID: p.ID,
				Slot:      slot,
				Handle:    handle,
				Running:   running,
			})
		}

		_, activeRunning := slotObserved[slotKey{p.ID, p.ActiveSlot}]
		if status, changed := reconcileStatus(p.DeploymentStatus, activeRunning); changed {
			if err := s.store.SetDeploymentStatus(p.ID, status); err != nil {
				return err
			}
		}
	}

	// Converge named container handles.
	for _, c := range namedContainers {
		o, running := namedObserved[c.Name]
		var handle *string
		if running {
			h := o.Handle
			handle = &h
		}
		if !handlesEqual(c.Handle, handle) {
			if err := s.store.UpdateNamedContainerHandle(c.Name, handle); err != nil {
				return err
			}
		}
		s.bus.Publish(events.NamedContainerStatus{ContainerID: c.ID, Handle: handle, Running: running})
	}

	// Builds stranded in Building by a crash.
	if err := s.reconcileBuilds(ctx, buildObserved); err != nil {
		return err
	}

	// Refresh the port registry's view.
	bound, err := s.driver.BoundPorts(ctx)
	if err != nil {
		log.Warn("reading bound ports", "error", err)
	} else {
		s.registry.SetObserved(bound)
	}
	validOwners := make(map[string]bool, len(projects)+len(namedContainers))
	for _, p := range projects {
		validOwners[store.PortOwnerProject(p.ID)] = true
	}
	for _, c := range namedContainers {
		validOwners[store.PortOwnerContainer(c.Name)] = true
	}
	return s.registry.Reconcile(validOwners)
}

// reconcileBuilds finalizes builds left in Building. A build whose
// container is gone or exited non-zero is failed; a live builder is
// adopted and judged when it exits; a finished builder is judged now.
func (s *Supervisor) reconcileBuilds(ctx context.Context, buildObserved map[int64]docker.Owned) error {
	stranded, err := s.store.ListBuildsByStatus(store.BuildBuilding)
	if err != nil {
		return err
	}

	active := make(map[int64]bool, len(stranded))
	for _, b := range stranded {
		active[b.ID] = true
		o, found := buildObserved[b.ID]
		if !found {
			log.Warn("failing stranded build: container missing", "build_id", b.ID)
			if err := s.store.FinishBuild(b.ID, store.BuildFailed); err != nil {
				return err
			}
			s.bus.Publish(events.BuildStatus{ProjectID: b.ProjectID, BuildID: b.ID, Status: store.BuildFailed})
			continue
		}

		if o.Running {
			// Adopt: let it finish, then judge the exit code.
			log.Info("adopting live builder container", "build_id", b.ID)
			go s.adoptBuild(ctx, b, o.Handle)
			continue
		}

		code, err := s.driver.ExitCode(ctx, o.Handle)
		if err != nil {
			log.Warn("reading stranded builder exit code", "build_id", b.ID, "error", err)
			code = -1
		}
		s.judgeBuild(ctx, b, o.Handle, code)
	}

	// Builder containers with no live build record are garbage.
	for bid, o := range buildObserved {
		if !active[bid] {
			s.removeGarbage(ctx, o)
		}
	}
	return nil
}

func (s *Supervisor) adoptBuild(ctx context.Context, b *store.Build, handle string) {
	code, err := s.driver.Wait(ctx, handle)
	if err != nil {
		log.ForBuild(b.ProjectID, b.ID).Warn("waiting for adopted builder", "error", err)
		code = -1
	}
	s.judgeBuild(ctx, b, handle, code)
}

func (s *Supervisor) judgeBuild(ctx context.Context, b *store.Build, handle string, exitCode int) {
	status := store.BuildFailed
	if exitCode == 0 {
		if err := s.store.SetBuildArtifact(b.ID, s.artifact(b.ID)); err != nil {
			log.Error("recording adopted artifact", "build_id", b.ID, "error", err)
		} else {
			status = store.BuildSuccess
		}
	}
	if err := s.store.FinishBuild(b.ID, status); err != nil {
		log.Error("finishing stranded build", "build_id", b.ID, "error", err)
		return
	}
	s.bus.Publish(events.BuildStatus{ProjectID: b.ProjectID, BuildID: b.ID, Status: status})
	if err := s.driver.Remove(ctx, handle); err != nil {
		log.Warn("removing builder container", "build_id", b.ID, "error", err)
	}
}

func (s *Supervisor) removeGarbage(ctx context.Context, o docker.Owned) {
	log.Warn("removing orphaned container", "name", o.Name, "handle", o.Handle)
	if err := s.driver.Stop(ctx, o.Handle, stopGrace); err != nil {
		log.Warn("stopping orphaned container", "name", o.Name, "error", err)
	}
	if err := s.driver.Remove(ctx, o.Handle); err != nil {
		log.Warn("removing orphaned container", "name", o.Name, "error", err)
	}
}

// reconcileStatus maps the stored deployment status against whether the
// active slot's container is actually running.
func reconcileStatus(status store.DeploymentStatus, activeRunning bool) (store.DeploymentStatus, bool) {
	switch {
	case status == store.DeployDeploying:
		// A crash interrupted a deployment; it did not complete.
		return store.DeployFailed, true
	case status == store.DeployDeployed && !activeRunning:
		return store.DeployNotDeployed, true
	case status == store.DeployNotDeployed && activeRunning:
		return store.DeployDeployed, true
	default:
		return status, false
	}
}

func handlesEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
