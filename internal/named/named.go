// Package named manages standalone utility containers (databases, caches)
// outside the blue/green scheme. Each gets a singleton host port and,
// when it opts in, a persistent data directory.
package named

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/logtee"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/name"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/ports"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/storage"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

const stopGrace = 10 * time.Second

// Driver is the slice of the container driver the manager uses.
type Driver interface {
	EnsureImage(ctx context.Context, imageRef string, progress func(line string)) error
	CreateAndStart(ctx context.Context, spec docker.ContainerSpec) (string, error)
	Stop(ctx context.Context, handle string, grace time.Duration) error
	Remove(ctx context.Context, handle string) error
	Logs(ctx context.Context, handle string) (*docker.LogStream, error)
}

// Store is the slice of the persistent store the manager uses.
type Store interface {
	CreateNamedContainer(spec store.NamedContainerSpec, hostPort int) (*store.NamedContainer, error)
	GetNamedContainer(containerName string) (*store.NamedContainer, error)
	ListNamedContainers() ([]*store.NamedContainer, error)
	UpdateNamedContainerHandle(containerName string, handle *string) error
	DeleteNamedContainer(containerName string) error
}

// Manager creates, starts and stops named containers.
type Manager struct {
	driver   Driver
	store    Store
	registry *ports.Registry
	layout   *storage.Layout
	bus      *events.Bus
}

// NewManager creates a named-container manager.
func NewManager(driver Driver, st Store, registry *ports.Registry, layout *storage.Layout, bus *events.Bus) *Manager {
	return &Manager{driver: driver, store: st, registry: registry, layout: layout, bus: bus}
}

// Create registers a named container, allocating its host port when it
// exposes one, and starts it.
func (m *Manager) Create(ctx context.Context, spec store.NamedContainerSpec) (*store.NamedContainer, error) {
	if err := name.ValidateLabel(spec.Name); err != nil {
		return nil, err
	}

	var hostPort int
	if spec.ContainerPort > 0 {
		port, err := m.registry.FindFreePort()
		if err != nil {
			return nil, err
		}
		hostPort = port
	}

	c, err := m.store.CreateNamedContainer(spec, hostPort)
	if err != nil {
		return nil, err
	}

	if err := m.Start(ctx, c.Name); err != nil {
		return c, err
	}
	return m.store.GetNamedContainer(c.Name)
}

// Start launches the container. Starting an already-running container
// restarts it from scratch.
func (m *Manager) Start(ctx context.Context, containerName string) error {
	c, err := m.store.GetNamedContainer(containerName)
	if err != nil {
		return err
	}

	if c.Handle != nil {
		if err := m.teardown(ctx, c); err != nil {
			return err
		}
	}

	if err := m.driver.EnsureImage(ctx, c.Image, nil); err != nil {
		return fmt.Errorf("ensuring image for %s: %w", c.Name, err)
	}

	spec := docker.ContainerSpec{
		Name:  name.NamedContainer(c.Name),
		Image: c.Image,
		Env:   c.Env,
		Labels: map[string]string{
			docker.LabelContainer: c.Name,
		},
		RestartPolicy: "unless-stopped",
	}
	if c.Command != "" {
		spec.Cmd = []string{"/bin/sh", "-c", c.Command}
	}
	if c.ContainerPort > 0 && c.HostPort > 0 {
		spec.Ports = map[int]int{c.HostPort: c.ContainerPort}
	}
	if c.DataPath != "" {
		dataDir, err := m.layout.EnsureContainerDataDir(c.Name)
		if err != nil {
			return err
		}
		spec.Mounts = []docker.Mount{{Source: dataDir, Target: c.DataPath}}
	}

	handle, err := m.driver.CreateAndStart(ctx, spec)
	if err != nil {
		return fmt.Errorf("starting %s: %w", c.Name, err)
	}
	if err := m.store.UpdateNamedContainerHandle(c.Name, &handle); err != nil {
		return err
	}
	m.bus.Publish(events.NamedContainerStatus{ContainerID: c.ID, Handle: &handle, Running: true})
	return nil
}

// Stop stops and removes the container but keeps the record (and its
// port) for a later start.
func (m *Manager) Stop(ctx context.Context, containerName string) error {
	c, err := m.store.GetNamedContainer(containerName)
	if err != nil {
		return err
	}
	if c.Handle == nil {
		return nil
	}
	return m.teardown(ctx, c)
}

// Remove stops the container and deletes its record, releasing its port.
func (m *Manager) Remove(ctx context.Context, containerName string) error {
	c, err := m.store.GetNamedContainer(containerName)
	if err != nil {
		return err
	}
	if c.Handle != nil {
		if err := m.teardown(ctx, c); err != nil {
			return err
		}
	}
	return m.store.DeleteNamedContainer(containerName)
}

// WatchLogs tees the container's log stream onto the event bus until the
// container exits or ctx is canceled.
func (m *Manager) WatchLogs(ctx context.Context, containerName string) error {
	c, err := m.store.GetNamedContainer(containerName)
	if err != nil {
		return err
	}
	if c.Handle == nil {
		return fmt.Errorf("container %s is not running", containerName)
	}

	stream, err := m.driver.Logs(ctx, *c.Handle)
	if err != nil {
		return err
	}
	logtee.Tee(ctx, stream, func(line, _ string) {
		m.bus.Publish(events.ContainerLog{ContainerID: c.ID, Line: line})
	})
	return nil
}

func (m *Manager) teardown(ctx context.Context, c *store.NamedContainer) error {
	if err := m.driver.Stop(ctx, *c.Handle, stopGrace); err != nil {
		return err
	}
	if err := m.driver.Remove(ctx, *c.Handle); err != nil {
		return err
	}
	if err := m.store.UpdateNamedContainerHandle(c.Name, nil); err != nil {
		return err
	}
	c.Handle = nil
	m.bus.Publish(events.NamedContainerStatus{ContainerID: c.ID, Running: false})
	log.Debug("named container stopped", "name", c.Name, "id", strconv.FormatInt(c.ID, 10))
	return nil
}
