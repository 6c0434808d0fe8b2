// Package daemon wires the controller together: store, driver, port
// registry, build queue and workers, deployer, supervisor, router and the
// unix-socket control API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/builder"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/config"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/metrics"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/named"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/ports"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/queue"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/router"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/storage"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/supervise"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/workspace"
)

// Daemon owns every long-lived component of the controller.
type Daemon struct {
	Config     *config.Config
	Layout     *storage.Layout
	Store      *store.Store
	Driver     *docker.Client
	Registry   *ports.Registry
	Bus        *events.Bus
	Queue      *queue.Queue
	Executor   *builder.Executor
	Deployer   *deployerAdapter
	Supervisor *supervise.Supervisor
	Router     *router.Router
	Named      *named.Manager
	Metrics    *metrics.Metrics

	// baseCtx outlives individual API requests; async operations
	// (rollbacks, adopted builds) run on it.
	baseCtx context.Context
}

// New assembles a daemon from configuration. Nothing is started yet.
func New(cfg *config.Config) (*Daemon, error) {
	layout, err := storage.NewLayout(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(layout.DatabasePath())
	if err != nil {
		return nil, err
	}

	driver, err := docker.New(docker.Options{Host: cfg.DockerHost, HostPaths: cfg.HostPaths})
	if err != nil {
		st.Close()
		return nil, err
	}

	bus := events.NewBus()
	registry := ports.NewRegistry(st, cfg.PortRange)
	buildQueue := queue.New()

	d := &Daemon{
		Config:   cfg,
		Layout:   layout,
		Store:    st,
		Driver:   driver,
		Registry: registry,
		Bus:      bus,
		Queue:    buildQueue,
	}

	d.Deployer = newDeployerAdapter(driver, st, bus, cfg)

	tokenFn := func() string {
		token, err := st.GetSetting(store.SettingRepoToken)
		if err != nil {
			return ""
		}
		return token
	}
	d.Executor = builder.New(driver, st, bus, layout, workspace.NewManager(tokenFn), cfg.BuildTimeout)
	d.Executor.Deploy = d.Deployer.Deploy

	d.Supervisor = supervise.New(driver, st, registry, bus, layout.OutputDir)
	d.Router = router.New(st, cfg.BaseDomain, cfg.GatewayAddr, cfg.RouterCacheTTL)
	d.Named = named.NewManager(driver, st, registry, layout, bus)
	d.Metrics = metrics.New(buildQueue.PendingCount)

	return d, nil
}

// Run starts every component and blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	d.baseCtx = ctx

	if err := d.Driver.Ping(ctx); err != nil {
		return fmt.Errorf("container runtime: %w", err)
	}

	// Reconcile declared state with the runtime before serving anything.
	if err := d.Supervisor.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	api := NewServer(d, d.Config.APISocket)
	if err := api.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	pool := queue.NewWorkerPool(d.Queue, d.Config.Workers, d.Executor.Run)
	g.Go(func() error { return pool.Start(ctx) })

	g.Go(func() error { return d.Router.Serve(ctx, d.Config.ProxyAddr) })

	routerSub := d.Bus.Subscribe(0)
	g.Go(func() error {
		d.Router.WatchEvents(routerSub)
		return nil
	})

	metricsSub := d.Bus.Subscribe(0)
	g.Go(func() error {
		d.Metrics.Observe(metricsSub)
		return nil
	})

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", "error", err)
	}

	d.Bus.Shutdown() // closes router and metrics subscriptions

	err := g.Wait()
	d.Store.Close()
	d.Driver.Close()
	log.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createProject picks a free port pair and persists the project,
// retrying with the next pair when a concurrent allocation wins the race.
func (d *Daemon) createProject(spec store.ProjectSpec) (*store.Project, error) {
	for attempt := 0; attempt < 3; attempt++ {
		blue, green, err := d.Registry.FindFreePair()
		if err != nil {
			return nil, err
		}
		p, err := d.Store.CreateProject(spec, blue, green)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, store.ErrConflict) && attempt < 2 {
			// Name conflicts are permanent; port conflicts retry.
			if _, nameErr := d.Store.GetProjectByName(spec.Name); nameErr == nil {
				return nil, err
			}
			continue
		}
		return nil, err
	}
	return nil, ports.ErrPortExhausted
}

// triggerBuild records a queued build and enqueues it.
func (d *Daemon) triggerBuild(p *store.Project, commit store.CommitInfo) (*store.Build, error) {
	b, err := d.Store.CreateBuild(p.ID, commit, func(buildID int64) (string, string) {
		return d.Layout.BuildLogPath(p.ID, buildID), d.Layout.DeployLogPath(p.ID, buildID)
	})
	if err != nil {
		return nil, err
	}
	d.Queue.Enqueue(p.ID, b.ID)
	d.Bus.Publish(events.BuildStatus{ProjectID: p.ID, BuildID: b.ID, Status: store.BuildQueued})
	log.Info("build queued", "project", p.Name, "build_number", b.BuildNumber)
	return b, nil
}

// destroyProject tears down a project's containers, queue entries,
// record and workspace.
func (d *Daemon) destroyProject(ctx context.Context, p *store.Project) error {
	d.Queue.Drop(p.ID)

	for _, slot := range []store.Slot{store.SlotBlue, store.SlotGreen} {
		if handle := p.SlotContainer(slot); handle != nil {
			if err := d.Driver.Stop(ctx, *handle, 10*time.Second); err != nil {
				log.Warn("stopping slot container", "project_id", p.ID, "slot", slot, "error", err)
			}
			if err := d.Driver.Remove(ctx, *handle); err != nil {
				log.Warn("removing slot container", "project_id", p.ID, "slot", slot, "error", err)
			}
		}
	}

	if err := d.Store.DeleteProject(p.ID); err != nil {
		return err
	}
	if err := d.Layout.RemoveWorkspace(p.ID); err != nil {
		log.Warn("removing workspace", "project_id", p.ID, "error", err)
	}
	d.Router.Flush()
	return nil
}
