package daemon

import (
	"context"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/config"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/deploy"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

// deployerAdapter reloads the project immediately before running the
// state machine so the deployer always sees the current active slot, even
// when the triggering record was loaded minutes earlier (long builds).
type deployerAdapter struct {
	inner *deploy.Deployer
	store *store.Store
}

func newDeployerAdapter(driver *docker.Client, st *store.Store, bus *events.Bus, cfg *config.Config) *deployerAdapter {
	return &deployerAdapter{
		inner: deploy.New(driver, st, bus, cfg.GatewayAddr, cfg.Health),
		store: st,
	}
}

// Deploy runs a fresh-state deployment for a successful build.
func (a *deployerAdapter) Deploy(ctx context.Context, p *store.Project, b *store.Build) error {
	fresh, err := a.store.GetProject(p.ID)
	if err != nil {
		return err
	}
	return a.inner.Deploy(ctx, fresh, b)
}

// Rollback re-deploys a past build onto its original slot.
func (a *deployerAdapter) Rollback(ctx context.Context, p *store.Project, b *store.Build) error {
	fresh, err := a.store.GetProject(p.ID)
	if err != nil {
		return err
	}
	return a.inner.Rollback(ctx, fresh, b)
}
