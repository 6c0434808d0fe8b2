package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/config"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/health"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

type fakeDriver struct {
	created  []docker.ContainerSpec
	stopped  []string
	removed  []string
	nextID   int
	pullErr  error
	startErr error
}

func (f *fakeDriver) EnsureImage(_ context.Context, _ string, _ func(string)) error {
	return f.pullErr
}

func (f *fakeDriver) CreateAndStart(_ context.Context, spec docker.ContainerSpec) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.created = append(f.created, spec)
	f.nextID++
	return fmt.Sprintf("handle-%d", f.nextID), nil
}

func (f *fakeDriver) Stop(_ context.Context, handle string, _ time.Duration) error {
	f.stopped = append(f.stopped, handle)
	return nil
}

func (f *fakeDriver) Remove(_ context.Context, handle string) error {
	f.removed = append(f.removed, handle)
	return nil
}

type staticChecker struct{ err error }

func (s staticChecker) Check(context.Context) error { return s.err }

type fixture struct {
	st       *store.Store
	driver   *fakeDriver
	deployer *Deployer
	bus      *events.Bus
	project  *store.Project
	dir      string
}

func newFixture(t *testing.T, healthy bool) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p, err := st.CreateProject(store.ProjectSpec{
		Name:    "svc",
		RepoURL: "https://example.com/svc.git",
		Branch:  "main",
		Build:   store.BuildRecipe{Image: "golang:1.25", Command: "make", CacheClass: "go"},
		Runtime: store.RuntimeRecipe{
			Image:           "alpine:3",
			Command:         "./server",
			Port:            3000,
			HealthCheckPath: "/health",
		},
	}, 10000, 10001)
	require.NoError(t, err)

	driver := &fakeDriver{}
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)

	d := New(driver, st, bus, "127.0.0.1", config.HealthConfig{
		Attempts: 3,
		Interval: time.Millisecond,
		Timeout:  time.Second,
	})
	var checkErr error
	if !healthy {
		checkErr = errors.New("unhealthy")
	}
	d.newChecker = func(string) health.Checker { return staticChecker{err: checkErr} }

	return &fixture{st: st, driver: driver, deployer: d, bus: bus, project: p, dir: dir}
}

// successfulBuild records a finished build with an artifact on disk.
func (f *fixture) successfulBuild(t *testing.T) *store.Build {
	t.Helper()
	b, err := f.st.CreateBuild(f.project.ID, store.CommitInfo{Hash: "abc123"},
		func(id int64) (string, string) {
			return filepath.Join(f.dir, fmt.Sprintf("%d.log", id)),
				filepath.Join(f.dir, fmt.Sprintf("%d_deploy.log", id))
		})
	require.NoError(t, err)

	artifact := filepath.Join(f.dir, "output", fmt.Sprint(b.ID))
	require.NoError(t, os.MkdirAll(artifact, 0755))
	require.NoError(t, f.st.SetBuildArtifact(b.ID, artifact))
	require.NoError(t, f.st.FinishBuild(b.ID, store.BuildSuccess))

	b, err = f.st.GetBuild(b.ID)
	require.NoError(t, err)
	return b
}

func (f *fixture) reload(t *testing.T) *store.Project {
	t.Helper()
	p, err := f.st.GetProject(f.project.ID)
	require.NoError(t, err)
	return p
}

func TestFirstDeploymentGoesToGreen(t *testing.T) {
	f := newFixture(t, true)
	b := f.successfulBuild(t)

	require.NoError(t, f.deployer.Deploy(context.Background(), f.reload(t), b))

	p := f.reload(t)
	assert.Equal(t, store.SlotGreen, p.ActiveSlot)
	assert.Equal(t, store.DeployDeployed, p.DeploymentStatus)
	require.NotNil(t, p.GreenContainer)
	assert.Nil(t, p.BlueContainer)

	b, _ = f.st.GetBuild(b.ID)
	require.NotNil(t, b.DeployedSlot)
	assert.Equal(t, store.SlotGreen, *b.DeployedSlot)

	require.Len(t, f.driver.created, 1)
	spec := f.driver.created[0]
	assert.Equal(t, "project-"+fmt.Sprint(p.ID)+"-green", spec.Name)
	assert.Equal(t, 3000, spec.Ports[10001])
	assert.Equal(t, "unless-stopped", spec.RestartPolicy)
	assert.Equal(t, "3000", spec.Env["PORT"])
	require.Len(t, spec.Mounts, 1)
	assert.True(t, spec.Mounts[0].ReadOnly)
	assert.Equal(t, ArtifactMountPath, spec.Mounts[0].Target)
}

func TestSecondDeploymentSwapsToBlueAndReclaims(t *testing.T) {
	f := newFixture(t, true)

	b1 := f.successfulBuild(t)
	require.NoError(t, f.deployer.Deploy(context.Background(), f.reload(t), b1))
	p := f.reload(t)
	greenHandle := *p.GreenContainer

	b2 := f.successfulBuild(t)
	require.NoError(t, f.deployer.Deploy(context.Background(), p, b2))

	p = f.reload(t)
	assert.Equal(t, store.SlotBlue, p.ActiveSlot)
	require.NotNil(t, p.BlueContainer)
	assert.Nil(t, p.GreenContainer, "previous green slot must be reclaimed")
	assert.Contains(t, f.driver.stopped, greenHandle)
	assert.Contains(t, f.driver.removed, greenHandle)

	assert.Equal(t, 10000, intKey(f.driver.created[1].Ports), "second deploy binds the blue port")
}

func TestHealthFailureKeepsOldSlotLive(t *testing.T) {
	f := newFixture(t, true)
	b1 := f.successfulBuild(t)
	require.NoError(t, f.deployer.Deploy(context.Background(), f.reload(t), b1))

	// Make the next deployment unhealthy.
	f.deployer.newChecker = func(string) health.Checker {
		return staticChecker{err: errors.New("500")}
	}

	b2 := f.successfulBuild(t)
	err := f.deployer.Deploy(context.Background(), f.reload(t), b2)
	assert.ErrorIs(t, err, health.ErrExhausted)

	p := f.reload(t)
	assert.Equal(t, store.SlotGreen, p.ActiveSlot, "active slot unchanged")
	assert.Equal(t, store.DeployFailed, p.DeploymentStatus)
	assert.Nil(t, p.BlueContainer, "unhealthy container drained")
	assert.NotNil(t, p.GreenContainer, "previous active still recorded")

	b2, _ = f.st.GetBuild(b2.ID)
	assert.Equal(t, store.BuildSuccess, b2.Status, "artifact is still valid")
	assert.Nil(t, b2.DeployedSlot)
}

func TestRollbackTargetsOriginalSlot(t *testing.T) {
	f := newFixture(t, true)

	b1 := f.successfulBuild(t)
	require.NoError(t, f.deployer.Deploy(context.Background(), f.reload(t), b1)) // green
	b2 := f.successfulBuild(t)
	require.NoError(t, f.deployer.Deploy(context.Background(), f.reload(t), b2)) // blue

	p := f.reload(t)
	require.Equal(t, store.SlotBlue, p.ActiveSlot)

	// Roll back to b1, which shipped on green.
	b1, _ = f.st.GetBuild(b1.ID)
	require.NoError(t, f.deployer.Rollback(context.Background(), p, b1))

	p = f.reload(t)
	assert.Equal(t, store.SlotGreen, p.ActiveSlot)
	require.NotNil(t, p.GreenContainer)
	assert.Nil(t, p.BlueContainer, "previous active reclaimed")

	// deployed_slot was already green and stays green.
	b1, _ = f.st.GetBuild(b1.ID)
	assert.Equal(t, store.SlotGreen, *b1.DeployedSlot)
}

func TestPullFailureRestoresStatus(t *testing.T) {
	f := newFixture(t, true)
	b1 := f.successfulBuild(t)
	require.NoError(t, f.deployer.Deploy(context.Background(), f.reload(t), b1))

	f.driver.pullErr = docker.ErrImageUnavailable
	b2 := f.successfulBuild(t)
	err := f.deployer.Deploy(context.Background(), f.reload(t), b2)
	assert.ErrorIs(t, err, docker.ErrImageUnavailable)

	p := f.reload(t)
	assert.Equal(t, store.DeployDeployed, p.DeploymentStatus, "status rolls back")
	assert.Equal(t, store.SlotGreen, p.ActiveSlot)
}

func TestLaunchFailureRestoresStatus(t *testing.T) {
	f := newFixture(t, false)
	b := f.successfulBuild(t)

	f.driver.startErr = docker.ErrResourceConflict
	err := f.deployer.Deploy(context.Background(), f.reload(t), b)
	assert.ErrorIs(t, err, docker.ErrResourceConflict)

	p := f.reload(t)
	assert.Equal(t, store.DeployNotDeployed, p.DeploymentStatus)
	assert.Equal(t, store.SlotBlue, p.ActiveSlot)
}

func TestArtifactMissingAborts(t *testing.T) {
	f := newFixture(t, true)
	b := f.successfulBuild(t)
	require.NoError(t, os.RemoveAll(*b.ArtifactDir))

	err := f.deployer.Deploy(context.Background(), f.reload(t), b)
	assert.ErrorIs(t, err, ErrArtifactMissing)
	assert.Empty(t, f.driver.created)
}

func TestDeployLogContainsCause(t *testing.T) {
	f := newFixture(t, false)
	b := f.successfulBuild(t)

	err := f.deployer.Deploy(context.Background(), f.reload(t), b)
	require.Error(t, err)

	data, err := os.ReadFile(b.DeployLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "health check")
	assert.Contains(t, string(data), "aborted")
}

func intKey(m map[int]int) int {
	for k := range m {
		return k
	}
	return 0
}
