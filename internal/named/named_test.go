package named

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/config"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/ports"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/storage"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

type fakeDriver struct {
	created []docker.ContainerSpec
	stopped []string
	removed []string
	nextID  int
}

func (f *fakeDriver) EnsureImage(context.Context, string, func(string)) error { return nil }

func (f *fakeDriver) CreateAndStart(_ context.Context, spec docker.ContainerSpec) (string, error) {
	f.created = append(f.created, spec)
	f.nextID++
	return fmt.Sprintf("named-%d", f.nextID), nil
}

func (f *fakeDriver) Stop(_ context.Context, handle string, _ time.Duration) error {
	f.stopped = append(f.stopped, handle)
	return nil
}

func (f *fakeDriver) Remove(_ context.Context, handle string) error {
	f.removed = append(f.removed, handle)
	return nil
}

func (f *fakeDriver) Logs(context.Context, string) (*docker.LogStream, error) {
	ch := make(chan docker.Chunk, 1)
	ch <- docker.Chunk{Data: []byte("ready\n"), Stream: "stdout"}
	close(ch)
	return docker.NewLogStream(ch, nil), nil
}

func newManager(t *testing.T) (*Manager, *fakeDriver, *store.Store) {
	t.Helper()
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)

	st, err := store.Open(layout.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := ports.NewRegistry(st, config.PortRange{Start: 10100, End: 10110})
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)

	driver := &fakeDriver{}
	return NewManager(driver, st, registry, layout, bus), driver, st
}

func TestCreateStartsWithPortAndData(t *testing.T) {
	m, driver, st := newManager(t)

	c, err := m.Create(context.Background(), store.NamedContainerSpec{
		Name:          "redis",
		Image:         "redis:7",
		ContainerPort: 6379,
		DataPath:      "/data",
	})
	require.NoError(t, err)
	assert.NotZero(t, c.HostPort)

	require.Len(t, driver.created, 1)
	spec := driver.created[0]
	assert.Equal(t, "container-redis", spec.Name)
	assert.Equal(t, 6379, spec.Ports[c.HostPort])
	assert.Equal(t, "unless-stopped", spec.RestartPolicy)
	assert.Equal(t, "redis", spec.Labels[docker.LabelContainer])
	require.Len(t, spec.Mounts, 1)
	assert.Equal(t, "/data", spec.Mounts[0].Target)

	fresh, err := st.GetNamedContainer("redis")
	require.NoError(t, err)
	assert.NotNil(t, fresh.Handle)
}

func TestCreateRejectsBadName(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.Create(context.Background(), store.NamedContainerSpec{Name: "Bad_Name", Image: "x"})
	assert.Error(t, err)
}

func TestStopKeepsRecordAndPort(t *testing.T) {
	m, driver, st := newManager(t)
	c, err := m.Create(context.Background(), store.NamedContainerSpec{
		Name: "redis", Image: "redis:7", ContainerPort: 6379,
	})
	require.NoError(t, err)

	require.NoError(t, m.Stop(context.Background(), "redis"))
	assert.Len(t, driver.stopped, 1)

	fresh, err := st.GetNamedContainer("redis")
	require.NoError(t, err)
	assert.Nil(t, fresh.Handle)
	assert.Equal(t, c.HostPort, fresh.HostPort, "port stays reserved while stopped")

	allocs, _ := st.ListPortAllocations()
	assert.Len(t, allocs, 1)
}

func TestRemoveReleasesPort(t *testing.T) {
	m, _, st := newManager(t)
	_, err := m.Create(context.Background(), store.NamedContainerSpec{
		Name: "redis", Image: "redis:7", ContainerPort: 6379,
	})
	require.NoError(t, err)

	require.NoError(t, m.Remove(context.Background(), "redis"))

	_, err = st.GetNamedContainer("redis")
	assert.ErrorIs(t, err, store.ErrNotFound)
	allocs, _ := st.ListPortAllocations()
	assert.Empty(t, allocs)
}

func TestStartRestartsRunning(t *testing.T) {
	m, driver, _ := newManager(t)
	_, err := m.Create(context.Background(), store.NamedContainerSpec{Name: "worker", Image: "busybox"})
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background(), "worker"))
	assert.Len(t, driver.removed, 1, "old container removed before restart")
	assert.Len(t, driver.created, 2)
}

func TestWatchLogsPublishesEvents(t *testing.T) {
	m, _, _ := newManager(t)
	c, err := m.Create(context.Background(), store.NamedContainerSpec{Name: "worker", Image: "busybox"})
	require.NoError(t, err)

	sub := m.bus.Subscribe(8)
	defer sub.Close()

	require.NoError(t, m.WatchLogs(context.Background(), "worker"))

	deadline := time.After(time.Second)
	for {
		select {
		case e := <-sub.C:
			if cl, ok := e.(events.ContainerLog); ok {
				assert.Equal(t, c.ID, cl.ContainerID)
				assert.Equal(t, "ready", cl.Line)
				return
			}
		case <-deadline:
			t.Fatal("no container_log event received")
		}
	}
}
