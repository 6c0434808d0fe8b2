package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/events"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

func TestObserveCountsEvents(t *testing.T) {
	bus := events.NewBus()
	m := New(func() int { return 3 })

	sub := bus.Subscribe(16)
	done := make(chan struct{})
	go func() {
		m.Observe(sub)
		close(done)
	}()

	bus.Publish(events.BuildStatus{ProjectID: 1, BuildID: 1, Status: store.BuildBuilding})
	bus.Publish(events.BuildStatus{ProjectID: 1, BuildID: 1, Status: store.BuildSuccess})
	bus.Publish(events.BuildStatus{ProjectID: 1, BuildID: 2, Status: store.BuildFailed})
	bus.Publish(events.Deployment{ProjectID: 1, Slot: store.SlotGreen, Status: events.DeployedStatus})
	bus.Publish(events.HealthCheck{ProjectID: 1, Slot: store.SlotGreen, Attempt: 1, OK: false})
	bus.Publish(events.HealthCheck{ProjectID: 1, Slot: store.SlotGreen, Attempt: 2, OK: true})
	bus.Publish(events.Log{BuildID: 1, Line: "x", Stream: "stdout"})

	bus.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer did not stop")
	}

	if got := testutil.ToFloat64(m.buildsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("success builds = %v", got)
	}
	if got := testutil.ToFloat64(m.buildsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed builds = %v", got)
	}
	if got := testutil.ToFloat64(m.deploymentsTotal.WithLabelValues("deployed")); got != 1 {
		t.Errorf("deployments = %v", got)
	}
	if got := testutil.ToFloat64(m.healthProbes.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok probes = %v", got)
	}
	if got := testutil.ToFloat64(m.logLines); got != 1 {
		t.Errorf("log lines = %v", got)
	}
}
