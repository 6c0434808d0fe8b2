package events

import (
	"encoding/json"
	"testing"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

func TestPublishFanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	a := bus.Subscribe(0)
	b := bus.Subscribe(0)

	bus.Publish(BuildStatus{ProjectID: 1, BuildID: 2, Status: store.BuildQueued})

	for _, sub := range []*Subscription{a, b} {
		e := <-sub.C
		bs, ok := e.(BuildStatus)
		if !ok || bs.BuildID != 2 {
			t.Errorf("received %#v", e)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	sub := bus.Subscribe(2)
	for i := 0; i < 10; i++ {
		bus.Publish(Log{BuildID: int64(i), Line: "x", Stream: "stdout"})
	}

	// The oldest events were dropped; the newest survive.
	got := make([]int64, 0, 2)
	for i := 0; i < 2; i++ {
		e := <-sub.C
		got = append(got, e.(Log).BuildID)
	}
	if got[0] >= got[1] {
		t.Errorf("events out of order: %v", got)
	}
	if got[1] != 9 {
		t.Errorf("newest event = %d, want 9", got[1])
	}
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	sub := bus.Subscribe(0)
	sub.Close()

	if _, ok := <-sub.C; ok {
		t.Error("channel not closed")
	}

	// Publishing after close must not panic.
	bus.Publish(Deployment{ProjectID: 1, Slot: store.SlotBlue, Status: DeployingStatus})
}

func TestShutdownClosesAll(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(0)
	bus.Shutdown()

	if _, ok := <-sub.C; ok {
		t.Error("channel not closed on shutdown")
	}

	// Subscribing after shutdown yields a closed channel.
	late := bus.Subscribe(0)
	if _, ok := <-late.C; ok {
		t.Error("late subscription channel not closed")
	}
}

func TestEncodeTags(t *testing.T) {
	cases := []struct {
		event Event
		tag   string
	}{
		{BuildStatus{}, "build_status"},
		{Log{}, "log"},
		{Deployment{}, "deployment"},
		{HealthCheck{}, "health_check"},
		{SlotContainerStatus{}, "slot_container_status"},
		{NamedContainerStatus{}, "named_container_status"},
		{ContainerLog{}, "container_log"},
	}

	for _, tc := range cases {
		data, err := Encode(tc.event)
		if err != nil {
			t.Fatalf("Encode(%T): %v", tc.event, err)
		}
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decoding envelope: %v", err)
		}
		if env.Type != tc.tag {
			t.Errorf("tag for %T = %q, want %q", tc.event, env.Type, tc.tag)
		}
	}
}
