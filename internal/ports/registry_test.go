package ports

import (
	"errors"
	"testing"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/config"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

type fakeStore struct {
	allocs   map[int]store.PortAllocation
	released []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{allocs: make(map[int]store.PortAllocation)}
}

func (f *fakeStore) ListPortAllocations() ([]store.PortAllocation, error) {
	var out []store.PortAllocation
	for _, a := range f.allocs {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) ReleasePort(port int) error {
	delete(f.allocs, port)
	f.released = append(f.released, port)
	return nil
}

func (f *fakeStore) add(port int, kind store.PortKind, owner string) {
	f.allocs[port] = store.PortAllocation{Port: port, Kind: kind, Owner: owner}
}

func newTestRegistry(f *fakeStore) *Registry {
	r := NewRegistry(f, config.PortRange{Start: 10000, End: 10009})
	r.probe = func(int) bool { return true }
	return r
}

func TestFindFreePairSmallest(t *testing.T) {
	f := newFakeStore()
	r := newTestRegistry(f)

	blue, green, err := r.FindFreePair()
	if err != nil {
		t.Fatalf("FindFreePair: %v", err)
	}
	if blue != 10000 || green != 10001 {
		t.Errorf("pair = (%d, %d), want (10000, 10001)", blue, green)
	}
}

func TestFindFreePairSkipsAllocated(t *testing.T) {
	f := newFakeStore()
	f.add(10000, store.PortApplication, "project:1")
	f.add(10001, store.PortApplication, "project:1")
	r := newTestRegistry(f)

	blue, green, err := r.FindFreePair()
	if err != nil {
		t.Fatalf("FindFreePair: %v", err)
	}
	if blue != 10002 || green != 10003 {
		t.Errorf("pair = (%d, %d), want (10002, 10003)", blue, green)
	}
}

func TestFindFreePairSkipsObserved(t *testing.T) {
	f := newFakeStore()
	r := newTestRegistry(f)
	r.SetObserved(map[int]bool{10001: true})

	blue, green, err := r.FindFreePair()
	if err != nil {
		t.Fatalf("FindFreePair: %v", err)
	}
	if blue != 10002 || green != 10003 {
		t.Errorf("pair = (%d, %d), want (10002, 10003)", blue, green)
	}
}

func TestFindFreePairExhausted(t *testing.T) {
	f := newFakeStore()
	for p := 10000; p <= 10009; p++ {
		f.add(p, store.PortNamed, "container:x")
	}
	r := newTestRegistry(f)

	if _, _, err := r.FindFreePair(); !errors.Is(err, ErrPortExhausted) {
		t.Errorf("err = %v, want ErrPortExhausted", err)
	}
}

func TestFindFreePortSingleton(t *testing.T) {
	f := newFakeStore()
	f.add(10000, store.PortApplication, "project:1")
	r := newTestRegistry(f)

	p, err := r.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort: %v", err)
	}
	if p != 10001 {
		t.Errorf("port = %d, want 10001", p)
	}
}

func TestReleaseBusyPort(t *testing.T) {
	f := newFakeStore()
	f.add(10000, store.PortApplication, "project:1")
	r := newTestRegistry(f)
	r.SetObserved(map[int]bool{10000: true})

	if err := r.Release(10000); !errors.Is(err, ErrPortBusy) {
		t.Errorf("err = %v, want ErrPortBusy", err)
	}

	// Idempotent release of a free, unallocated port.
	r.SetObserved(nil)
	if err := r.Release(10005); err != nil {
		t.Errorf("Release(unallocated) = %v", err)
	}
}

func TestReconcileDropsOrphans(t *testing.T) {
	f := newFakeStore()
	f.add(10000, store.PortApplication, "project:1")
	f.add(10001, store.PortApplication, "project:1")
	f.add(10002, store.PortNamed, "container:gone")
	r := newTestRegistry(f)

	err := r.Reconcile(map[string]bool{"project:1": true})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(f.released) != 1 || f.released[0] != 10002 {
		t.Errorf("released = %v, want [10002]", f.released)
	}
}
