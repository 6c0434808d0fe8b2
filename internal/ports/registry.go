// Package ports allocates host ports for project slot pairs and named
// containers. The persistent allocation table lives in the store; this
// package picks free ports, consults the OS and the container runtime for
// ports bound outside the table, and reconciles the two views on startup.
package ports

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/config"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

// ErrPortExhausted is returned when no free port (or contiguous pair)
// remains in the configured range.
var ErrPortExhausted = errors.New("port range exhausted")

// ErrPortBusy is returned when releasing a port still bound by a running
// container.
var ErrPortBusy = errors.New("port still bound by a running container")

// Store is the slice of the persistent store the registry needs.
type Store interface {
	ListPortAllocations() ([]store.PortAllocation, error)
	ReleasePort(port int) error
}

// Registry hands out ports from the configured range. Callers persist
// project pairs and named singleton ports through the store's creation
// transactions; the registry only picks candidates and tracks runtime
// observations.
type Registry struct {
	store Store
	start int
	end   int

	mu       sync.Mutex
	observed map[int]bool // host ports bound by running containers
	probe    func(port int) bool
}

// NewRegistry creates a registry over the given range.
func NewRegistry(st Store, rng config.PortRange) *Registry {
	return &Registry{
		store:    st,
		start:    rng.Start,
		end:      rng.End,
		observed: make(map[int]bool),
		probe:    listenFree,
	}
}

// FindFreePair returns the smallest free contiguous port pair. The lower
// port is the blue slot's, the upper the green's; the ordering is fixed
// for the life of the project.
func (r *Registry) FindFreePair() (blue, green int, err error) {
	taken, err := r.takenSet()
	if err != nil {
		return 0, 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for p := r.start; p+1 <= r.end; p++ {
		if taken[p] || taken[p+1] || r.observed[p] || r.observed[p+1] {
			continue
		}
		if !r.probe(p) || !r.probe(p+1) {
			continue
		}
		return p, p + 1, nil
	}
	return 0, 0, ErrPortExhausted
}

// FindFreePort returns the smallest free singleton port for a named
// container.
func (r *Registry) FindFreePort() (int, error) {
	taken, err := r.takenSet()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for p := r.start; p <= r.end; p++ {
		if taken[p] || r.observed[p] {
			continue
		}
		if !r.probe(p) {
			continue
		}
		return p, nil
	}
	return 0, ErrPortExhausted
}

// Release removes a port's allocation row. Releasing a port that a
// running container still binds is an error; the caller must stop the
// container first. Releasing an unallocated port is a no-op.
func (r *Registry) Release(port int) error {
	r.mu.Lock()
	bound := r.observed[port]
	r.mu.Unlock()
	if bound {
		return fmt.Errorf("port %d: %w", port, ErrPortBusy)
	}
	return r.store.ReleasePort(port)
}

// SetObserved replaces the set of host ports the container runtime
// reports as bound. The supervisor feeds this on reconciliation.
func (r *Registry) SetObserved(bound map[int]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = bound
}

// Reconcile drops allocation rows whose owner no longer exists. validOwners
// holds the owner strings of every live project and named container.
func (r *Registry) Reconcile(validOwners map[string]bool) error {
	allocs, err := r.store.ListPortAllocations()
	if err != nil {
		return err
	}
	for _, a := range allocs {
		if validOwners[a.Owner] {
			continue
		}
		log.Warn("releasing orphaned port allocation", "port", a.Port, "owner", a.Owner)
		if err := r.store.ReleasePort(a.Port); err != nil {
			return fmt.Errorf("releasing orphaned port %d: %w", a.Port, err)
		}
	}
	return nil
}

func (r *Registry) takenSet() (map[int]bool, error) {
	allocs, err := r.store.ListPortAllocations()
	if err != nil {
		return nil, fmt.Errorf("reading allocation table: %w", err)
	}
	taken := make(map[int]bool, len(allocs))
	for _, a := range allocs {
		taken[a.Port] = true
	}
	return taken, nil
}

// listenFree reports whether the OS will let us bind the port right now.
func listenFree(port int) bool {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
