// Package queue schedules builds: one FIFO per project, at most one
// running build per project, round-robin across projects for fairness.
package queue

import (
	"sync"
)

// Queue holds pending build ids per project plus the set of running
// (project, build) pairs.
type Queue struct {
	mu      sync.Mutex
	pending map[int64][]int64 // project id -> FIFO of build ids
	order   []int64           // projects with pending work, scan order
	cursor  int               // round-robin position in order
	running map[int64]int64   // project id -> running build id
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		pending: make(map[int64][]int64),
		running: make(map[int64]int64),
	}
}

// Enqueue appends a build to its project's FIFO.
func (q *Queue) Enqueue(projectID, buildID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[projectID]; !ok {
		q.order = append(q.order, projectID)
	}
	q.pending[projectID] = append(q.pending[projectID], buildID)
}

// TryPick returns the next schedulable (project, build) pair, removing it
// from the FIFO and recording it as running. A project with a running
// build is never picked. Selection rotates across projects.
func (q *Queue) TryPick() (projectID, buildID int64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.order)
	for i := 0; i < n; i++ {
		idx := (q.cursor + i) % n
		pid := q.order[idx]
		if _, busy := q.running[pid]; busy {
			continue
		}

		fifo := q.pending[pid]
		bid := fifo[0]
		if len(fifo) == 1 {
			delete(q.pending, pid)
			q.order = append(q.order[:idx], q.order[idx+1:]...)
			if q.cursor > idx {
				q.cursor--
			}
			if len(q.order) > 0 {
				q.cursor %= len(q.order)
			} else {
				q.cursor = 0
			}
		} else {
			q.pending[pid] = fifo[1:]
			q.cursor = (idx + 1) % n
		}

		q.running[pid] = bid
		return pid, bid, true
	}
	return 0, 0, false
}

// MarkDone clears a project's running record, freeing it to schedule its
// next queued build.
func (q *Queue) MarkDone(projectID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, projectID)
}

// Running reports whether the project has a build in flight.
func (q *Queue) Running(projectID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.running[projectID]
	return ok
}

// PendingCount returns the number of queued builds across all projects.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	for _, fifo := range q.pending {
		n += len(fifo)
	}
	return n
}

// Drop removes a project's pending builds and running record entirely
// (project deletion).
func (q *Queue) Drop(projectID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.running, projectID)
	if _, ok := q.pending[projectID]; !ok {
		return
	}
	delete(q.pending, projectID)
	for i, pid := range q.order {
		if pid == projectID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			if q.cursor > i {
				q.cursor--
			}
			if len(q.order) > 0 {
				q.cursor %= len(q.order)
			} else {
				q.cursor = 0
			}
			break
		}
	}
}
