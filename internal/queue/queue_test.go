package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestFIFOPerProject(t *testing.T) {
	q := New()
	q.Enqueue(1, 10)
	q.Enqueue(1, 11)
	q.Enqueue(1, 12)

	pid, bid, ok := q.TryPick()
	if !ok || pid != 1 || bid != 10 {
		t.Fatalf("pick = (%d, %d, %v)", pid, bid, ok)
	}

	// Same project busy: nothing schedulable.
	if _, _, ok := q.TryPick(); ok {
		t.Fatal("picked a project with a running build")
	}

	q.MarkDone(1)
	_, bid, ok = q.TryPick()
	if !ok || bid != 11 {
		t.Fatalf("second pick = %d, %v, want 11", bid, ok)
	}
	q.MarkDone(1)
	_, bid, _ = q.TryPick()
	if bid != 12 {
		t.Fatalf("third pick = %d, want 12", bid)
	}
}

func TestRoundRobinAcrossProjects(t *testing.T) {
	q := New()
	q.Enqueue(1, 10)
	q.Enqueue(1, 11)
	q.Enqueue(2, 20)
	q.Enqueue(3, 30)

	var picks []int64
	for i := 0; i < 3; i++ {
		pid, _, ok := q.TryPick()
		if !ok {
			t.Fatalf("pick %d failed", i)
		}
		picks = append(picks, pid)
		q.MarkDone(pid)
	}

	if picks[0] != 1 || picks[1] != 2 || picks[2] != 3 {
		t.Errorf("picks = %v, want rotation 1,2,3", picks)
	}

	// Project 1 still has a pending build.
	pid, bid, ok := q.TryPick()
	if !ok || pid != 1 || bid != 11 {
		t.Errorf("final pick = (%d, %d, %v)", pid, bid, ok)
	}
}

func TestTryPickNeverYieldsRunningProject(t *testing.T) {
	q := New()
	q.Enqueue(1, 10)
	q.Enqueue(1, 11)
	q.Enqueue(2, 20)

	p1, _, _ := q.TryPick()
	p2, _, _ := q.TryPick()
	if p1 == p2 {
		t.Errorf("both picks hit project %d", p1)
	}
	if _, _, ok := q.TryPick(); ok {
		t.Error("third pick should find nothing")
	}
}

func TestDrop(t *testing.T) {
	q := New()
	q.Enqueue(1, 10)
	q.Enqueue(2, 20)
	q.Drop(1)

	pid, _, ok := q.TryPick()
	if !ok || pid != 2 {
		t.Errorf("pick after drop = (%d, %v)", pid, ok)
	}
	if q.PendingCount() != 0 {
		t.Errorf("PendingCount = %d", q.PendingCount())
	}
}

func TestWorkerPoolSingleBuilderPerProject(t *testing.T) {
	q := New()
	for i := 0; i < 3; i++ {
		q.Enqueue(1, int64(10+i))
	}

	var mu sync.Mutex
	var concurrent, maxConcurrent int
	var order []int64

	pool := NewWorkerPool(q, 4, func(_ context.Context, projectID, buildID int64) {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		order = append(order, buildID)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		concurrent--
		mu.Unlock()
	})
	pool.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("builds did not complete")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if maxConcurrent != 1 {
		t.Errorf("maxConcurrent = %d, want 1 (single build per project)", maxConcurrent)
	}
	for i, bid := range order {
		if bid != int64(10+i) {
			t.Errorf("order = %v, want enqueue order", order)
			break
		}
	}
}
