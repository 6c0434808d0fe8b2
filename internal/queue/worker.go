package queue

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
)

// DefaultPollInterval is how long an idle worker sleeps between picks.
// The workload is long-running builds, so sub-second pickup is plenty.
const DefaultPollInterval = 250 * time.Millisecond

// RunFunc executes one picked build.
type RunFunc func(ctx context.Context, projectID, buildID int64)

// WorkerPool drains the queue with a fixed number of workers.
type WorkerPool struct {
	queue    *Queue
	run      RunFunc
	workers  int
	interval time.Duration
}

// NewWorkerPool creates a pool of n workers executing run.
func NewWorkerPool(q *Queue, n int, run RunFunc) *WorkerPool {
	if n < 1 {
		n = 1
	}
	return &WorkerPool{queue: q, run: run, workers: n, interval: DefaultPollInterval}
}

// Start runs the workers until ctx is canceled.
func (p *WorkerPool) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			p.loop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (p *WorkerPool) loop(ctx context.Context, worker int) {
	for {
		projectID, buildID, ok := p.queue.TryPick()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.interval):
			}
			continue
		}

		log.Debug("worker picked build", "worker", worker, "project_id", projectID, "build_id", buildID)
		p.run(ctx, projectID, buildID)
		p.queue.MarkDone(projectID)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
