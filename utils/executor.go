package utils

import (
	"context"

	"github.com/pkg/errors"
)

// ErrExecutorClosed is returned when posting to an executor that has been closed.
var ErrExecutorClosed = errors.New("executor is closed")

// Executor runs posted jobs one at a time, in the order they were posted, on a single background
// goroutine. It is the execution context of a sensor model: every input callback is posted here so
// that the model's transactions come out in the order its inputs arrived.
type Executor struct {
	jobs    chan func(context.Context)
	workers *Workers
}

// NewExecutor starts an executor whose queue holds up to queueSize pending jobs.
func NewExecutor(queueSize int) *Executor {
	if queueSize < 1 {
		queueSize = 1
	}
	exec := &Executor{jobs: make(chan func(context.Context), queueSize)}
	exec.workers = NewWorkers(exec.run)
	return exec
}

func (exec *Executor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-exec.jobs:
			if ctx.Err() != nil {
				return
			}
			job(ctx)
		}
	}
}

// Post queues a job, blocking while the queue is full. It returns an error if the executor is
// closed or the context is done before the job could be queued.
func (exec *Executor) Post(ctx context.Context, job func(context.Context)) error {
	if err := exec.workers.Context().Err(); err != nil {
		return ErrExecutorClosed
	}
	select {
	case exec.jobs <- job:
		return nil
	case <-exec.workers.Context().Done():
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost queues a job if there is room and reports whether it did.
func (exec *Executor) TryPost(job func(context.Context)) bool {
	if exec.workers.Context().Err() != nil {
		return false
	}
	select {
	case exec.jobs <- job:
		return true
	default:
		return false
	}
}

// Close stops the executor and waits for the running job, if any, to return. Pending jobs are
// discarded. Close must not be called from inside a job.
func (exec *Executor) Close() {
	exec.workers.Stop()
}
