// Package worker pulls trigger tasks from a queue and executes mode runs.
// Multiple workers may run concurrently, in one process or across several;
// there is no cross-run ordering guarantee for a persona (see the quota
// governor's accepted-risk note).
package worker

import (
	"context"
	"time"

	"github.com/petrijr/flock/internal/taskqueue"
	"github.com/petrijr/flock/pkg/api"
)

// Worker pulls tasks from a Queue and executes them using an Engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
}

// New creates a new Worker.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return &Worker{
		engine: engine,
		queue:  queue,
	}
}

// EnqueueRun enqueues a task to start a mode run asynchronously.
// It does NOT run the workflow itself; that is done by ProcessOne.
func (w *Worker) EnqueueRun(ctx context.Context, trig api.Trigger) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		Trigger:    trig,
		EnqueuedAt: time.Now(),
	})
}

// EnqueueRunAt enqueues a task to start a mode run no earlier than 'at'.
// Interaction mode uses this to schedule its follow-up reactive run.
func (w *Worker) EnqueueRunAt(ctx context.Context, trig api.Trigger, at time.Time) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		Trigger:    trig,
		EnqueuedAt: time.Now(),
		NotBefore:  at,
	})
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false, err == nil: no task processed (only happens if ctx cancelled before a task was obtained)
//   - processed == true: a task was processed; err indicates whether the run succeeded.
//
// Skipped runs are not errors: a run that ends at a quota denial or a policy
// gate completed normally from the worker's point of view.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		// Context cancellation or other dequeue error: nothing processed.
		return false, err
	}
	if task == nil {
		return false, nil
	}

	_, runErr := w.engine.Run(ctx, task.Trigger.Mode, task.Trigger)
	return true, runErr
}
