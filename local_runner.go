package flock

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/petrijr/flock/internal/engine"
	"github.com/petrijr/flock/internal/persistence"
	"github.com/petrijr/flock/internal/taskqueue"
	"github.com/petrijr/flock/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory Store and task queue,
// and a Worker to provide a simple "local runner" for development and tests.
//
// Typical usage:
//
//	runner := flock.NewLocalRunner()
//	// register modes on runner.Engine
//
//	// Synchronous run (no queue/worker involved):
//	inst, err := flock.Run(ctx, runner.Engine, flock.ModeProactive, trigger)
//
//	// Asynchronous run:
//	_ = runner.StartWorkers(ctx, 2)
//	_ = runner.StartRunAsync(ctx, trigger)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory run engine used by this runner.
	Engine Engine

	// Store backs both the engine and the persona workflows.
	Store Store

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine,
// store and queue.
//
// This is intended for local development, tests, and simple single-process
// deployments. It is not crash-durable.
func NewLocalRunner() *LocalRunner {
	store := persistence.NewInMemoryStore()
	eng := engine.NewEngine(store)
	q := taskqueue.NewInMemoryQueue(1024)
	w := worker.New(eng, q)

	return &LocalRunner{
		Engine: eng,
		Store:  store,
		Queue:  q,
		Worker: w,
	}
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("flock: LocalRunner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()

			for {
				processed, err := r.Worker.ProcessOne(ctx)
				if err != nil {
					// For local runner we treat cancellation as a clean shutdown signal.
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// For other errors, log and keep going so a single bad task
					// doesn't kill the worker loop.
					log.Printf("flock: local runner worker error: %v", err)
					continue
				}
				if !processed {
					// This only happens if ctx was cancelled before a task was obtained.
					// Loop will exit on next Dequeue when err == context.Canceled.
					continue
				}
			}
		}()
	}

	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// StartRunAsync enqueues a trigger to start a mode run asynchronously.
// The mode must already be registered on LocalRunner.Engine.
func (r *LocalRunner) StartRunAsync(ctx context.Context, trig Trigger) error {
	return r.Worker.EnqueueRun(ctx, trig)
}
