package flock

import (
	"database/sql"

	"github.com/petrijr/flock/internal/engine"
	"github.com/petrijr/flock/internal/persistence"
	"github.com/petrijr/flock/internal/taskqueue"
	workerpkg "github.com/petrijr/flock/pkg/worker"
)

// Store is the durable store consumed by the persona workflows: run
// instances plus schedule state, memory, relationships, interactions and the
// activity log.
type Store = persistence.Store

// WorkerBundle wires together an Engine, the durable Store behind it, a
// durable task queue, and a Worker that consumes tasks from that queue.
// Everything shares one SQLite database.
type WorkerBundle struct {
	Engine Engine
	Store  Store
	Worker *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests. The public API focuses on Engine and Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Store + Queue + Worker combo
// sharing the same SQLite database. Run instances, persona state and queued
// tasks are persisted in the provided *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:flock.db?_journal=WAL")
//	bundle, err := flock.NewSQLiteBundle(db, flock.NewLoggingObserver(logger))
//	// register modes on bundle.Engine
//	// enqueue triggers via bundle.Worker
func NewSQLiteBundle(db *sql.DB, obs Observer) (*WorkerBundle, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}

	eng := engine.NewEngineWithConfig(engine.Config{
		Runs:     store,
		Observer: obs,
	})

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	return &WorkerBundle{
		Engine: eng,
		Store:  store,
		Worker: workerpkg.New(eng, q),
		queue:  q,
	}, nil
}
