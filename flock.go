package flock

import (
	"context"
	"database/sql"

	"github.com/petrijr/flock/internal/engine"
	"github.com/petrijr/flock/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	RunDefinition        = api.RunDefinition
	StepDefinition       = api.StepDefinition
	RunInstance          = api.RunInstance
	RunListOptions       = api.RunListOptions
	Status               = api.Status
	Mode                 = api.Mode
	StepFunc             = api.StepFunc
	RetryPolicy          = api.RetryPolicy
	Trigger              = api.Trigger
	Notification         = api.Notification
	ActionTaken          = api.ActionTaken
	RunResult            = api.RunResult
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers and the skip sentinel.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewSkip              = api.NewSkip
	IsSkip               = api.IsSkip
)

// Re-export mode and status values for convenience.

const (
	ModeProactive   = api.ModeProactive
	ModeReactive    = api.ModeReactive
	ModeInteraction = api.ModeInteraction
	ModeEngagement  = api.ModeEngagement

	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusSkipped   = api.StatusSkipped
	StatusFailed    = api.StatusFailed
	StatusCompleted = api.StatusCompleted
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists run instances
// in a SQLite database. Mode definitions are kept in-memory.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// Run runs a registered mode workflow synchronously.
func Run(ctx context.Context, eng Engine, mode Mode, input any) (*RunInstance, error) {
	return eng.Run(ctx, mode, input)
}

// GetRun fetches a run instance by ID.
func GetRun(ctx context.Context, eng Engine, id string) (*RunInstance, error) {
	return eng.GetRun(ctx, id)
}

// ListRuns lists run instances according to the given options.
func ListRuns(ctx context.Context, eng Engine, opts RunListOptions) ([]*RunInstance, error) {
	return eng.ListRuns(ctx, opts)
}

// Resume resumes a previously failed run.
func Resume(ctx context.Context, eng Engine, id string) (*RunInstance, error) {
	return eng.Resume(ctx, id)
}

// RecoverStuckRuns delegates to eng.RecoverStuckRuns.
//
// It is typically called on process startup before starting any workers:
//
//	count, err := flock.RecoverStuckRuns(ctx, engine)
func RecoverStuckRuns(ctx context.Context, eng Engine) (int, error) {
	return eng.RecoverStuckRuns(ctx)
}
