package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/flock/internal/persistence"
	"github.com/petrijr/flock/pkg/api"
)

// engineImpl is a synchronous, in-process engine implementation. Mode
// definitions live in memory (they hold closures); run instances are
// persisted through a RunStore after every step so that step results survive
// crashes and redeliveries.
type engineImpl struct {
	mu    sync.RWMutex
	modes map[api.Mode]api.RunDefinition

	runs     persistence.RunStore
	observer api.Observer
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Runs     persistence.RunStore
	Observer api.Observer
}

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() api.Engine {
	return NewEngine(persistence.NewInMemoryStore())
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{
		Runs:     persistence.NewInMemoryStore(),
		Observer: obs,
	})
}

// NewSQLiteEngine returns an Engine that persists run instances in a SQLite
// database. Mode definitions are kept in-memory.
func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(store), nil
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Runs: store, Observer: obs}), nil
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &engineImpl{
		modes:    make(map[api.Mode]api.RunDefinition),
		runs:     cfg.Runs,
		observer: obs,
	}
}

// NewEngine returns an Engine backed by the given run store.
func NewEngine(runs persistence.RunStore) api.Engine {
	return NewEngineWithConfig(Config{Runs: runs})
}

func (e *engineImpl) RegisterMode(def api.RunDefinition) error {
	if def.Mode == "" {
		return errors.New("mode is required")
	}
	if len(def.Steps) == 0 {
		return errors.New("mode must have at least one step")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.modes[def.Mode]; ok {
		return fmt.Errorf("%w: %s", api.ErrModeAlreadyRegistered, def.Mode)
	}
	e.modes[def.Mode] = def
	return nil
}

func (e *engineImpl) definition(mode api.Mode) (api.RunDefinition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	def, ok := e.modes[mode]
	if !ok {
		return api.RunDefinition{}, fmt.Errorf("unknown mode: %s", mode)
	}
	return def, nil
}

func (e *engineImpl) Run(ctx context.Context, mode api.Mode, input any) (*api.RunInstance, error) {
	def, err := e.definition(mode)
	if err != nil {
		return nil, err
	}

	inst := &api.RunInstance{
		ID:          uuid.NewString(),
		Mode:        def.Mode,
		Status:      api.StatusRunning,
		Input:       input,
		CurrentStep: 0,
		StepResults: make(map[int]any),
	}
	if trig, ok := input.(api.Trigger); ok {
		inst.PersonaID = trig.PersonaID
	}

	e.observer.OnRunStart(ctx, inst)

	// Persist the instance as soon as it starts.
	if err := e.runs.SaveRun(inst); err != nil {
		inst.Status = api.StatusFailed
		inst.Err = err
		e.observer.OnRunFailed(ctx, inst, err)
		return inst, err
	}

	return e.executeSteps(ctx, def, inst, input)
}

func (e *engineImpl) GetRun(ctx context.Context, id string) (*api.RunInstance, error) {
	inst, err := e.runs.GetRun(id)
	if err != nil {
		if errors.Is(err, persistence.ErrRunNotFound) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, err
	}
	return inst, nil
}

func (e *engineImpl) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.RunInstance, error) {
	return e.runs.ListRuns(persistence.RunFilter{
		Mode:      opts.Mode,
		PersonaID: opts.PersonaID,
		Status:    opts.Status,
	})
}

func (e *engineImpl) Resume(ctx context.Context, id string) (*api.RunInstance, error) {
	inst, err := e.runs.GetRun(id)
	if err != nil {
		if errors.Is(err, persistence.ErrRunNotFound) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, err
	}

	if inst.Status != api.StatusFailed {
		return nil, fmt.Errorf("cannot resume run %s in status %s", id, inst.Status)
	}

	def, err := e.definition(inst.Mode)
	if err != nil {
		return nil, err
	}

	// Replay from the beginning; memoized step results keep completed steps
	// from executing again.
	inst.Status = api.StatusRunning
	inst.Err = nil
	inst.Output = nil
	inst.CurrentStep = 0
	if inst.StepResults == nil {
		inst.StepResults = make(map[int]any)
	}

	if err := e.runs.UpdateRun(inst); err != nil {
		return inst, err
	}

	return e.executeSteps(ctx, def, inst, inst.Input)
}

func (e *engineImpl) RecoverStuckRuns(ctx context.Context) (int, error) {
	stuck, err := e.runs.ListRuns(persistence.RunFilter{Status: api.StatusRunning})
	if err != nil {
		return 0, err
	}

	var count int
	for _, inst := range stuck {
		inst.Status = api.StatusFailed
		inst.Err = errors.New("run interrupted: process terminated")
		if err := e.runs.UpdateRun(inst); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (e *engineImpl) executeSteps(
	ctx context.Context,
	def api.RunDefinition,
	inst *api.RunInstance,
	input any,
) (*api.RunInstance, error) {
	current := input

	for i := 0; i < len(def.Steps); i++ {
		step := def.Steps[i]

		// Memoization: a step whose result is already recorded ran to
		// completion on a previous delivery of this run. Reuse the value
		// instead of re-executing the step logic.
		if cached, ok := inst.StepResults[i]; ok {
			current = cached
			continue
		}

		inst.CurrentStep = i
		_ = e.runs.UpdateRun(inst)

		next, err := e.runStepWithRetry(ctx, inst, step, i, current)
		if err != nil {
			if reason, ok := api.IsSkip(err); ok {
				inst.Status = api.StatusSkipped
				inst.SkipReason = reason
				inst.Err = nil
				inst.Output = api.RunResult{
					PersonaID:  inst.PersonaID,
					Mode:       inst.Mode,
					Skipped:    true,
					SkipReason: reason,
				}
				_ = e.runs.UpdateRun(inst)
				e.observer.OnRunSkipped(ctx, inst, reason)
				return inst, nil
			}

			inst.Status = api.StatusFailed
			inst.Err = err
			_ = e.runs.UpdateRun(inst)
			e.observer.OnRunFailed(ctx, inst, err)
			return inst, err
		}

		current = next
		inst.StepResults[i] = next
		_ = e.runs.UpdateRun(inst)
	}

	inst.Status = api.StatusCompleted
	inst.Output = current
	inst.CurrentStep = len(def.Steps)
	_ = e.runs.UpdateRun(inst)

	e.observer.OnRunCompleted(ctx, inst)
	return inst, nil
}

// runStepWithRetry invokes one step under its retry policy. Skip sentinels
// are returned immediately and never retried.
func (e *engineImpl) runStepWithRetry(
	ctx context.Context,
	inst *api.RunInstance,
	step api.StepDefinition,
	index int,
	input any,
) (any, error) {
	maxAttempts := 1
	var (
		backoff    time.Duration
		maxBackoff time.Duration
		multiplier float64
	)
	if step.Retry != nil {
		if step.Retry.MaxAttempts > 0 {
			maxAttempts = step.Retry.MaxAttempts
		}
		backoff = step.Retry.InitialBackoff
		maxBackoff = step.Retry.MaxBackoff
		multiplier = step.Retry.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		startTime := time.Now()
		e.observer.OnStepStart(ctx, inst, step.Name, index)

		next, err := step.Fn(ctx, input)

		e.observer.OnStepCompleted(ctx, inst, step.Name, index, err, time.Since(startTime))

		if err == nil {
			return next, nil
		}
		if _, ok := api.IsSkip(err); ok {
			return nil, err
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		if backoff > 0 {
			delay := backoff
			if maxBackoff > 0 && delay > maxBackoff {
				delay = maxBackoff
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			grown := time.Duration(float64(backoff) * multiplier)
			if maxBackoff > 0 && grown > maxBackoff {
				backoff = maxBackoff
			} else {
				backoff = grown
			}
		}
	}
	return nil, lastErr
}
