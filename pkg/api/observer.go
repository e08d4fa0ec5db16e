package api

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay run execution. Implementations must not
// panic: observer callbacks are the engine's only blanket recovery point and
// are invoked on failure paths.
type Observer interface {
	// OnRunStart is called once when a run instance is first started,
	// before the first step is executed.
	OnRunStart(ctx context.Context, inst *RunInstance)

	// OnRunCompleted is called when a run instance reaches StatusCompleted.
	OnRunCompleted(ctx context.Context, inst *RunInstance)

	// OnRunSkipped is called when a step ends the run early via NewSkip.
	OnRunSkipped(ctx context.Context, inst *RunInstance, reason string)

	// OnRunFailed is called when a run instance transitions to StatusFailed.
	OnRunFailed(ctx context.Context, inst *RunInstance, err error)

	// OnStepStart is called before invoking a step function.
	// stepIndex is the 0-based index into RunDefinition.Steps.
	OnStepStart(ctx context.Context, inst *RunInstance, stepName string, stepIndex int)

	// OnStepCompleted is called after a step function returns, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, inst *RunInstance, stepName string, stepIndex int, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, inst *RunInstance)                     {}
func (NoopObserver) OnRunCompleted(ctx context.Context, inst *RunInstance)                 {}
func (NoopObserver) OnRunSkipped(ctx context.Context, inst *RunInstance, reason string)    {}
func (NoopObserver) OnRunFailed(ctx context.Context, inst *RunInstance, err error)         {}
func (NoopObserver) OnStepStart(ctx context.Context, inst *RunInstance, name string, idx int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, inst *RunInstance, name string, idx int, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, inst *RunInstance) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, inst)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, inst *RunInstance) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnRunSkipped(ctx context.Context, inst *RunInstance, reason string) {
	for _, o := range c.observers {
		o.OnRunSkipped(ctx, inst, reason)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, inst *RunInstance, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, inst *RunInstance, name string, idx int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, inst, name, idx)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, inst *RunInstance, name string, idx int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, inst, name, idx, err, d)
	}
}

// LoggingObserver writes structured logs using zap.
type LoggingObserver struct {
	Logger *zap.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided zap.Logger. If logger is nil, zap.NewNop()
// is used.
func NewLoggingObserver(logger *zap.Logger) Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, inst *RunInstance) {
	o.Logger.Info("run_start",
		zap.String("mode", string(inst.Mode)),
		zap.String("run_id", inst.ID),
		zap.String("persona_id", inst.PersonaID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, inst *RunInstance) {
	o.Logger.Info("run_completed",
		zap.String("mode", string(inst.Mode)),
		zap.String("run_id", inst.ID),
		zap.String("persona_id", inst.PersonaID),
	)
}

func (o *LoggingObserver) OnRunSkipped(ctx context.Context, inst *RunInstance, reason string) {
	o.Logger.Info("run_skipped",
		zap.String("mode", string(inst.Mode)),
		zap.String("run_id", inst.ID),
		zap.String("persona_id", inst.PersonaID),
		zap.String("reason", reason),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, inst *RunInstance, err error) {
	o.Logger.Error("run_failed",
		zap.String("mode", string(inst.Mode)),
		zap.String("run_id", inst.ID),
		zap.String("persona_id", inst.PersonaID),
		zap.Error(err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, inst *RunInstance, name string, idx int) {
	o.Logger.Debug("step_start",
		zap.String("mode", string(inst.Mode)),
		zap.String("run_id", inst.ID),
		zap.String("step", name),
		zap.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, inst *RunInstance, name string, idx int, err error, d time.Duration) {
	if err != nil {
		if _, skip := IsSkip(err); !skip {
			o.Logger.Error("step_completed",
				zap.String("mode", string(inst.Mode)),
				zap.String("run_id", inst.ID),
				zap.String("step", name),
				zap.Int("step_index", idx),
				zap.Duration("duration", d),
				zap.Error(err),
			)
			return
		}
	}
	o.Logger.Debug("step_completed",
		zap.String("mode", string(inst.Mode)),
		zap.String("run_id", inst.ID),
		zap.String("step", name),
		zap.Int("step_index", idx),
		zap.Duration("duration", d),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsSkipped       atomic.Int64
	runsFailed        atomic.Int64
	stepsCompleted    atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsSkipped   int64
	RunsFailed    int64
	PendingRuns   int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, inst *RunInstance) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, inst *RunInstance) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunSkipped(ctx context.Context, inst *RunInstance, reason string) {
	m.runsSkipped.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, inst *RunInstance, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, inst *RunInstance, name string, idx int, err error, d time.Duration) {
	// Only count successful steps for average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	skipped := m.runsSkipped.Load()
	failed := m.runsFailed.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsSkipped:     skipped,
		RunsFailed:      failed,
		PendingRuns:     started - completed - skipped - failed,
		StepsCompleted:  steps,
		AvgStepDuration: avg,
	}
}
