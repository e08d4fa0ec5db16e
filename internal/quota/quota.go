// Package quota guards the shared, rate-limited platform account. Each
// persona owns one Governor; a Governor tracks points charged against an
// hourly and a daily rolling window, reseeded once per process lifetime from
// durable activity counts so that restarts do not forget recent usage.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config holds the per-persona quota parameters.
type Config struct {
	// PointsPerAction is the fixed cost charged per mutating platform action.
	PointsPerAction int

	// HourlyCeiling and DailyCeiling bound the points per rolling window.
	HourlyCeiling int
	DailyCeiling  int

	// Cooldown is the fixed minimum gap between mutating actions, enforced
	// independently of the point windows to avoid machine-speed bursts.
	Cooldown time.Duration
}

// DefaultConfig mirrors the platform's documented write limits.
func DefaultConfig() Config {
	return Config{
		PointsPerAction: 3,
		HourlyCeiling:   5000,
		DailyCeiling:    35000,
		Cooldown:        5 * time.Second,
	}
}

// UsageSource supplies durable counts of mutating actions for reseeding.
type UsageSource interface {
	// CountActions returns how many mutating actions the persona performed
	// since the given time.
	CountActions(ctx context.Context, personaID string, since time.Time) (int, error)
}

// Governor is the per-persona rate limiter. It is safe for concurrent use
// within one process. Two concurrent runs can still both pass CanPost before
// either records; that race is accepted and bounded by the cooldown and the
// scheduler's burst caps rather than fixed with a distributed lock.
type Governor struct {
	mu        sync.Mutex
	personaID string
	cfg       Config
	src       UsageSource
	now       func() time.Time

	hourlyPoints  int
	dailyPoints   int
	hourlyResetAt time.Time
	dailyResetAt  time.Time
	lastActionAt  time.Time

	seeded  bool
	seedErr error
}

// NewGovernor creates a Governor. src may be nil; the governor then tracks
// usage in memory only.
func NewGovernor(personaID string, cfg Config, src UsageSource) *Governor {
	if cfg.PointsPerAction <= 0 {
		cfg.PointsPerAction = 3
	}
	return &Governor{
		personaID: personaID,
		cfg:       cfg,
		src:       src,
		now:       time.Now,
	}
}

// WithClock overrides the governor's clock. Intended for tests.
func (g *Governor) WithClock(now func() time.Time) *Governor {
	g.now = now
	return g
}

// CanPost reports whether one more mutating action is allowed right now.
// When denied it returns a deterministic machine-readable reason, e.g.
// "rate limit exceeded: hourly (498+3 > 500)". It never silently allows an
// over-quota action; reseed failures degrade to in-memory-only tracking.
func (g *Governor) CanPost(ctx context.Context) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.seedLocked(ctx, now)
	g.resetLocked(now)

	if !g.lastActionAt.IsZero() {
		if gap := now.Sub(g.lastActionAt); gap < g.cfg.Cooldown {
			return false, fmt.Sprintf("cooldown (%.0fs < %.0fs)",
				gap.Seconds(), g.cfg.Cooldown.Seconds())
		}
	}

	cost := g.cfg.PointsPerAction
	if g.hourlyPoints+cost > g.cfg.HourlyCeiling {
		return false, fmt.Sprintf("rate limit exceeded: hourly (%d+%d > %d)",
			g.hourlyPoints, cost, g.cfg.HourlyCeiling)
	}
	if g.dailyPoints+cost > g.cfg.DailyCeiling {
		return false, fmt.Sprintf("rate limit exceeded: daily (%d+%d > %d)",
			g.dailyPoints, cost, g.cfg.DailyCeiling)
	}
	return true, ""
}

// RecordPost charges the fixed cost against both windows after a successful
// mutating action.
func (g *Governor) RecordPost(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.seedLocked(ctx, now)
	g.resetLocked(now)

	g.hourlyPoints += g.cfg.PointsPerAction
	g.dailyPoints += g.cfg.PointsPerAction
	g.lastActionAt = now
}

// SeedError reports the Data-Unavailable condition from a failed reseed,
// if any. A non-nil value means the governor is running on in-memory
// tracking only.
func (g *Governor) SeedError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seedErr
}

// seedLocked performs the one-time cold-start recovery: counters are seeded
// from durable counts of the last hour/day. Failure is non-fatal.
func (g *Governor) seedLocked(ctx context.Context, now time.Time) {
	if g.seeded {
		return
	}
	g.seeded = true
	g.hourlyResetAt = now.Add(time.Hour)
	g.dailyResetAt = now.Add(24 * time.Hour)

	if g.src == nil {
		return
	}

	hourly, err := g.src.CountActions(ctx, g.personaID, now.Add(-time.Hour))
	if err != nil {
		g.seedErr = fmt.Errorf("quota reseed: %w", err)
		return
	}
	daily, err := g.src.CountActions(ctx, g.personaID, now.Add(-24*time.Hour))
	if err != nil {
		g.seedErr = fmt.Errorf("quota reseed: %w", err)
		return
	}
	g.hourlyPoints = hourly * g.cfg.PointsPerAction
	g.dailyPoints = daily * g.cfg.PointsPerAction
}

// resetLocked applies lazy window resets; no background timers.
func (g *Governor) resetLocked(now time.Time) {
	if !now.Before(g.hourlyResetAt) {
		g.hourlyPoints = 0
		g.hourlyResetAt = now.Add(time.Hour)
	}
	if !now.Before(g.dailyResetAt) {
		g.dailyPoints = 0
		g.dailyResetAt = now.Add(24 * time.Hour)
	}
}
