package api

import (
	"context"
	"errors"
)

var ErrModeAlreadyRegistered = errors.New("mode already registered")

// Engine runs mode workflows against registered definitions.
type Engine interface {
	// RegisterMode registers a definition for a mode.
	RegisterMode(def RunDefinition) error

	// Run starts and runs the mode workflow to completion (synchronously).
	// When input is a Trigger, the instance records its PersonaID.
	Run(ctx context.Context, mode Mode, input any) (*RunInstance, error)

	// GetRun looks up a run instance by ID.
	// Returns an error if the instance is not found.
	GetRun(ctx context.Context, id string) (*RunInstance, error)

	// ListRuns returns run instances matching the given options.
	// If options are zero-valued, all instances are returned.
	ListRuns(ctx context.Context, opts RunListOptions) ([]*RunInstance, error)

	// Resume restarts a previously failed run instance. The instance is
	// replayed using its stored Input; steps whose results were memoized do
	// not execute again.
	Resume(ctx context.Context, id string) (*RunInstance, error)

	// RecoverStuckRuns scans for run instances still marked StatusRunning
	// (for example after a process crash) and marks them StatusFailed with a
	// standard error message.
	//
	// It returns the number of instances it updated.
	//
	// This method is intended to be called on process startup *before*
	// starting workers or accepting new work, so that no instance is
	// legitimately running when it is executed.
	RecoverStuckRuns(ctx context.Context) (int, error)
}
