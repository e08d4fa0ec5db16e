package api

import (
	"context"
	"encoding/gob"
	"errors"
	"time"
)

func init() {
	gob.Register(Trigger{})
	gob.Register(RunResult{})
	gob.Register(Notification{})
	gob.Register(ActionTaken{})
	gob.Register(map[int]any{})
}

// Mode selects which persona workflow a run executes.
type Mode string

const (
	ModeProactive   Mode = "proactive"
	ModeReactive    Mode = "reactive"
	ModeInteraction Mode = "interaction"
	ModeEngagement  Mode = "engagement"
)

// Status represents the lifecycle state of a run instance.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusSkipped   Status = "SKIPPED"
	StatusFailed    Status = "FAILED"
)

// StepFunc is a single step in a mode workflow. The output of one step is
// passed as the input of the next.
type StepFunc func(ctx context.Context, input any) (any, error)

// StepDefinition describes a named step.
type StepDefinition struct {
	Name  string
	Fn    StepFunc
	Retry *RetryPolicy
}

// RunDefinition describes a mode workflow as a fixed sequence of steps.
type RunDefinition struct {
	Mode  Mode
	Steps []StepDefinition
}

// Trigger is the inbound contract that starts a run: which mode, for which
// persona, and optionally the notification or target persona that caused it.
type Trigger struct {
	Mode            Mode
	PersonaID       string
	TargetPersonaID string
	Notification    *Notification
}

// Notification carries an inbound platform event (a reply or mention) that a
// reactive run responds to.
type Notification struct {
	ContentID    string
	AuthorID     string
	AuthorHandle string
	Text         string
	ThreadRootID string
	Reason       string
}

// ActionTaken records one platform-mutating action performed during a run.
type ActionTaken struct {
	Type      string // "post", "reply", "quote", "like", ...
	ContentID string // id of the content created, if any
	TargetID  string // id of the content acted on, if any
	Detail    string
}

// RunResult summarizes what a completed run did. It is the Output of every
// mode workflow, whether the run published something or skipped.
type RunResult struct {
	PersonaID  string
	Mode       Mode
	Actions    []ActionTaken
	Skipped    bool
	SkipReason string
}

// RunInstance holds the durable state of one run.
type RunInstance struct {
	ID        string
	Mode      Mode
	PersonaID string
	Status    Status
	Output    any
	Err       error

	// Input is the original Trigger (or other value) provided to Run. It is
	// used for deterministic replay on resume.
	Input any

	// CurrentStep tracks progress through the workflow steps.
	// Semantics:
	//   - Before any steps run: 0 (default)
	//   - While running step i: i
	//   - After completion: len(steps)
	//   - On failure: index of the step that failed (or was cancelled).
	CurrentStep int

	// StepResults memoizes the output of each completed step by index.
	// A step whose result is already present is never re-executed, so step
	// logic runs at most once per run even if the run itself is redelivered.
	StepResults map[int]any

	// SkipReason is set when Status is StatusSkipped.
	SkipReason string
}

// RunListOptions controls how run instances are listed.
// Zero values mean "no filter" for that field.
type RunListOptions struct {
	Mode      Mode
	PersonaID string
	Status    Status
}

// RetryPolicy controls how a step is retried when it returns an error.
// MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
type RetryPolicy struct {
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt. Values <= 0 default
	// to 2.0 (standard exponential backoff).
	BackoffMultiplier float64

	// MaxBackoff caps the delay; <= 0 means no cap.
	MaxBackoff time.Duration
}

// skipRunError is returned by steps that want to end the run early without
// treating it as a failure: quota denials, policy violations, rhythm "not
// now" decisions, turn ceilings. The engine marks the instance SKIPPED and
// records the reason.
type skipRunError struct {
	Reason string
}

func (e *skipRunError) Error() string {
	return "run skipped: " + e.Reason
}

// NewSkip returns an error that terminates the run with StatusSkipped and
// the given machine-readable reason, e.g. "daily cap (9/9)".
func NewSkip(reason string) error {
	return &skipRunError{Reason: reason}
}

// IsSkip returns (reason, true) if err indicates that the step wants to end
// the run as a skip.
func IsSkip(err error) (string, bool) {
	var s *skipRunError
	if errors.As(err, &s) {
		return s.Reason, true
	}
	return "", false
}
