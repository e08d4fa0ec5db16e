package flock

import (
	"fmt"

	"github.com/petrijr/flock/pkg/api"
)

// ModeBuilder provides a fluent API for defining mode workflows:
//
//	def := flock.NewMode(flock.ModeProactive).
//	    Step("load-state", loadState).
//	    Step("decide-rhythm", decideRhythm).
//	    StepWithRetry("publish", publish, flock.Retry(3).Policy())
//
//	if err := def.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := flock.Run(ctx, engine, def.Mode(), trigger)
//
// The built-in persona workflows are registered by the bot package; the
// builder exists for custom modes and tests.
type ModeBuilder struct {
	def api.RunDefinition
}

// NewMode creates a new workflow builder for the given mode.
func NewMode(mode Mode) *ModeBuilder {
	return &ModeBuilder{
		def: api.RunDefinition{
			Mode:  mode,
			Steps: make([]api.StepDefinition, 0),
		},
	}
}

// Mode returns the mode this builder defines.
func (b *ModeBuilder) Mode() Mode {
	return b.def.Mode
}

// Definition returns the underlying RunDefinition.
// Typically used when interacting with lower-level APIs.
func (b *ModeBuilder) Definition() RunDefinition {
	return b.def
}

// Step appends a basic step to the workflow.
func (b *ModeBuilder) Step(name string, fn StepFunc) *ModeBuilder {
	if name == "" {
		panic("flock: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("flock: step %q has nil function", name))
	}

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:  name,
		Fn:    fn,
		Retry: nil,
	})
	return b
}

// StepWithRetry appends a step that uses the given retry policy.
func (b *ModeBuilder) StepWithRetry(name string, fn StepFunc, retry RetryPolicy) *ModeBuilder {
	if name == "" {
		panic("flock: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("flock: step %q has nil function", name))
	}

	// Make a copy so callers can mutate their RetryPolicy after the call
	// without affecting the stored definition.
	r := retry

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:  name,
		Fn:    fn,
		Retry: &r,
	})
	return b
}

// Register registers the built workflow with the given engine.
func (b *ModeBuilder) Register(eng Engine) error {
	return eng.RegisterMode(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *ModeBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
