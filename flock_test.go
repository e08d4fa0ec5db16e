package flock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flock/pkg/api"
)

func echoStep(ctx context.Context, input any) (any, error) {
	trig, _ := input.(Trigger)
	return RunResult{PersonaID: trig.PersonaID, Mode: trig.Mode}, nil
}

func TestModeBuilderBuildsDefinition(t *testing.T) {
	def := NewMode("echo").
		Step("first", echoStep).
		StepWithRetry("second", echoStep, Retry(3).WithConstantBackoff(time.Millisecond).Policy()).
		Definition()

	require.Len(t, def.Steps, 2)
	assert.Equal(t, Mode("echo"), def.Mode)
	assert.Nil(t, def.Steps[0].Retry)
	require.NotNil(t, def.Steps[1].Retry)
	assert.Equal(t, 3, def.Steps[1].Retry.MaxAttempts)
}

func TestModeBuilderPanicsOnNilStep(t *testing.T) {
	assert.Panics(t, func() {
		NewMode("echo").Step("bad", nil)
	})
	assert.Panics(t, func() {
		NewMode("echo").Step("", echoStep)
	})
}

func TestRetryBuilder(t *testing.T) {
	p := Retry(4).WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second).Policy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, 2.0, p.BackoffMultiplier)
	assert.Equal(t, 2*time.Second, p.MaxBackoff)

	imm := Retry(0).Immediate().Policy()
	assert.Equal(t, 1, imm.MaxAttempts)
	assert.Zero(t, imm.InitialBackoff)
}

func TestLocalRunnerProcessesAsyncRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runner := NewLocalRunner()
	NewMode("echo").Step("echo", echoStep).MustRegister(runner.Engine)

	require.NoError(t, runner.StartWorkers(ctx, 2))
	defer runner.Stop()

	require.NoError(t, runner.StartRunAsync(ctx, Trigger{Mode: "echo", PersonaID: "luna"}))

	deadline := time.Now().Add(3 * time.Second)
	for {
		runs, err := runner.Engine.ListRuns(ctx, RunListOptions{Mode: "echo", Status: StatusCompleted})
		require.NoError(t, err)
		if len(runs) == 1 {
			res, ok := runs[0].Output.(api.RunResult)
			require.True(t, ok)
			assert.Equal(t, "luna", res.PersonaID)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("run did not complete in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSkippedRunIsNotAWorkerError(t *testing.T) {
	ctx := context.Background()

	runner := NewLocalRunner()
	NewMode("gated").Step("gate", func(ctx context.Context, input any) (any, error) {
		return nil, NewSkip("min gap (12m < 25m)")
	}).MustRegister(runner.Engine)

	require.NoError(t, runner.StartRunAsync(ctx, Trigger{Mode: "gated", PersonaID: "luna"}))
	processed, err := runner.Worker.ProcessOne(ctx)
	require.True(t, processed)
	require.NoError(t, err)

	runs, err := runner.Engine.ListRuns(ctx, RunListOptions{Mode: "gated"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusSkipped, runs[0].Status)
	assert.Equal(t, "min gap (12m < 25m)", runs[0].SkipReason)
}
