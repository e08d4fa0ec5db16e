package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flock/pkg/api"
)

func TestRunStoreLifecycle(t *testing.T) {
	s := NewInMemoryStore()

	_, err := s.GetRun("missing")
	require.ErrorIs(t, err, ErrRunNotFound)

	err = s.UpdateRun(&api.RunInstance{ID: "missing"})
	require.ErrorIs(t, err, ErrRunNotFound)

	inst := &api.RunInstance{
		ID:        "run-1",
		Mode:      api.ModeProactive,
		PersonaID: "luna",
		Status:    api.StatusRunning,
	}
	require.NoError(t, s.SaveRun(inst))

	// Stored instances are copies: mutating the original must not leak.
	inst.Status = api.StatusFailed
	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, got.Status)

	got.Status = api.StatusCompleted
	require.NoError(t, s.UpdateRun(got))
	again, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, again.Status)
}

func TestListRunsFilters(t *testing.T) {
	s := NewInMemoryStore()

	seed := []*api.RunInstance{
		{ID: "r1", Mode: api.ModeProactive, PersonaID: "luna", Status: api.StatusCompleted},
		{ID: "r2", Mode: api.ModeProactive, PersonaID: "kai", Status: api.StatusFailed},
		{ID: "r3", Mode: api.ModeReactive, PersonaID: "luna", Status: api.StatusCompleted},
	}
	for _, inst := range seed {
		require.NoError(t, s.SaveRun(inst))
	}

	all, err := s.ListRuns(RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	proactive, err := s.ListRuns(RunFilter{Mode: api.ModeProactive})
	require.NoError(t, err)
	assert.Len(t, proactive, 2)

	lunaCompleted, err := s.ListRuns(RunFilter{PersonaID: "luna", Status: api.StatusCompleted})
	require.NoError(t, err)
	assert.Len(t, lunaCompleted, 2)

	narrow, err := s.ListRuns(RunFilter{Mode: api.ModeReactive, PersonaID: "kai"})
	require.NoError(t, err)
	assert.Empty(t, narrow)
}

func TestActivityCounting(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	entries := []ActivityEntry{
		{PersonaID: "luna", Type: "post", CreatedAt: now.Add(-10 * time.Minute)},
		{PersonaID: "luna", Type: "reply", Ref: "thread-1", CreatedAt: now.Add(-5 * time.Minute)},
		{PersonaID: "luna", Type: "reply", Ref: "thread-1", CreatedAt: now.Add(-2 * time.Minute)},
		{PersonaID: "luna", Type: "reply", Ref: "thread-2", CreatedAt: now.Add(-time.Minute)},
		{PersonaID: "luna", Type: "like", CreatedAt: now.Add(-2 * time.Hour)},
		{PersonaID: "kai", Type: "reply", Ref: "thread-1", CreatedAt: now},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendActivity(ctx, e))
	}

	n, err := s.CountActivity(ctx, "luna", []string{"reply"}, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	mixed, err := s.CountActivity(ctx, "luna", []string{"post", "reply"}, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, mixed)

	// nil types counts everything; the old like is outside the window.
	all, err := s.CountActivity(ctx, "luna", nil, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, all)

	turns, err := s.CountActivityRef(ctx, "luna", "reply", "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 2, turns)
}

func TestRelationshipRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	_, err := s.GetRelationship(ctx, "luna", "kai")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveRelationship(ctx, Relationship{
		PersonaID: "luna", OtherID: "kai", Sentiment: "warm", InteractionCount: 1,
	}))
	r, err := s.GetRelationship(ctx, "luna", "kai")
	require.NoError(t, err)
	assert.Equal(t, 1, r.InteractionCount)
	assert.False(t, r.UpdatedAt.IsZero())

	// Directional: the reverse edge is a separate record.
	_, err = s.GetRelationship(ctx, "kai", "luna")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInteractionHistory(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	seed := []Interaction{
		{PersonaID: "luna", AuthorID: "ext-1", ContentID: "c-1", Action: "like", CreatedAt: now.Add(-2 * time.Hour)},
		{PersonaID: "luna", AuthorID: "ext-1", ContentID: "c-2", Action: "comment", CreatedAt: now.Add(-time.Hour)},
		{PersonaID: "luna", AuthorID: "ext-2", ContentID: "c-3", Action: "quote", CreatedAt: now.Add(-30 * time.Hour)},
		{PersonaID: "kai", AuthorID: "ext-3", ContentID: "c-4", Action: "like", CreatedAt: now},
	}
	for _, i := range seed {
		require.NoError(t, s.RecordInteraction(ctx, i))
	}

	yes, err := s.HasInteracted(ctx, "luna", "ext-1")
	require.NoError(t, err)
	assert.True(t, yes)

	no, err := s.HasInteracted(ctx, "luna", "ext-3")
	require.NoError(t, err)
	assert.False(t, no)

	// ext-2 falls outside the 24h window; ext-1 appears once despite two rows.
	recent, err := s.EngagedAuthorsSince(ctx, "luna", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"ext-1"}, recent)
}
