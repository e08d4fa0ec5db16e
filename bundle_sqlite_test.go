package flock

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flock/internal/persistence"
	"github.com/petrijr/flock/internal/rhythm"
)

// TestSQLiteBundle_DurableAcrossRestart demonstrates that a run triggered via
// the worker/queue combination remains durable across a simulated process
// restart, assuming modes are re-registered on startup.
func TestSQLiteBundle_DurableAcrossRestart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPath := filepath.Join(t.TempDir(), "flock_bundle.db")
	dsn := "file:" + dbPath + "?_journal=WAL"

	register := func(eng Engine) {
		NewMode("echo").Step("echo", echoStep).MustRegister(eng)
	}

	// --- Phase 1: enqueue a trigger, no processing yet.

	db1, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)

	bundle1, err := NewSQLiteBundle(db1, nil)
	require.NoError(t, err)
	register(bundle1.Engine)

	before, err := bundle1.Engine.ListRuns(ctx, RunListOptions{Mode: "echo"})
	require.NoError(t, err)
	require.Len(t, before, 0)

	// Enqueueing must NOT create a run instance yet.
	require.NoError(t, bundle1.Worker.EnqueueRun(ctx, Trigger{Mode: "echo", PersonaID: "luna"}))

	mid, err := bundle1.Engine.ListRuns(ctx, RunListOptions{Mode: "echo"})
	require.NoError(t, err)
	require.Len(t, mid, 0)

	require.NoError(t, db1.Close())

	// --- Phase 2: "restart" against the same database file.

	db2, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db2.Close()

	bundle2, err := NewSQLiteBundle(db2, nil)
	require.NoError(t, err)
	register(bundle2.Engine)

	processed, err := bundle2.Worker.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed, "the queued trigger must survive the restart")

	after, err := bundle2.Engine.ListRuns(ctx, RunListOptions{Mode: "echo", Status: StatusCompleted})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "luna", after[0].PersonaID)
}

// TestSQLiteBundle_BotStoreRoundTrips exercises the persona-facing tables on
// a real SQLite database.
func TestSQLiteBundle_BotStoreRoundTrips(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "flock_store.db"))
	require.NoError(t, err)
	defer db.Close()

	bundle, err := NewSQLiteBundle(db, nil)
	require.NoError(t, err)
	store := bundle.Store

	// Schedule state starts absent, then round-trips.
	_, err = store.GetScheduleState(ctx, "luna")
	require.ErrorIs(t, err, persistence.ErrNotFound)

	lastPost := now.Add(-30 * time.Minute)
	saved := rhythm.ScheduleState{
		LastPostAt:    &lastPost,
		DailyMood:     rhythm.Mood{Multiplier: 1.2, Label: rhythm.MoodNormal},
		MoodDate:      "2026-03-10",
		PostsToday:    3,
		PostCountDate: "2026-03-10",
	}
	require.NoError(t, store.SaveScheduleState(ctx, "luna", saved))
	got, err := store.GetScheduleState(ctx, "luna")
	require.NoError(t, err)
	assert.Equal(t, saved.PostsToday, got.PostsToday)
	assert.Equal(t, saved.MoodDate, got.MoodDate)
	require.NotNil(t, got.LastPostAt)
	assert.True(t, got.LastPostAt.Equal(*saved.LastPostAt))

	// Memory.
	_, err = store.GetMemory(ctx, "luna")
	require.ErrorIs(t, err, persistence.ErrNotFound)
	require.NoError(t, store.SaveMemory(ctx, "luna", persistence.BotMemory{
		Digest:      "coffee again",
		Reflections: []string{"posted about coffee"},
		UpdatedAt:   now,
	}))
	mem, err := store.GetMemory(ctx, "luna")
	require.NoError(t, err)
	assert.Equal(t, "coffee again", mem.Digest)
	assert.Equal(t, []string{"posted about coffee"}, mem.Reflections)

	// Activity log counting.
	for i, typ := range []string{"post", "reply", "reply", "like"} {
		require.NoError(t, store.AppendActivity(ctx, persistence.ActivityEntry{
			PersonaID: "luna",
			Type:      typ,
			Ref:       "thread-1",
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	n, err := store.CountActivity(ctx, "luna", []string{"reply"}, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	all, err := store.CountActivity(ctx, "luna", nil, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, all)
	turns, err := store.CountActivityRef(ctx, "luna", "reply", "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 2, turns)

	// Relationships.
	_, err = store.GetRelationship(ctx, "luna", "kai")
	require.ErrorIs(t, err, persistence.ErrNotFound)
	require.NoError(t, store.SaveRelationship(ctx, persistence.Relationship{
		PersonaID: "luna", OtherID: "kai", InteractionCount: 2, UpdatedAt: now,
	}))
	rel, err := store.GetRelationship(ctx, "luna", "kai")
	require.NoError(t, err)
	assert.Equal(t, 2, rel.InteractionCount)

	// Interactions and the engaged-author window.
	require.NoError(t, store.RecordInteraction(ctx, persistence.Interaction{
		PersonaID: "luna", AuthorID: "ext-1", ContentID: "c-1", Action: "like",
		CreatedAt: now.Add(-2 * time.Hour),
	}))
	interacted, err := store.HasInteracted(ctx, "luna", "ext-1")
	require.NoError(t, err)
	assert.True(t, interacted)
	none, err := store.HasInteracted(ctx, "luna", "ext-2")
	require.NoError(t, err)
	assert.False(t, none)

	recent, err := store.EngagedAuthorsSince(ctx, "luna", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"ext-1"}, recent)
	older, err := store.EngagedAuthorsSince(ctx, "luna", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, older)
}
