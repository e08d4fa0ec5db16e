package taskqueue

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flock/pkg/api"
)

func newTestQueue(t *testing.T) *SQLiteQueue {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q, err := NewSQLiteQueue(db)
	require.NoError(t, err)
	return q
}

func TestSQLiteQueueFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, Task{Trigger: api.Trigger{Mode: api.ModeProactive, PersonaID: "luna"}}))
	require.NoError(t, q.Enqueue(ctx, Task{Trigger: api.Trigger{Mode: api.ModeEngagement, PersonaID: "kai"}}))
	assert.Equal(t, 2, q.Len())

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "luna", first.Trigger.PersonaID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kai", second.Trigger.PersonaID)
	assert.Equal(t, 0, q.Len())
}

func TestSQLiteQueueHonorsNotBefore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, Task{
		Trigger:   api.Trigger{Mode: api.ModeReactive, PersonaID: "luna"},
		NotBefore: time.Now().Add(time.Hour),
	}))
	require.NoError(t, q.Enqueue(ctx, Task{
		Trigger: api.Trigger{Mode: api.ModeProactive, PersonaID: "kai"},
	}))

	// The immediate task is delivered even though the delayed one was
	// enqueued first.
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kai", got.Trigger.PersonaID)

	// Only the delayed task remains; Dequeue must block until cancellation.
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestSQLiteQueueDequeueRespectsCancellation(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after cancellation")
	}
}
