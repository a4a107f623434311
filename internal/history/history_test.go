package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jkoski/edgeflow/pkg/api"
)

func testRecord(runID, workflowID, status string, started time.Time) *Record {
	return &Record{
		RunID:        runID,
		WorkflowID:   workflowID,
		WorkflowName: "Test " + workflowID,
		Status:       status,
		Steps:        3,
		StartedAt:    started,
		FinishedAt:   started.Add(time.Second),
	}
}

// storeUnderTest runs the shared Store contract against an implementation.
func storeUnderTest(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	_, err := store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	require.NoError(t, store.SaveRun(ctx, testRecord("r1", "wf-a", "COMPLETED", base)))
	require.NoError(t, store.SaveRun(ctx, testRecord("r2", "wf-a", "FAILED", base.Add(time.Minute))))
	require.NoError(t, store.SaveRun(ctx, testRecord("r3", "wf-b", "COMPLETED", base.Add(2*time.Minute))))

	rec, err := store.GetRun(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, "wf-a", rec.WorkflowID)
	assert.Equal(t, "FAILED", rec.Status)
	assert.Equal(t, 3, rec.Steps)

	// Upsert: same run id overwrites.
	updated := testRecord("r2", "wf-a", "COMPLETED", base.Add(time.Minute))
	updated.Steps = 9
	require.NoError(t, store.SaveRun(ctx, updated))
	rec, err = store.GetRun(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", rec.Status)
	assert.Equal(t, 9, rec.Steps)

	all, err := store.ListRuns(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Ordered by start time.
	assert.Equal(t, "r1", all[0].RunID)
	assert.Equal(t, "r3", all[2].RunID)

	byWorkflow, err := store.ListRuns(ctx, Filter{WorkflowID: "wf-a"})
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 2)

	byStatus, err := store.ListRuns(ctx, Filter{Status: "COMPLETED"})
	require.NoError(t, err)
	assert.Len(t, byStatus, 3)

	both, err := store.ListRuns(ctx, Filter{WorkflowID: "wf-b", Status: "COMPLETED"})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "r3", both[0].RunID)
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	storeUnderTest(t, store)
}

func TestObserver_RecordsFinishedRuns(t *testing.T) {
	store := NewMemoryStore()
	obs := NewObserver(store, nil)
	ctx := context.Background()

	completed := &api.Result{
		RunID:        "run-ok",
		WorkflowID:   "wf",
		WorkflowName: "WF",
		Status:       api.StatusCompleted,
		Steps:        2,
		StartedAt:    time.Now(),
		FinishedAt:   time.Now(),
	}
	obs.OnRunCompleted(ctx, completed)

	rec, err := store.GetRun(ctx, "run-ok")
	require.NoError(t, err)
	assert.Equal(t, string(api.StatusCompleted), rec.Status)
	assert.Empty(t, rec.Error)

	failed := &api.Result{
		RunID:      "run-bad",
		WorkflowID: "wf",
		Status:     api.StatusFailed,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	obs.OnRunFailed(ctx, failed, assert.AnError)

	rec, err = store.GetRun(ctx, "run-bad")
	require.NoError(t, err)
	assert.Equal(t, string(api.StatusFailed), rec.Status)
	assert.Equal(t, assert.AnError.Error(), rec.Error)
}

func TestObserver_SurvivesCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	obs := NewObserver(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := &api.Result{RunID: "run-cancelled", Status: api.StatusCancelled, StartedAt: time.Now(), FinishedAt: time.Now()}
	obs.OnRunFailed(ctx, res, context.Canceled)

	rec, err := store.GetRun(context.Background(), "run-cancelled")
	require.NoError(t, err)
	assert.Equal(t, string(api.StatusCancelled), rec.Status)
}
