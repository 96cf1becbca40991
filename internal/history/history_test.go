package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lmsrun/internal/stats"
	"lmsrun/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.Record(ctx, Run{
			ID:        id,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Completed: i,
			Outcome:   OutcomeSuccess,
		}))
	}

	runs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
	assert.Equal(t, 2, runs[0].Completed)
	assert.True(t, runs[0].StartedAt.Equal(base.Add(2*time.Hour)))
}

func TestRecord_UpsertsByID(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	run := Run{ID: "r1", StartedAt: time.Now(), Outcome: OutcomeInterrupted}
	require.NoError(t, s.Record(ctx, run))
	run.Outcome = OutcomeSuccess
	run.ReportPath = "/tmp/report.json"
	require.NoError(t, s.Record(ctx, run))

	runs, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, OutcomeSuccess, runs[0].Outcome)
	assert.Equal(t, "/tmp/report.json", runs[0].ReportPath)
}

func TestRunFromSummary(t *testing.T) {
	rec := stats.NewRecorder()
	rec.LogCompleted("C", "A", types.ActivityPage)
	rec.LogError("x")
	rec.CourseProcessed()

	r := RunFromSummary(rec.Snapshot(), OutcomeFailed, "report.json")
	assert.Equal(t, rec.RunID(), r.ID)
	assert.Equal(t, 1, r.Completed)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.CoursesProcessed)
	assert.Equal(t, OutcomeFailed, r.Outcome)
}
