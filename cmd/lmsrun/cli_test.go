package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lmsrun/internal/campaign"
	"lmsrun/internal/history"
	"lmsrun/internal/ledger"
	"lmsrun/internal/logging"
	"lmsrun/internal/stats"
	"lmsrun/internal/types"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()

	_ = w.Close()
	os.Stdout = orig
	return <-done
}

// useWorkspace points the global flags at a fresh temp workspace.
func useWorkspace(t *testing.T) string {
	t.Helper()
	logger = zap.NewNop()
	ws := t.TempDir()
	workspace = ws
	t.Cleanup(func() {
		workspace = ""
		logging.CloseAll()
	})
	return ws
}

type percents map[string]float64

func (p percents) CompletionPercent(id string) float64 { return p[id] }

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 4))
	assert.Equal(t, "héll…", truncate("héllo wörld", 5))
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, "█████░░░░░", renderProgressBar(0.5, 10))
	assert.Equal(t, "████", renderProgressBar(2, 4))
	assert.Equal(t, "░░░░", renderProgressBar(-1, 4))
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "✅", statusIcon(100))
	assert.Equal(t, "🔄", statusIcon(40))
	assert.Equal(t, "⏳", statusIcon(0))
}

func TestRenderTable_AlignsColumns(t *testing.T) {
	out := renderTable([]string{"A", "Name"}, [][]string{{"1", "x"}, {"22", "yy"}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1   x", lines[1])
	assert.Equal(t, "22  yy", lines[2])
}

func TestRenderRecon(t *testing.T) {
	var buf bytes.Buffer
	renderRecon(&buf, nil)
	assert.Empty(t, buf.String())

	rep := &campaign.ReconReport{
		Courses: []campaign.ReconCourse{{
			Course:      types.Course{ID: "c1", Name: "Intro to Accounting"},
			Total:       5,
			Skippable:   1,
			Processable: 4,
			AlreadyDone: 1,
			Remaining:   3,
			Percent:     25,
		}},
		Scanned:       1,
		Failed:        1,
		Activities:    5,
		ToProcess:     4,
		ToSkip:        1,
		Remaining:     3,
		EstimatedTime: 9 * time.Second,
	}
	renderRecon(&buf, rep)
	out := buf.String()
	assert.Contains(t, out, "Intro to Accounting")
	assert.Contains(t, out, "25%")
	assert.Contains(t, out, "To process: 4")
	assert.Contains(t, out, "1 courses could not be scanned")
}

func TestRenderEvent_Order(t *testing.T) {
	var buf bytes.Buffer
	order := []types.Course{{ID: "b", Name: "Beta"}, {ID: "a", Name: "Alpha"}}
	renderEvent(&buf, campaign.OrchestratorEvent{Type: campaign.EventPrioritized, Data: order}, percents{"b": 50})

	out := buf.String()
	assert.Less(t, strings.Index(out, "Beta"), strings.Index(out, "Alpha"))
	assert.Contains(t, out, "(50% done)")
}

func TestRenderEvent_IgnoresStateChanges(t *testing.T) {
	var buf bytes.Buffer
	renderEvent(&buf, campaign.OrchestratorEvent{Type: campaign.EventStateChanged, Message: "processing"}, percents{})
	assert.Empty(t, buf.String())
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, nil)
	renderSummary(&buf, &campaign.RunResult{})
	assert.Empty(t, buf.String(), "nothing before a summary exists")

	res := &campaign.RunResult{
		Summary: stats.Summary{
			RunID:     "r1",
			Duration:  90 * time.Second,
			Completed: 7,
			Skipped:   2,
			Failed:    1,
			Quizzes:   []stats.ManualItem{{Course: "Accounting", Activity: "Quiz 1"}},
		},
		Interrupted: true,
		ReportPath:  "/tmp/report.json",
	}
	renderSummary(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "Completed:         7")
	assert.Contains(t, out, "Interrupted")
	assert.Contains(t, out, "/tmp/report.json")
	assert.Contains(t, out, "Quizzes to complete manually (1)")
	assert.Contains(t, out, "Quiz 1")
	assert.NotContains(t, out, "Assignments")
}

func TestStatusCmd_Empty(t *testing.T) {
	useWorkspace(t)

	out := captureOutput(t, func() {
		require.NoError(t, runStatus(&cobra.Command{}, nil))
	})
	assert.Contains(t, out, "No progress recorded yet.")
}

func TestStatusCmd_ShowsCourses(t *testing.T) {
	ws := useWorkspace(t)

	store, err := ledger.Open(filepath.Join(ws, "progress.json"), ledger.PolicyFail)
	require.NoError(t, err)
	require.NoError(t, store.UpdateCourse("c1", "Financial Accounting", 2, 0))
	require.NoError(t, store.MarkCompleted("c1", "https://lms.example/mod/page/view.php?id=1"))

	out := captureOutput(t, func() {
		require.NoError(t, runStatus(&cobra.Command{}, nil))
	})
	assert.Contains(t, out, "Financial Accounting")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "Completed: 1")
}

func TestStatusCmd_CorruptLedgerNotReset(t *testing.T) {
	ws := useWorkspace(t)
	path := filepath.Join(ws, "progress.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	err := runStatus(&cobra.Command{}, nil)
	require.ErrorIs(t, err, ledger.ErrCorrupt)

	data, rerr := os.ReadFile(path)
	require.NoError(t, rerr)
	assert.Equal(t, "{not json", string(data))
}

func TestHistoryCmd(t *testing.T) {
	ws := useWorkspace(t)

	ctx := context.Background()
	h, err := history.Open(ctx, filepath.Join(ws, "history.db"))
	require.NoError(t, err)
	require.NoError(t, h.Record(ctx, history.Run{
		ID:              "run-1",
		StartedAt:       time.Now(),
		DurationSeconds: 65,
		Completed:       12,
		Outcome:         history.OutcomeInterrupted,
	}))
	require.NoError(t, h.Close())

	out := captureOutput(t, func() {
		require.NoError(t, runHistory(&cobra.Command{}, nil))
	})
	assert.Contains(t, out, "Recent runs")
	assert.Contains(t, out, "interrupted")
	assert.Contains(t, out, "12")
}
