package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"lmsrun/internal/history"
	"lmsrun/internal/ledger"
	"lmsrun/internal/stats"
	"lmsrun/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type orchestratorFixture struct {
	browser    *MockBrowser
	discoverer *MockDiscoverer
	ledger     *ledger.Store
	stats      *stats.Recorder
	history    *MockHistory
	reports    string
	events     chan OrchestratorEvent
}

func newFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	return &orchestratorFixture{
		browser:    NewMockBrowser(),
		discoverer: &MockDiscoverer{activities: make(map[string][]types.Activity), activityErr: make(map[string]error)},
		ledger:     newLedger(t),
		stats:      stats.NewRecorder(),
		history:    &MockHistory{},
		reports:    filepath.Join(t.TempDir(), "reports"),
		events:     make(chan OrchestratorEvent, 128),
	}
}

func (f *orchestratorFixture) orchestrator(recon bool) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		Browser:     f.browser,
		Discoverer:  f.discoverer,
		Ledger:      f.ledger,
		Stats:       f.stats,
		History:     f.history,
		EventChan:   f.events,
		Parallelism: 2,
		MaxAttempts: 2,
		RetryPause:  0,
		RunRecon:    recon,
		ReportsDir:  f.reports,
	})
}

func (f *orchestratorFixture) eventTypes() []string {
	var out []string
	for {
		select {
		case e := <-f.events:
			out = append(out, e.Type)
		default:
			return out
		}
	}
}

func TestNewOrchestrator_Defaults(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(OrchestratorConfig{Browser: f.browser, Discoverer: f.discoverer, Ledger: f.ledger, Stats: f.stats, RetryPause: -1})

	assert.Equal(t, defaultParallelism, o.config.Parallelism)
	assert.Equal(t, defaultMaxAttempts, o.config.MaxAttempts)
	assert.Equal(t, defaultRetryPause, o.config.RetryPause)
	assert.Equal(t, f.stats.RunID(), o.runID)
	assert.Equal(t, StateInit, o.State())
}

func TestOrchestrator_NotAuthenticated(t *testing.T) {
	f := newFixture(t)
	f.browser.authed = false

	res, err := f.orchestrator(true).Run(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.NotNil(t, res)
	assert.Empty(t, res.ReportPath)
	assert.Empty(t, f.history.runs)
	assert.Empty(t, f.browser.events, "no tab opened")
}

func TestOrchestrator_AuthCheckError(t *testing.T) {
	f := newFixture(t)
	f.browser.authErr = errors.New("chrome crashed")

	_, err := f.orchestrator(false).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chrome crashed")
}

func TestOrchestrator_NoCourses(t *testing.T) {
	f := newFixture(t)

	o := f.orchestrator(false)
	_, err := o.Run(context.Background())
	require.ErrorIs(t, err, ErrNoCourses)
	assert.Equal(t, StateFailed, o.State())
	assert.Zero(t, f.browser.open)
}

func TestOrchestrator_ScenarioSingleCourse(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	c1 := course("c1", "Algebra")
	f.discoverer.courses = []types.Course{c1}
	f.discoverer.activities["c1"] = []types.Activity{page("p1"), quiz("q1"), page("p2")}

	o := f.orchestrator(true)
	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, o.State())

	cp := f.ledger.Get("c1")
	assert.Equal(t, "Algebra", cp.Name)
	assert.Equal(t, 2, cp.TotalActivities)
	assert.Equal(t, 1, cp.SkippedActivities)
	assert.Equal(t, ledger.StatusCompleted, cp.Status)
	assert.Equal(t, 100.0, f.ledger.CompletionPercent("c1"))
	assert.False(t, f.ledger.IsCompleted("c1", quiz("q1").URL))

	sum := res.Summary
	assert.Equal(t, 2, sum.Completed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.CoursesProcessed)
	require.Len(t, sum.Quizzes, 1)
	assert.Equal(t, "Quiz q1", sum.Quizzes[0].Activity)

	require.NotNil(t, res.Recon)
	require.Len(t, res.Recon.Courses, 1)
	assert.Equal(t, 2, res.Recon.ToProcess)
	assert.Equal(t, 1, res.Recon.ToSkip)

	require.NotEmpty(t, res.ReportPath)
	data, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	var report stats.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 2, report.Summary.Completed)
	assert.False(t, report.Summary.Interrupted)

	require.Len(t, f.history.runs, 1)
	assert.Equal(t, history.OutcomeSuccess, f.history.runs[0].Outcome)
	assert.Equal(t, res.ReportPath, f.history.runs[0].ReportPath)

	assert.Zero(t, f.browser.open, "all tabs closed")
	assert.Contains(t, f.eventTypes(), EventReconComplete)
}

func TestOrchestrator_ResumeOrder(t *testing.T) {
	f := newFixture(t)
	a, b := course("A", "Algebra"), course("B", "Biology")
	require.NoError(t, f.ledger.UpdateCourse("A", "Algebra", 5, 0))
	require.NoError(t, f.ledger.MarkCompleted("A", page("a1").URL))
	require.NoError(t, f.ledger.MarkCompleted("A", page("a2").URL))

	f.discoverer.courses = []types.Course{b, a}
	f.discoverer.activities["A"] = []types.Activity{page("a1"), page("a2"), page("a3"), page("a4"), page("a5")}
	f.discoverer.activities["B"] = []types.Activity{page("b1")}

	res, err := f.orchestrator(false).Run(context.Background())
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"A", "B"}, ids(res.Order)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"A", "B"}, f.discoverer.listed)
	assert.Equal(t, 2, res.Summary.AlreadyDone)
	assert.Equal(t, 4, res.Summary.Completed)
}

func TestOrchestrator_SkipsFinishedCourses(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.UpdateCourse("done", "Done", 1, 0))
	require.NoError(t, f.ledger.MarkCompleted("done", page("d1").URL))

	f.discoverer.courses = []types.Course{course("done", "Done"), course("new", "New")}
	f.discoverer.activities["new"] = []types.Activity{page("n1")}

	res, err := f.orchestrator(false).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"new"}, f.discoverer.listed, "finished course is never visited")
	assert.Equal(t, 1, res.Summary.CoursesProcessed)
	assert.Contains(t, f.eventTypes(), EventCourseSkipped)
}

func TestOrchestrator_CourseErrorsContinue(t *testing.T) {
	f := newFixture(t)
	f.discoverer.courses = []types.Course{course("x", "Broken"), course("e", "Empty"), course("y", "Fine")}
	f.discoverer.activityErr["x"] = errors.New("course page timeout")
	f.discoverer.activities["y"] = []types.Activity{page("y1")}

	res, err := f.orchestrator(false).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, f.ledger.IsCompleted("y", page("y1").URL))
	assert.Equal(t, 1, res.Summary.CoursesProcessed)
	assert.Equal(t, 1, res.Summary.Failed)

	var msgs []string
	for _, e := range res.Summary.Errors {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{"Course error: Broken"}, msgs)
}

func TestOrchestrator_EmptyCourseIsNotAFailure(t *testing.T) {
	f := newFixture(t)
	f.discoverer.courses = []types.Course{course("e", "Empty"), course("y", "Fine")}
	f.discoverer.activities["y"] = []types.Activity{page("y1")}

	o := f.orchestrator(false)
	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.Summary.Failed)
	assert.Empty(t, res.Summary.Errors)
	assert.Equal(t, []string{"e", "y"}, f.discoverer.listed)
	assert.NotContains(t, f.eventTypes(), EventCourseFailed)
	assert.Equal(t, 2, o.GetProgress().CoursesDone)
}

func TestOrchestrator_ActivityFailureRecorded(t *testing.T) {
	f := newFixture(t)
	f.discoverer.courses = []types.Course{course("c1", "Course")}
	f.discoverer.activities["c1"] = []types.Activity{page("1"), page("2")}
	f.browser.navFail[page("2").URL] = -1

	res, err := f.orchestrator(false).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, f.browser.navigations(page("2").URL))
	assert.Equal(t, 1, res.Summary.Failed)
	assert.Len(t, f.ledger.Get("c1").FailedActivities, 1)
	assert.Equal(t, ledger.StatusInProgress, f.ledger.Get("c1").Status)
}

func TestOrchestrator_Interrupt(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	f.discoverer.courses = []types.Course{course("c1", "First"), course("c2", "Second")}
	f.discoverer.activities["c1"] = []types.Activity{page("1"), page("2"), page("3")}
	f.discoverer.activities["c2"] = []types.Activity{page("4")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.browser.onNavigate = func(url string) {
		if url == page("1").URL {
			cancel()
		}
	}

	res, err := f.orchestrator(false).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Interrupted)

	// The batch already running (width 2) completes; nothing after it starts.
	assert.True(t, f.ledger.IsCompleted("c1", page("1").URL))
	assert.True(t, f.ledger.IsCompleted("c1", page("2").URL))
	assert.Zero(t, f.browser.navigations(page("3").URL))
	assert.Equal(t, []string{"c1"}, f.discoverer.listed)
	assert.Empty(t, f.ledger.Get("c1").FailedActivities)

	require.NotEmpty(t, res.ReportPath)
	require.Len(t, f.history.runs, 1)
	assert.Equal(t, history.OutcomeInterrupted, f.history.runs[0].Outcome)
	assert.Zero(t, f.browser.open)
}

func TestOrchestrator_AbortsOnLedgerWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.discoverer.courses = []types.Course{course("c1", "First"), course("c2", "Second")}
	f.discoverer.activities["c1"] = []types.Activity{page("1")}
	f.discoverer.activities["c2"] = []types.Activity{page("2")}

	// A directory where the ledger file should be makes every save fail.
	require.NoError(t, os.MkdirAll(filepath.Join(f.ledger.Path(), "child"), 0755))

	res, err := f.orchestrator(false).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger write failed")
	assert.Equal(t, []string{"c1"}, f.discoverer.listed)
	require.Len(t, f.history.runs, 1)
	assert.Equal(t, history.OutcomeFailed, f.history.runs[0].Outcome)
	assert.False(t, res.Interrupted)
}

func TestOrchestrator_Recon(t *testing.T) {
	f := newFixture(t)
	f.discoverer.courses = []types.Course{course("c1", "First"), course("c2", "Broken")}
	f.discoverer.activities["c1"] = []types.Activity{page("1"), page("2"), quiz("3")}
	f.discoverer.activityErr["c2"] = errors.New("timeout")
	require.NoError(t, f.ledger.MarkCompleted("c1", page("1").URL))

	rep, err := f.orchestrator(true).Recon(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Scanned)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 3, rep.Activities)
	assert.Equal(t, 2, rep.ToProcess)
	assert.Equal(t, 1, rep.ToSkip)
	assert.Equal(t, 1, rep.Remaining)
	assert.Equal(t, Estimate(2, 2, 3), rep.EstimatedTime)

	// Recon never writes progress or opens activity pages.
	assert.Empty(t, f.browser.navigated)
	assert.Zero(t, f.ledger.Get("c1").TotalActivities)
	assert.Zero(t, f.browser.open)
}

func TestOrchestrator_GetProgress(t *testing.T) {
	f := newFixture(t)
	f.discoverer.courses = []types.Course{course("c1", "First")}
	f.discoverer.activities["c1"] = []types.Activity{page("1")}

	o := f.orchestrator(false)
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	p := o.GetProgress()
	assert.Equal(t, StateDone, p.State)
	assert.Equal(t, 1, p.CoursesTotal)
	assert.Equal(t, 1, p.CoursesDone)
	assert.Empty(t, p.CurrentCourse)
}
