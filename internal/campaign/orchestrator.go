package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lmsrun/internal/config"
	"lmsrun/internal/history"
	"lmsrun/internal/ledger"
	"lmsrun/internal/logging"
	"lmsrun/internal/stats"
	"lmsrun/internal/tracing"
	"lmsrun/internal/types"
)

const defaultParallelism = 4

// OrchestratorConfig holds the collaborators and tunables of a run.
type OrchestratorConfig struct {
	Browser    types.Browser
	Discoverer Discoverer
	Ledger     Ledger
	Stats      Stats
	History    RunHistory // optional
	EventChan  chan OrchestratorEvent

	Parallelism           int           // Tabs per batch (default 4)
	MaxAttempts           int           // Attempts per activity (default 3)
	RetryPause            time.Duration // Pause between attempts (default 1s)
	RunRecon              bool
	AvgSecondsPerActivity float64 // Recon estimate input (default 3)
	Timing                config.TimingConfig
	CompletionSelectors   []string
	ExternalLinkSelector  string

	ReportsDir  string // Empty disables the JSON report
	MetricsFile string // Empty disables the Prometheus textfile
}

// Orchestrator runs one completion pass over every course.
type Orchestrator struct {
	mu sync.RWMutex

	browser    types.Browser
	discoverer Discoverer
	ledger     Ledger
	stats      Stats
	history    RunHistory
	eventChan  chan OrchestratorEvent
	scheduler  *Scheduler

	state    State
	progress Progress
	runID    string

	config OrchestratorConfig
}

// NewOrchestrator wires a run from cfg. Browser, Discoverer, Ledger and Stats
// are required.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	timer := logging.StartTimer(logging.CategoryCampaign, "NewOrchestrator")
	defer timer.Stop()

	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryPause < 0 {
		cfg.RetryPause = defaultRetryPause
	}
	if cfg.AvgSecondsPerActivity <= 0 {
		cfg.AvgSecondsPerActivity = defaultAvgSecondsPerActivity
	}

	o := &Orchestrator{
		browser:    cfg.Browser,
		discoverer: cfg.Discoverer,
		ledger:     cfg.Ledger,
		stats:      cfg.Stats,
		history:    cfg.History,
		eventChan:  cfg.EventChan,
		state:      StateInit,
		config:     cfg,
	}
	o.progress.State = StateInit
	if s, ok := cfg.Stats.(interface{ RunID() string }); ok {
		o.runID = s.RunID()
	}

	worker := &Worker{
		Browser:              cfg.Browser,
		Ledger:               cfg.Ledger,
		Stats:                cfg.Stats,
		Timing:               cfg.Timing,
		CompletionSelectors:  cfg.CompletionSelectors,
		ExternalLinkSelector: cfg.ExternalLinkSelector,
	}
	o.scheduler = &Scheduler{
		Browser:     cfg.Browser,
		Worker:      worker,
		Retrier:     NewRetrier(cfg.MaxAttempts, cfg.RetryPause, cfg.Ledger, cfg.Stats),
		Stats:       cfg.Stats,
		Parallelism: cfg.Parallelism,
		Pause:       cfg.Timing.BetweenActivities,
	}

	logging.CampaignDebug("Orchestrator configured: parallelism=%d attempts=%d recon=%v",
		cfg.Parallelism, cfg.MaxAttempts, cfg.RunRecon)
	return o
}

// Run executes the full pass. The returned result is never nil; it carries
// whatever was gathered before a failure. When ctx is cancelled, in-flight
// activities finish, a report is still written and ctx's error is returned.
func (o *Orchestrator) Run(ctx context.Context) (res *RunResult, err error) {
	timer := logging.StartTimer(logging.CategoryCampaign, "Run")
	defer timer.StopWithInfo()

	ctx, span := tracing.Start(ctx, "campaign.run", tracing.AttrRunID.String(o.runID))
	defer func() { tracing.End(span, err) }()

	res = &RunResult{RunID: o.runID}
	logging.Campaign("Run %s starting", o.runID)

	courses, tab, err := o.prepare(ctx)
	if err != nil {
		o.setState(StateFailed)
		return res, err
	}
	defer closeTab(tab)

	// From here on a report is written whatever happens.
	defer func() {
		o.setState(StateReport)
		o.writeReport(ctx, res, err)
		if err != nil && !res.Interrupted {
			o.setState(StateFailed)
			return
		}
		o.setState(StateDone)
	}()

	if o.config.RunRecon {
		o.setState(StateRecon)
		rep, rerr := o.recon(ctx, tab, courses)
		res.Recon = &rep
		if rerr != nil {
			res.Interrupted = true
			return res, rerr
		}
		o.emitEvent(EventReconComplete, "", "recon complete", rep)
	}

	order := Prioritize(courses, o.ledger)
	res.Order = order
	o.setState(StatePrioritized)
	for i, c := range order {
		logging.CampaignDebug("  %d. %s (%.0f%% done)", i+1, c.Name, o.ledger.CompletionPercent(c.ID))
	}
	o.emitEvent(EventPrioritized, "", fmt.Sprintf("%d courses", len(order)), order)

	o.setState(StateProcessing)
	o.mu.Lock()
	o.progress.CoursesTotal = len(order)
	o.mu.Unlock()

	for i, c := range order {
		if ctx.Err() != nil {
			res.Interrupted = true
			return res, ctx.Err()
		}

		if pct := o.ledger.CompletionPercent(c.ID); pct >= 100 {
			logging.Campaign("Skipping %s (100%% complete)", c.Name)
			o.emitEvent(EventCourseSkipped, c.ID, c.Name, nil)
			o.courseDone()
			continue
		}

		cerr := o.processCourse(ctx, tab, c)
		if lerr := o.ledger.Err(); lerr != nil {
			return res, fmt.Errorf("ledger write failed: %w", lerr)
		}
		if errors.Is(cerr, errEmptyCourse) {
			logging.CampaignWarn("No activities found in %s", c.Name)
			cerr = nil
		}
		if cerr != nil {
			if ctx.Err() != nil {
				res.Interrupted = true
				return res, ctx.Err()
			}
			logging.Get(logging.CategoryCampaign).Error("Course %s failed: %v", c.Name, cerr)
			o.stats.LogError(fmt.Sprintf("Course error: %s", c.Name))
			o.emitEvent(EventCourseFailed, c.ID, cerr.Error(), nil)
		}
		o.courseDone()

		if i < len(order)-1 {
			if serr := sleep(ctx, o.config.Timing.BetweenCourses.Pick()); serr != nil {
				res.Interrupted = true
				return res, serr
			}
		}
	}

	logging.Campaign("Run %s complete", o.runID)
	return res, nil
}

// Recon authenticates, lists courses and scans them without processing.
func (o *Orchestrator) Recon(ctx context.Context) (*ReconReport, error) {
	courses, tab, err := o.prepare(ctx)
	if err != nil {
		return nil, err
	}
	defer closeTab(tab)

	o.setState(StateRecon)
	rep, err := o.recon(ctx, tab, courses)
	if err != nil {
		return &rep, err
	}
	o.setState(StateDone)
	return &rep, nil
}

// prepare checks the session and lists courses. The returned tab is the
// navigation tab used for discovery; the caller closes it.
func (o *Orchestrator) prepare(ctx context.Context) ([]types.Course, types.Tab, error) {
	o.setState(StateInit)

	ok, err := o.browser.Authenticated(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("check session: %w", err)
	}
	if !ok {
		return nil, nil, ErrNotAuthenticated
	}
	o.setState(StateAuthenticated)

	tab, err := o.browser.NewTab(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open navigation tab: %w", err)
	}

	courses, err := o.discoverer.ListCourses(ctx, tab)
	if err != nil {
		closeTab(tab)
		return nil, nil, fmt.Errorf("list courses: %w", err)
	}
	if len(courses) == 0 {
		closeTab(tab)
		return nil, nil, ErrNoCourses
	}
	logging.Campaign("Found %d courses", len(courses))
	return courses, tab, nil
}

// processCourse discovers a course's activities and runs them. Errors are
// course-level; the caller logs them and moves on.
func (o *Orchestrator) processCourse(ctx context.Context, tab types.Tab, c types.Course) (err error) {
	ctx, span := tracing.Start(ctx, "campaign.course",
		tracing.AttrCourseID.String(c.ID),
		tracing.AttrCourseName.String(c.Name),
	)
	defer func() { tracing.End(span, err) }()

	o.mu.Lock()
	o.progress.CurrentCourse = c.Name
	o.mu.Unlock()
	o.emitEvent(EventCourseStarted, c.ID, c.Name, nil)
	logging.Campaign("Processing course: %s", c.Name)

	activities, err := o.discoverer.ListActivities(ctx, tab, c, o.ledger)
	if err != nil {
		return fmt.Errorf("discover activities: %w", err)
	}
	if len(activities) == 0 {
		return errEmptyCourse
	}

	rc := countActivities(c, activities)
	logging.Campaign("Found %d activities: %d done, %d to process, %d to skip",
		rc.Total, rc.AlreadyDone, rc.Remaining, rc.Skippable)
	if err := o.ledger.UpdateCourse(c.ID, c.Name, rc.Processable, rc.Skippable); err != nil {
		return fmt.Errorf("update course: %w", err)
	}

	schedErr := o.scheduler.ProcessCourse(ctx, c, activities)

	pct := o.ledger.CompletionPercent(c.ID)
	status := ledger.StatusInProgress
	if pct >= 100 {
		status = ledger.StatusCompleted
	}
	if err := o.ledger.SetStatus(c.ID, status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if schedErr != nil {
		return schedErr
	}

	o.stats.CourseProcessed()
	logging.Campaign("Course %s %.0f%% complete", c.Name, pct)
	o.emitEvent(EventCourseFinished, c.ID, c.Name, pct)
	return nil
}

// writeReport records the run summary. Every step is best-effort.
func (o *Orchestrator) writeReport(ctx context.Context, res *RunResult, runErr error) {
	ctx = context.WithoutCancel(ctx)
	summary := o.stats.Snapshot()
	res.Summary = summary

	logging.Campaign("Summary: %d completed, %d skipped, %d already done, %d failed, %d courses in %s",
		summary.Completed, summary.Skipped, summary.AlreadyDone, summary.Failed,
		summary.CoursesProcessed, stats.FormatDuration(summary.Duration))

	if o.config.ReportsDir != "" {
		path, err := stats.WriteReport(o.config.ReportsDir, stats.NewReport(summary, res.Interrupted), time.Now())
		if err != nil {
			logging.Get(logging.CategoryCampaign).Error("Report not written: %v", err)
		} else {
			res.ReportPath = path
		}
	}
	if o.config.MetricsFile != "" {
		if err := stats.WriteMetrics(o.config.MetricsFile, summary); err != nil {
			logging.CampaignWarn("Metrics not written: %v", err)
		}
	}
	if o.history != nil {
		outcome := history.OutcomeSuccess
		switch {
		case res.Interrupted:
			outcome = history.OutcomeInterrupted
		case runErr != nil:
			outcome = history.OutcomeFailed
		}
		if err := o.history.Record(ctx, history.RunFromSummary(summary, outcome, res.ReportPath)); err != nil {
			logging.CampaignWarn("Run history not recorded: %v", err)
		}
	}
}

// GetProgress returns the current run progress.
func (o *Orchestrator) GetProgress() Progress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.progress
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.progress.State = s
	o.mu.Unlock()
	if prev != s {
		logging.CampaignDebug("State %s -> %s", prev, s)
		o.emitEvent(EventStateChanged, "", string(s), nil)
	}
}

func (o *Orchestrator) courseDone() {
	o.mu.Lock()
	o.progress.CoursesDone++
	o.progress.CurrentCourse = ""
	o.mu.Unlock()
}

// emitEvent sends an event without blocking; events are dropped when the
// channel is full.
func (o *Orchestrator) emitEvent(eventType, courseID, message string, data any) {
	if o.eventChan == nil {
		return
	}
	event := OrchestratorEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		CourseID:  courseID,
		Message:   message,
		Data:      data,
	}
	select {
	case o.eventChan <- event:
	default:
	}
}

func closeTab(tab types.Tab) {
	if tab == nil {
		return
	}
	if err := tab.Close(); err != nil && !errors.Is(err, context.Canceled) {
		logging.CampaignDebug("Close navigation tab: %v", err)
	}
}
