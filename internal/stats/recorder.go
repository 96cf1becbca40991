// Package stats aggregates the counters and events of a single run.
package stats

import (
	"fmt"
	"sync"
	"time"

	"lmsrun/internal/types"

	"github.com/google/uuid"
)

// ManualItem is a skipped activity that needs a human.
type ManualItem struct {
	Course   string `json:"course"`
	Activity string `json:"activity"`
}

// CompletedEvent records one activity finished during this run.
type CompletedEvent struct {
	Course    string             `json:"course"`
	Activity  string             `json:"activity"`
	Type      types.ActivityType `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
}

// ErrorEvent is one entry of the run's error log.
type ErrorEvent struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is an immutable copy of the recorder state.
type Summary struct {
	RunID            string           `json:"run_id"`
	StartedAt        time.Time        `json:"started_at"`
	Duration         time.Duration    `json:"-"`
	CoursesProcessed int              `json:"courses_processed"`
	Completed        int              `json:"activities_completed"`
	Skipped          int              `json:"activities_skipped"`
	AlreadyDone      int              `json:"activities_already_done"`
	Failed           int              `json:"activities_failed"`
	Quizzes          []ManualItem     `json:"quizzes"`
	Assignments      []ManualItem     `json:"assignments"`
	Errors           []ErrorEvent     `json:"errors"`
	CompletedEvents  []CompletedEvent `json:"completed_activities"`
}

// Recorder collects run statistics. All methods are goroutine-safe.
type Recorder struct {
	mu sync.Mutex

	runID       string
	start       time.Time
	courses     int
	completed   int
	skipped     int
	alreadyDone int
	failed      int
	quizzes     []ManualItem
	assignments []ManualItem
	errors      []ErrorEvent
	events      []CompletedEvent

	now func() time.Time
}

// NewRecorder starts a recorder with a fresh run id.
func NewRecorder() *Recorder {
	return &Recorder{
		runID: uuid.NewString(),
		start: time.Now(),
		now:   time.Now,
	}
}

// RunID returns the identifier of this run.
func (r *Recorder) RunID() string {
	return r.runID
}

// LogCompleted counts one completion and records the event.
func (r *Recorder) LogCompleted(course, activity string, typ types.ActivityType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	r.events = append(r.events, CompletedEvent{
		Course:    course,
		Activity:  activity,
		Type:      typ,
		Timestamp: r.now(),
	})
}

// LogSkipped counts one skip-eligible activity. Quizzes and assignments are
// listed for manual follow-up.
func (r *Recorder) LogSkipped(course, activity string, typ types.ActivityType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped++
	item := ManualItem{Course: course, Activity: activity}
	switch typ {
	case types.ActivityQuiz:
		r.quizzes = append(r.quizzes, item)
	case types.ActivityAssign:
		r.assignments = append(r.assignments, item)
	}
}

// LogAlreadyDone counts an activity the ledger already had.
func (r *Recorder) LogAlreadyDone(course, activity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alreadyDone++
}

// LogError appends to the error log and counts a failure.
func (r *Recorder) LogError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	r.errors = append(r.errors, ErrorEvent{Message: message, Timestamp: r.now()})
}

// CourseProcessed counts one course.
func (r *Recorder) CourseProcessed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses++
}

// Duration returns the elapsed run time.
func (r *Recorder) Duration() time.Duration {
	return time.Since(r.start)
}

// Snapshot copies the current state.
func (r *Recorder) Snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		RunID:            r.runID,
		StartedAt:        r.start,
		Duration:         time.Since(r.start),
		CoursesProcessed: r.courses,
		Completed:        r.completed,
		Skipped:          r.skipped,
		AlreadyDone:      r.alreadyDone,
		Failed:           r.failed,
		Quizzes:          append([]ManualItem{}, r.quizzes...),
		Assignments:      append([]ManualItem{}, r.assignments...),
		Errors:           append([]ErrorEvent{}, r.errors...),
		CompletedEvents:  append([]CompletedEvent{}, r.events...),
	}
}

// FormatDuration renders d as "Xh Ym Zs", dropping the hour part when zero.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}
