// Package campaign drives a completion run: authentication check, course
// discovery, optional recon, prioritization, batched activity processing and
// the final report.
package campaign

import (
	"context"
	"errors"
	"time"

	"lmsrun/internal/discovery"
	"lmsrun/internal/history"
	"lmsrun/internal/ledger"
	"lmsrun/internal/stats"
	"lmsrun/internal/types"
)

var (
	// ErrNotAuthenticated is returned when the stored session is not logged in.
	ErrNotAuthenticated = errors.New("browser session is not authenticated")
	// ErrNoCourses is returned when course discovery finds nothing.
	ErrNoCourses = errors.New("no courses found")

	errEmptyCourse = errors.New("no activities found")
	errNoTab       = errors.New("no tab open")
)

// State is a phase of the run.
type State string

const (
	StateInit          State = "init"
	StateAuthenticated State = "authenticated"
	StateRecon         State = "recon"
	StatePrioritized   State = "prioritized"
	StateProcessing    State = "processing"
	StateReport        State = "report"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Ledger is the progress store the run reads and writes.
type Ledger interface {
	discovery.CompletionLookup
	CompletionPercent(courseID string) float64
	MarkCompleted(courseID, url string) error
	MarkFailed(courseID, url string, cause error) error
	UpdateCourse(courseID, name string, total, skipped int) error
	SetStatus(courseID string, status ledger.Status) error
	Err() error
}

// Stats receives run events.
type Stats interface {
	LogCompleted(course, activity string, typ types.ActivityType)
	LogSkipped(course, activity string, typ types.ActivityType)
	LogAlreadyDone(course, activity string)
	LogError(message string)
	CourseProcessed()
	Snapshot() stats.Summary
}

// Discoverer lists courses and their activities.
type Discoverer interface {
	ListCourses(ctx context.Context, tab types.Tab) ([]types.Course, error)
	ListActivities(ctx context.Context, tab types.Tab, course types.Course, done discovery.CompletionLookup) ([]types.Activity, error)
}

// RunHistory stores one row per finished run.
type RunHistory interface {
	Record(ctx context.Context, r history.Run) error
}

// Event types emitted on the event channel.
const (
	EventStateChanged   = "state_changed"
	EventReconComplete  = "recon_complete"
	EventPrioritized    = "prioritized"
	EventCourseStarted  = "course_started"
	EventCourseSkipped  = "course_skipped"
	EventCourseFinished = "course_finished"
	EventCourseFailed   = "course_failed"
)

// OrchestratorEvent is a progress notification for the CLI.
type OrchestratorEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	CourseID  string    `json:"course_id,omitempty"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// Progress is a point-in-time view of the run.
type Progress struct {
	State         State  `json:"state"`
	CurrentCourse string `json:"current_course,omitempty"`
	CoursesTotal  int    `json:"courses_total"`
	CoursesDone   int    `json:"courses_done"`
}

// RunResult is what Run hands back to the caller, also on failure.
type RunResult struct {
	RunID       string
	Recon       *ReconReport
	Order       []types.Course
	Summary     stats.Summary
	ReportPath  string
	Interrupted bool
}
