package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lmsrun/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
)

// Report is the JSON document written at the end of a run.
type Report struct {
	RunID       string           `json:"run_id"`
	Summary     ReportSummary    `json:"summary"`
	Quizzes     []ManualItem     `json:"quizzes"`
	Assignments []ManualItem     `json:"assignments"`
	Errors      []ErrorEvent     `json:"errors"`
	Completed   []CompletedEvent `json:"completed_activities"`
}

// ReportSummary holds the headline counters.
type ReportSummary struct {
	StartedAt        time.Time `json:"started_at"`
	Duration         string    `json:"duration"`
	CoursesProcessed int       `json:"courses_processed"`
	Completed        int       `json:"activities_completed"`
	Skipped          int       `json:"activities_skipped"`
	AlreadyDone      int       `json:"activities_already_done"`
	Failed           int       `json:"activities_failed"`
	Interrupted      bool      `json:"interrupted,omitempty"`
}

// NewReport builds the report for a summary.
func NewReport(s Summary, interrupted bool) Report {
	return Report{
		RunID: s.RunID,
		Summary: ReportSummary{
			StartedAt:        s.StartedAt,
			Duration:         FormatDuration(s.Duration),
			CoursesProcessed: s.CoursesProcessed,
			Completed:        s.Completed,
			Skipped:          s.Skipped,
			AlreadyDone:      s.AlreadyDone,
			Failed:           s.Failed,
			Interrupted:      interrupted,
		},
		Quizzes:     s.Quizzes,
		Assignments: s.Assignments,
		Errors:      s.Errors,
		Completed:   s.CompletedEvents,
	}
}

// WriteReport writes report_YYYYMMDD_HHMMSS.json into dir and returns its path.
func WriteReport(dir string, r Report, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("report_%s.json", at.Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	logging.Get(logging.CategoryStats).Info("Report saved: %s", path)
	return path, nil
}

// WriteMetrics exports the summary as a Prometheus textfile (node_exporter
// textfile collector format). A fresh registry is used per call.
func WriteMetrics(path string, s Summary) error {
	reg := prometheus.NewRegistry()

	activities := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lmsrun_activities",
		Help: "Activities handled in the last run by outcome",
	}, []string{"outcome"})
	courses := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lmsrun_courses_processed",
		Help: "Courses processed in the last run",
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lmsrun_run_duration_seconds",
		Help: "Wall time of the last run",
	})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lmsrun_last_run_timestamp_seconds",
		Help: "Start time of the last run",
	})
	reg.MustRegister(activities, courses, duration, lastRun)

	activities.WithLabelValues("completed").Set(float64(s.Completed))
	activities.WithLabelValues("skipped").Set(float64(s.Skipped))
	activities.WithLabelValues("already_done").Set(float64(s.AlreadyDone))
	activities.WithLabelValues("failed").Set(float64(s.Failed))
	courses.Set(float64(s.CoursesProcessed))
	duration.Set(s.Duration.Seconds())
	lastRun.Set(float64(s.StartedAt.Unix()))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	logging.Get(logging.CategoryStats).Debug("Metrics written: %s", path)
	return nil
}
