package campaign

import (
	"context"
	"time"

	"lmsrun/internal/logging"
	"lmsrun/internal/types"
)

const defaultAvgSecondsPerActivity = 3.0

// ReconCourse is the read-only activity count for one course.
type ReconCourse struct {
	Course      types.Course `json:"course"`
	Total       int          `json:"total_activities"`
	Skippable   int          `json:"to_skip"`
	Processable int          `json:"to_process"`
	AlreadyDone int          `json:"already_done"`
	Remaining   int          `json:"remaining"`
	Percent     float64      `json:"completion_pct"`
}

// ReconReport summarizes every scanned course.
type ReconReport struct {
	Courses       []ReconCourse `json:"courses"`
	Scanned       int           `json:"courses_scanned"`
	Failed        int           `json:"courses_failed"`
	Activities    int           `json:"total_activities"`
	ToProcess     int           `json:"total_to_process"`
	ToSkip        int           `json:"total_to_skip"`
	Remaining     int           `json:"total_remaining"`
	EstimatedTime time.Duration `json:"estimated_time"`
}

// countActivities builds the recon entry for one course listing.
func countActivities(course types.Course, activities []types.Activity) ReconCourse {
	rc := ReconCourse{Course: course, Total: len(activities)}
	for _, a := range activities {
		if a.ShouldSkip {
			rc.Skippable++
			continue
		}
		rc.Processable++
		if a.IsCompleted {
			rc.AlreadyDone++
		}
	}
	rc.Remaining = max(0, rc.Processable-rc.AlreadyDone)
	if rc.Processable > 0 {
		rc.Percent = float64(rc.AlreadyDone) / float64(rc.Processable) * 100
	}
	return rc
}

// Estimate returns the expected processing time for n activities run
// parallelism at a time.
func Estimate(n, parallelism int, avgSeconds float64) time.Duration {
	if parallelism < 1 {
		parallelism = 1
	}
	if avgSeconds <= 0 {
		avgSeconds = defaultAvgSecondsPerActivity
	}
	secs := avgSeconds * float64(n) / float64(parallelism)
	return time.Duration(secs * float64(time.Second)).Round(time.Second)
}

// recon scans every course without changing any state. A course that cannot
// be scanned is logged and left out of the report.
func (o *Orchestrator) recon(ctx context.Context, tab types.Tab, courses []types.Course) (ReconReport, error) {
	timer := logging.StartTimer(logging.CategoryCampaign, "Recon")
	defer timer.StopWithInfo()

	var rep ReconReport
	for i, c := range courses {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		logging.CampaignDebug("Scanning %d/%d: %s", i+1, len(courses), c.Name)

		activities, err := o.discoverer.ListActivities(ctx, tab, c, o.ledger)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			logging.CampaignWarn("Recon failed for %s: %v", c.Name, err)
			rep.Failed++
			continue
		}

		rc := countActivities(c, activities)
		rep.Courses = append(rep.Courses, rc)
		rep.Scanned++
		rep.Activities += rc.Total
		rep.ToProcess += rc.Processable
		rep.ToSkip += rc.Skippable
		rep.Remaining += rc.Remaining
		logging.Campaign("Recon %s: %d to process, %d to skip, %d done", c.Name, rc.Processable, rc.Skippable, rc.AlreadyDone)
	}

	rep.EstimatedTime = Estimate(rep.ToProcess, o.config.Parallelism, o.config.AvgSecondsPerActivity)
	logging.Campaign("Recon: %d courses, %d activities, %d to process, %d to skip, ~%s",
		rep.Scanned, rep.Activities, rep.ToProcess, rep.ToSkip, rep.EstimatedTime)
	return rep, nil
}
