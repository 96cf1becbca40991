package campaign

import (
	"context"
	"fmt"
	"time"

	"lmsrun/internal/logging"
	"lmsrun/internal/tracing"
	"lmsrun/internal/types"
)

const (
	defaultMaxAttempts = 3
	defaultRetryPause  = time.Second
	captureTimeout     = 10 * time.Second
)

// FailureRecorder persists exhausted activities.
type FailureRecorder interface {
	MarkFailed(courseID, url string, cause error) error
	Err() error
}

// ErrorLogger receives one error event per exhausted activity.
type ErrorLogger interface {
	LogError(message string)
}

// Target identifies the activity an operation works on.
type Target struct {
	Course   types.Course
	Activity types.Activity
}

// Retrier runs an activity operation with a bounded number of attempts.
type Retrier struct {
	MaxAttempts int
	Pause       time.Duration
	Failures    FailureRecorder
	Errors      ErrorLogger
}

// NewRetrier applies defaults for non-positive values.
func NewRetrier(maxAttempts int, pause time.Duration, failures FailureRecorder, errs ErrorLogger) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if pause < 0 {
		pause = defaultRetryPause
	}
	return &Retrier{MaxAttempts: maxAttempts, Pause: pause, Failures: failures, Errors: errs}
}

// Run executes work until it succeeds or MaxAttempts is reached. Attempts run
// on a context detached from ctx so an interrupt never cuts one short; ctx
// only decides whether another attempt may start. When every attempt fails,
// one failure record and one error event are written and a screenshot is
// attempted through capturer. An interrupt between attempts returns false
// without recording anything.
func (r *Retrier) Run(ctx context.Context, target Target, capturer types.Capturer, work func(context.Context) error) bool {
	workCtx := context.WithoutCancel(ctx)
	a := target.Activity

	var lastErr error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, r.Pause); err != nil {
				logging.CampaignDebug("Interrupted before attempt %d of %s", attempt, a.URL)
				return false
			}
		}

		attemptCtx, span := tracing.Start(workCtx, "campaign.activity",
			tracing.AttrCourseID.String(target.Course.ID),
			tracing.AttrActivityURL.String(a.URL),
			tracing.AttrActivityTyp.String(string(a.Type)),
			tracing.AttrAttempt.Int(attempt),
		)
		err := work(attemptCtx)
		tracing.End(span, err)
		if err == nil {
			return true
		}
		lastErr = err

		if r.Failures != nil && r.Failures.Err() != nil {
			// Nothing more can be persisted; the coordinator aborts.
			return false
		}
		if attempt < r.MaxAttempts {
			logging.CampaignWarn("Attempt %d/%d failed for %s, retrying: %v", attempt, r.MaxAttempts, a.Name, err)
		}
	}

	r.recordFailure(workCtx, target, capturer, lastErr)
	return false
}

func (r *Retrier) recordFailure(ctx context.Context, target Target, capturer types.Capturer, cause error) {
	a := target.Activity
	logging.Get(logging.CategoryCampaign).Error("Failed after %d attempts: %s (%s): %v", r.MaxAttempts, a.Name, a.URL, cause)

	if r.Errors != nil {
		r.Errors.LogError(fmt.Sprintf("%s error in %s: %s", a.Type, target.Course.Name, a.Name))
	}
	if r.Failures != nil {
		if err := r.Failures.MarkFailed(target.Course.ID, a.URL, cause); err != nil {
			logging.Get(logging.CategoryCampaign).Error("Failed to record failure for %s: %v", a.URL, err)
		}
	}

	if capturer == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()
	label := fmt.Sprintf("error_%s_%s", target.Course.ID, a.Type)
	if path, err := capturer.Capture(cctx, label); err != nil {
		logging.CampaignDebug("Screenshot skipped for %s: %v", a.URL, err)
	} else {
		logging.CampaignDebug("Screenshot for %s: %s", a.URL, path)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
