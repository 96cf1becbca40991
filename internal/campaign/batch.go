package campaign

import (
	"context"

	"lmsrun/internal/config"
	"lmsrun/internal/logging"
	"lmsrun/internal/tracing"
	"lmsrun/internal/types"

	"golang.org/x/sync/errgroup"
)

// Scheduler processes a course's activities in fixed-width batches, one tab
// per activity. A batch is fully finished and its tabs closed before the next
// one starts, so at most Parallelism activities are ever in flight.
type Scheduler struct {
	Browser     types.Browser
	Worker      *Worker
	Retrier     *Retrier
	Stats       Stats
	Parallelism int
	Pause       config.Window
}

// ProcessCourse tallies skipped and already completed activities and runs the
// rest. It returns ctx's error when interrupted before a batch starts and the
// ledger's sticky write error once nothing more can be recorded; individual
// activity failures are never returned.
func (s *Scheduler) ProcessCourse(ctx context.Context, course types.Course, activities []types.Activity) error {
	pending := make([]types.Activity, 0, len(activities))
	for _, a := range activities {
		switch {
		case a.IsCompleted:
			s.Stats.LogAlreadyDone(course.Name, a.Name)
		case a.ShouldSkip:
			s.Stats.LogSkipped(course.Name, a.Name, a.Type)
		default:
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		logging.Campaign("All activities in %s already handled", course.Name)
		return nil
	}

	width := s.Parallelism
	if width < 1 {
		width = 1
	}
	logging.Campaign("Processing %d activities in %s (%d tabs)", len(pending), course.Name, width)

	for start, n := 0, 1; start < len(pending); start, n = start+width, n+1 {
		if err := s.ledgerErr(); err != nil {
			logging.Get(logging.CategoryCampaign).Error("Stopping %s, ledger not writable: %v", course.Name, err)
			return err
		}
		if start > 0 {
			if err := sleep(ctx, s.Pause.Pick()); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+width, len(pending))
		s.runBatch(ctx, course, pending[start:end], n)
		logging.CampaignDebug("Batch %d done (%d/%d)", n, end, len(pending))
	}
	return nil
}

func (s *Scheduler) ledgerErr() error {
	if s.Retrier == nil || s.Retrier.Failures == nil {
		return nil
	}
	return s.Retrier.Failures.Err()
}

func (s *Scheduler) runBatch(ctx context.Context, course types.Course, batch []types.Activity, n int) {
	ctx, span := tracing.Start(ctx, "campaign.batch",
		tracing.AttrCourseID.String(course.ID),
		tracing.AttrBatch.Int(n),
	)
	defer span.End()

	// Tabs are opened up front; one that fails to open is retried inside
	// the item's first attempt.
	openCtx := context.WithoutCancel(ctx)
	tabs := make([]*itemTab, len(batch))
	for i := range batch {
		tabs[i] = &itemTab{browser: s.Browser}
		if _, err := tabs[i].open(openCtx); err != nil {
			logging.CampaignWarn("Open tab for %s: %v", batch[i].Name, err)
		}
	}

	var g errgroup.Group
	for i, a := range batch {
		t := tabs[i]
		g.Go(func() error {
			target := Target{Course: course, Activity: a}
			s.Retrier.Run(ctx, target, t, func(actx context.Context) error {
				tab, err := t.open(actx)
				if err != nil {
					return err
				}
				return s.Worker.Do(actx, tab, course, a)
			})
			return nil
		})
	}
	_ = g.Wait()

	for _, t := range tabs {
		t.close()
	}
}

// itemTab is the tab owned by one batch item. It is only touched by that
// item's goroutine until the batch barrier.
type itemTab struct {
	browser types.Browser
	tab     types.Tab
}

func (t *itemTab) open(ctx context.Context) (types.Tab, error) {
	if t.tab != nil {
		return t.tab, nil
	}
	tab, err := t.browser.NewTab(ctx)
	if err != nil {
		return nil, err
	}
	t.tab = tab
	return tab, nil
}

func (t *itemTab) Capture(ctx context.Context, label string) (string, error) {
	if t.tab == nil {
		return "", errNoTab
	}
	return t.tab.Capture(ctx, label)
}

func (t *itemTab) close() {
	if t.tab == nil {
		return
	}
	if err := t.tab.Close(); err != nil {
		logging.CampaignDebug("Close tab: %v", err)
	}
	t.tab = nil
}
