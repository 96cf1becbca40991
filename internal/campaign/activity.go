package campaign

import (
	"context"
	"fmt"
	"strings"

	"lmsrun/internal/config"
	"lmsrun/internal/logging"
	"lmsrun/internal/types"
)

// CompletionWriter persists successful activities.
type CompletionWriter interface {
	MarkCompleted(courseID, url string) error
}

// CompletionLogger counts successful activities.
type CompletionLogger interface {
	LogCompleted(course, activity string, typ types.ActivityType)
}

// Worker performs the view-and-complete sequence for one activity on one tab.
type Worker struct {
	Browser              types.Browser
	Ledger               CompletionWriter
	Stats                CompletionLogger
	Timing               config.TimingConfig
	CompletionSelectors  []string
	ExternalLinkSelector string
}

// Do navigates tab to the activity, simulates viewing it, toggles manual
// completion when offered and records the activity as completed. Scrolling,
// the external link visit and the completion toggle are best-effort.
func (w *Worker) Do(ctx context.Context, tab types.Tab, course types.Course, a types.Activity) error {
	if err := tab.Navigate(ctx, a.URL); err != nil {
		return fmt.Errorf("%s error: %w", a.Type, err)
	}
	if err := sleep(ctx, w.Timing.PageLoad.Pick()); err != nil {
		return err
	}

	switch a.Type {
	case types.ActivityURL:
		w.visitExternal(ctx, tab)
	default:
		if err := tab.ScrollToBottom(ctx); err != nil {
			logging.CampaignDebug("Scroll failed on %s: %v", a.URL, err)
		}
	}

	if err := sleep(ctx, w.Timing.ContentView.Pick()); err != nil {
		return err
	}
	w.toggleCompletion(ctx, tab)

	if err := w.Ledger.MarkCompleted(course.ID, a.URL); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	w.Stats.LogCompleted(course.Name, a.Name, a.Type)
	logging.CampaignDebug("Completed %s: %s", a.Type, a.Name)
	return nil
}

// visitExternal opens the activity's outbound link in an auxiliary tab for a
// short dwell time.
func (w *Worker) visitExternal(ctx context.Context, tab types.Tab) {
	if w.ExternalLinkSelector == "" || w.Browser == nil {
		return
	}
	links, err := tab.QueryAll(ctx, w.ExternalLinkSelector)
	if err != nil || len(links) == 0 {
		logging.CampaignDebug("No external link on %s", tab.URL())
		return
	}
	href, ok, err := links[0].Attribute(ctx, "href")
	if err != nil || !ok || href == "" {
		return
	}
	href = types.ResolveURL(tab.URL(), href)

	aux, err := w.Browser.NewTab(ctx)
	if err != nil {
		logging.CampaignDebug("External tab unavailable: %v", err)
		return
	}
	defer func() {
		if err := aux.Close(); err != nil {
			logging.CampaignDebug("Close external tab: %v", err)
		}
	}()
	if err := aux.Navigate(ctx, href); err != nil {
		logging.CampaignDebug("External link %s: %v", href, err)
		return
	}
	_ = sleep(ctx, w.Timing.ExternalDwell.Pick())
}

// toggleCompletion clicks the first manual completion control found, unless
// its class already says it is complete.
func (w *Worker) toggleCompletion(ctx context.Context, tab types.Tab) bool {
	for _, sel := range w.CompletionSelectors {
		els, err := tab.QueryAll(ctx, sel)
		if err != nil || len(els) == 0 {
			continue
		}
		el := els[0]
		class, _, err := el.Attribute(ctx, "class")
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(class), "complete") {
			return true
		}
		if err := tab.Click(ctx, el); err != nil {
			logging.CampaignDebug("Completion toggle %q: %v", sel, err)
			continue
		}
		return true
	}
	return false
}
