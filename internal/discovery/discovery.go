// Package discovery extracts courses and activities from LMS pages. Pages
// are loaded through a types.Tab and their HTML is parsed with x/net/html.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lmsrun/internal/config"
	"lmsrun/internal/logging"
	"lmsrun/internal/types"

	"golang.org/x/net/html"
)

// CompletionLookup answers whether an activity is already in the ledger.
type CompletionLookup interface {
	IsCompleted(courseID, url string) bool
}

// Config holds the discovery settings.
type Config struct {
	BaseURL               string
	CoursesURL            string
	CourseHrefMarker      string
	ActivityHrefMarker    string
	SectionToggleSelector string
	MaxSectionToggles     int
	PageTimeout           time.Duration
	Settle                config.Window
	TogglePause           time.Duration
}

// ConfigFrom derives the discovery configuration from the run configuration.
func ConfigFrom(c *config.Config) Config {
	return Config{
		BaseURL:               c.LMS.BaseURL,
		CoursesURL:            c.LMS.CoursesURL,
		CourseHrefMarker:      c.LMS.CourseHrefMarker,
		ActivityHrefMarker:    c.LMS.ActivityHrefMarker,
		SectionToggleSelector: c.LMS.SectionToggleSelector,
		MaxSectionToggles:     c.LMS.MaxSectionToggles,
		PageTimeout:           c.GetCourseTimeout(),
		Settle:                c.Timing.PageLoad,
		TogglePause:           200 * time.Millisecond,
	}
}

// Lister discovers courses and activities.
type Lister struct {
	cfg        Config
	classifier *types.Classifier
}

// New creates a lister. A nil classifier uses the default patterns.
func New(cfg Config, classifier *types.Classifier) *Lister {
	if classifier == nil {
		classifier = types.NewClassifier(nil, nil)
	}
	if cfg.CourseHrefMarker == "" {
		cfg.CourseHrefMarker = "course/view.php"
	}
	if cfg.ActivityHrefMarker == "" {
		cfg.ActivityHrefMarker = "/mod/"
	}
	return &Lister{cfg: cfg, classifier: classifier}
}

// ListCourses loads the courses page and returns every distinct course link.
func (l *Lister) ListCourses(ctx context.Context, tab types.Tab) ([]types.Course, error) {
	timer := logging.StartTimer(logging.CategoryDiscovery, "ListCourses")
	defer timer.Stop()

	doc, err := l.load(ctx, tab, l.cfg.CoursesURL)
	if err != nil {
		return nil, fmt.Errorf("load courses page: %w", err)
	}
	courses := ParseCourses(doc, l.cfg.BaseURL, l.cfg.CourseHrefMarker)
	logging.Discovery("Found %d courses", len(courses))
	return courses, nil
}

// ListActivities loads the course page, expands its sections and returns
// its activities. IsCompleted is filled from done when it is non-nil.
func (l *Lister) ListActivities(ctx context.Context, tab types.Tab, course types.Course, done CompletionLookup) ([]types.Activity, error) {
	timer := logging.StartTimer(logging.CategoryDiscovery, "ListActivities")
	defer timer.Stop()

	if err := l.navigate(ctx, tab, course.URL); err != nil {
		return nil, fmt.Errorf("load course %s: %w", course.ID, err)
	}
	l.expandSections(ctx, tab)
	if err := sleep(ctx, l.cfg.Settle.Pick()); err != nil {
		return nil, err
	}

	doc, err := tab.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read course %s: %w", course.ID, err)
	}

	activities := ParseActivities(doc, l.cfg.BaseURL, l.cfg.ActivityHrefMarker, l.classifier)
	if done != nil {
		for i := range activities {
			activities[i].IsCompleted = done.IsCompleted(course.ID, activities[i].URL)
		}
	}
	logging.DiscoveryDebug("Course %s: %d activities", course.ID, len(activities))
	return activities, nil
}

func (l *Lister) navigate(ctx context.Context, tab types.Tab, url string) error {
	if l.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.PageTimeout)
		defer cancel()
	}
	return tab.Navigate(ctx, url)
}

func (l *Lister) load(ctx context.Context, tab types.Tab, url string) (string, error) {
	if err := l.navigate(ctx, tab, url); err != nil {
		return "", err
	}
	if err := sleep(ctx, l.cfg.Settle.Pick()); err != nil {
		return "", err
	}
	return tab.HTML(ctx)
}

// expandSections clicks collapsed section headers. Failures are ignored.
func (l *Lister) expandSections(ctx context.Context, tab types.Tab) {
	if l.cfg.SectionToggleSelector == "" {
		return
	}
	toggles, err := tab.QueryAll(ctx, l.cfg.SectionToggleSelector)
	if err != nil {
		logging.DiscoveryDebug("Section toggles unavailable: %v", err)
		return
	}
	if l.cfg.MaxSectionToggles > 0 && len(toggles) > l.cfg.MaxSectionToggles {
		toggles = toggles[:l.cfg.MaxSectionToggles]
	}
	clicked := 0
	for _, el := range toggles {
		if err := tab.Click(ctx, el); err != nil {
			continue
		}
		clicked++
		if sleep(ctx, l.cfg.TogglePause) != nil {
			return
		}
	}
	logging.DiscoveryDebug("Expanded %d/%d sections", clicked, len(toggles))
}

// ParseCourses extracts distinct courses from a courses page. Links without
// text or without an id parameter are ignored.
func ParseCourses(doc, baseURL, marker string) []types.Course {
	var courses []types.Course
	seen := make(map[string]bool)
	for _, a := range anchors(doc) {
		if !strings.Contains(a.href, marker) || a.text == "" {
			continue
		}
		url := types.ResolveURL(baseURL, a.href)
		id := types.CourseIDFromURL(url)
		if id == "" || seen[url] {
			continue
		}
		seen[url] = true
		courses = append(courses, types.Course{ID: id, Name: a.text, URL: url})
	}
	return courses
}

// ParseActivities extracts distinct, classified activities from a course page.
func ParseActivities(doc, baseURL, marker string, classifier *types.Classifier) []types.Activity {
	var activities []types.Activity
	seen := make(map[string]bool)
	for _, a := range anchors(doc) {
		if !strings.Contains(a.href, marker) || a.text == "" {
			continue
		}
		url := types.ResolveURL(baseURL, a.href)
		if seen[url] {
			continue
		}
		seen[url] = true
		activities = append(activities, classifier.Classify(url, a.text))
	}
	return activities
}

type anchor struct {
	href string
	text string
}

// anchors returns every <a href> in document order with its collapsed text.
func anchors(doc string) []anchor {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	var out []anchor
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && attr.Val != "" {
					out = append(out, anchor{href: attr.Val, text: textContent(n)})
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(root)
	return out
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
			return
		}
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteByte(' ')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	return strings.Join(strings.Fields(sb.String()), " ")
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
