package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"lmsrun/internal/logging"
	"lmsrun/internal/types"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Tab is one rod page tracked by a SessionManager.
type Tab struct {
	id   string
	page *rod.Page
	mgr  *SessionManager
	url  string
}

// ID returns the tab's tracking id.
func (t *Tab) ID() string {
	return t.id
}

// Navigate loads url under the shared navigation rate limit. Without a
// deadline on ctx the configured navigation timeout applies.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.mgr.waitNavigation(ctx); err != nil {
		return err
	}
	p := t.page.Context(ctx)
	if _, ok := ctx.Deadline(); !ok {
		p = p.Timeout(t.mgr.cfg.GetNavigationTimeout())
	}
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	t.url = url
	return nil
}

// URL returns the page's current URL, falling back to the last navigation.
func (t *Tab) URL() string {
	info, err := t.page.Info()
	if err != nil || info == nil {
		return t.url
	}
	return info.URL
}

// QueryAll returns every element matching selector without waiting.
func (t *Tab) QueryAll(ctx context.Context, selector string) ([]types.Element, error) {
	els, err := t.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]types.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{el: el})
	}
	return out, nil
}

// Click clicks el within the click timeout.
func (t *Tab) Click(ctx context.Context, el types.Element) error {
	e, ok := el.(*element)
	if !ok {
		return fmt.Errorf("element %T does not belong to this browser", el)
	}
	return e.el.Context(ctx).Timeout(t.mgr.cfg.GetClickTimeout()).Click(proto.InputMouseButtonLeft, 1)
}

// HTML returns the serialized document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	return t.page.Context(ctx).HTML()
}

// ScrollToBottom scrolls the document in three steps with short pauses.
func (t *Tab) ScrollToBottom(ctx context.Context) error {
	p := t.page.Context(ctx)
	res, err := p.Eval(`() => document.documentElement.scrollHeight`)
	if err != nil {
		return fmt.Errorf("read scroll height: %w", err)
	}
	height := res.Value.Int()

	const steps = 3
	for i := 1; i <= steps; i++ {
		pos := height * i / steps
		if _, err := p.Eval(`(y) => window.scrollTo({top: y, behavior: 'smooth'})`, pos); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.mgr.cfg.ScrollPause.Pick()):
		}
	}
	return nil
}

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Capture writes a PNG screenshot into the screenshots directory and returns
// its path.
func (t *Tab) Capture(ctx context.Context, label string) (string, error) {
	dir := t.mgr.cfg.ScreenshotsDir
	if dir == "" {
		return "", fmt.Errorf("no screenshots directory configured")
	}
	data, err := t.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.png", time.Now().Format("20060102_150405"), unsafeLabel.ReplaceAllString(label, "_"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	logging.BrowserDebug("Screenshot saved: %s", path)
	return path, nil
}

// Close closes the page and stops tracking it.
func (t *Tab) Close() error {
	t.mgr.release(t.id)
	return t.page.Close()
}

type element struct {
	el *rod.Element
}

func (e *element) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

var (
	_ types.Tab     = (*Tab)(nil)
	_ types.Element = (*element)(nil)
)
