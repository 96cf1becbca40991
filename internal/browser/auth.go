package browser

import (
	"context"
	"fmt"
	"strings"

	"lmsrun/internal/logging"
	"lmsrun/internal/types"
)

// LoginCheck is the logged-in heuristic: the tab must not sit on a login
// host and must show course links or a user menu.
type LoginCheck struct {
	URLMarkers []string
	Selectors  []string
}

// LoggedIn applies the heuristic to a loaded tab. Query failures count as
// not logged in.
func (lc LoginCheck) LoggedIn(ctx context.Context, tab types.Tab) bool {
	current := tab.URL()
	for _, marker := range lc.URLMarkers {
		if marker != "" && strings.Contains(current, marker) {
			logging.BrowserDebug("Login marker %q in %s", marker, current)
			return false
		}
	}
	for _, sel := range lc.Selectors {
		els, err := tab.QueryAll(ctx, sel)
		if err != nil {
			logging.BrowserDebug("Login probe %q failed: %v", sel, err)
			continue
		}
		if len(els) > 0 {
			return true
		}
	}
	return false
}

// Authenticated opens the courses page in a scratch tab and applies the
// logged-in heuristic.
func (m *SessionManager) Authenticated(ctx context.Context) (bool, error) {
	tab, err := m.newTab(ctx)
	if err != nil {
		return false, err
	}
	defer tab.Close()

	if err := tab.Navigate(ctx, m.cfg.CoursesURL); err != nil {
		return false, fmt.Errorf("open courses page: %w", err)
	}
	ok := m.loginCheck().LoggedIn(ctx, tab)
	logging.Browser("Authenticated: %v (%s)", ok, tab.URL())
	return ok, nil
}

func (m *SessionManager) loginCheck() LoginCheck {
	return LoginCheck{URLMarkers: m.cfg.LoginURLMarkers, Selectors: m.cfg.LoggedInSelectors}
}

// InteractiveLogin opens the courses page in a visible tab, waits for
// confirm to return (the user finishing a manual sign-in), verifies the
// session and saves the cookies.
func (m *SessionManager) InteractiveLogin(ctx context.Context, confirm func() error) error {
	tab, err := m.newTab(ctx)
	if err != nil {
		return err
	}
	defer tab.Close()

	if err := tab.Navigate(ctx, m.cfg.CoursesURL); err != nil {
		logging.BrowserWarn("Initial navigation failed (continuing): %v", err)
	}
	if err := confirm(); err != nil {
		return err
	}

	if !strings.Contains(tab.URL(), "courses") {
		if err := tab.Navigate(ctx, m.cfg.CoursesURL); err != nil {
			return fmt.Errorf("open courses page: %w", err)
		}
	}
	if !m.loginCheck().LoggedIn(ctx, tab) {
		return fmt.Errorf("login not detected at %s", tab.URL())
	}
	return m.SaveCookies()
}
