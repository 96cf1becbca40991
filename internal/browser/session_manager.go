// Package browser drives a Chrome instance through go-rod and exposes it to
// the rest of lmsrun as types.Browser / types.Tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lmsrun/internal/config"
	"lmsrun/internal/logging"
	"lmsrun/internal/types"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrNotConnected is returned when a tab is requested before Start.
var ErrNotConnected = errors.New("browser not connected")

// Config holds browser configuration.
type Config struct {
	Bin            string
	DebuggerURL    string
	Flags          []string
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string

	NavigationTimeout time.Duration
	ClickTimeout      time.Duration
	NavigationsPerSec float64
	ScrollPause       config.Window

	CookiesFile    string
	ScreenshotsDir string

	// Logged-in heuristic
	CoursesURL        string
	LoginURLMarkers   []string
	LoggedInSelectors []string
}

// ConfigFrom derives the browser configuration from the run configuration.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Bin:               c.Browser.Bin,
		DebuggerURL:       c.Browser.DebuggerURL,
		Flags:             c.Browser.Flags,
		Headless:          c.Browser.Headless,
		ViewportWidth:     c.Browser.ViewportWidth,
		ViewportHeight:    c.Browser.ViewportHeight,
		UserAgent:         c.Browser.UserAgent,
		NavigationTimeout: c.GetNavigationTimeout(),
		ClickTimeout:      c.GetClickTimeout(),
		NavigationsPerSec: c.Browser.MaxNavigationsPerSecond,
		ScrollPause:       c.Timing.ScrollPause,
		CookiesFile:       c.Path(c.Browser.CookiesFile),
		ScreenshotsDir:    c.Path(c.Browser.ScreenshotsDir),
		CoursesURL:        c.LMS.CoursesURL,
		LoginURLMarkers:   c.LMS.LoginURLMarkers,
		LoggedInSelectors: c.LMS.LoggedInSelectors,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1920
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 1080
	}
	return c.ViewportHeight
}

// GetNavigationTimeout returns the navigation timeout.
func (c Config) GetNavigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 15 * time.Second
	}
	return c.NavigationTimeout
}

// GetClickTimeout returns the click timeout.
func (c Config) GetClickTimeout() time.Duration {
	if c.ClickTimeout <= 0 {
		return 2 * time.Second
	}
	return c.ClickTimeout
}

// SessionManager owns the Chrome instance and tracks open tabs.
type SessionManager struct {
	cfg        Config
	mu         sync.RWMutex
	browser    *rod.Browser
	tabs       map[string]*Tab
	controlURL string
	limiter    *rate.Limiter
}

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg Config) *SessionManager {
	limit := rate.Inf
	if cfg.NavigationsPerSec > 0 {
		limit = rate.Limit(cfg.NavigationsPerSec)
	}
	return &SessionManager{
		cfg:     cfg,
		tabs:    make(map[string]*Tab),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Start connects to an existing Chrome or launches a new one, then restores
// saved session cookies.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("Stale browser connection detected, reconnecting...")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.tabs = make(map[string]*Tab)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.Bin != "" {
			launch = launch.Bin(m.cfg.Bin)
		}
		for _, rawFlag := range m.cfg.Flags {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Fallback without custom flags
			fallback := launcher.New().Headless(m.cfg.Headless)
			if m.cfg.Bin != "" {
				fallback = fallback.Bin(m.cfg.Bin)
			}
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			url = alt
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	logging.Browser("Connected to chrome (headless=%v)", m.cfg.Headless)

	if n, err := m.loadCookiesLocked(); err != nil {
		logging.BrowserWarn("Could not load cookies: %v", err)
	} else if n > 0 {
		logging.Browser("Loaded %d saved session cookies", n)
	}
	return nil
}

func (m *SessionManager) ensureStarted(ctx context.Context) error {
	m.mu.RLock()
	if m.browser != nil {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()
	return m.Start(ctx)
}

// ControlURL returns the WebSocket debugger URL.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// OpenTabs returns the number of tracked tabs.
func (m *SessionManager) OpenTabs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tabs)
}

// Shutdown closes tracked tabs and the browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, tab := range m.tabs {
		_ = tab.page.Close()
		delete(m.tabs, id)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	logging.Browser("Browser shut down")
	return err
}

// NewTab opens a blank page sharing the browser's cookie jar.
func (m *SessionManager) NewTab(ctx context.Context) (types.Tab, error) {
	return m.newTab(ctx)
}

func (m *SessionManager) newTab(ctx context.Context) (*Tab, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserDebug("failed to set viewport: %v", err)
	}
	if m.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: m.cfg.UserAgent}); err != nil {
			logging.BrowserDebug("failed to set user agent: %v", err)
		}
	}

	tab := &Tab{id: uuid.NewString(), page: page, mgr: m}
	m.mu.Lock()
	m.tabs[tab.id] = tab
	m.mu.Unlock()
	logging.BrowserDebug("Tab opened: %s", tab.id)
	return tab, nil
}

func (m *SessionManager) release(id string) {
	m.mu.Lock()
	delete(m.tabs, id)
	m.mu.Unlock()
}

// waitNavigation blocks until the shared navigation limiter admits one more
// page load.
func (m *SessionManager) waitNavigation(ctx context.Context) error {
	return m.limiter.Wait(ctx)
}

var _ types.Browser = (*SessionManager)(nil)
