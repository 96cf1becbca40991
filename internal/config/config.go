package config

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkspaceDir is the per-project state directory.
const WorkspaceDir = ".lmsrun"

// Config holds all lmsrun configuration.
type Config struct {
	Name string `yaml:"name"`

	// Root for every relative path below (default: ./.lmsrun)
	Workspace string `yaml:"workspace"`

	LMS       LMSConfig       `yaml:"lms"`
	Browser   BrowserConfig   `yaml:"browser"`
	Execution ExecutionConfig `yaml:"execution"`
	Timing    TimingConfig    `yaml:"timing"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LMSConfig describes the target site and the selectors used against it.
type LMSConfig struct {
	BaseURL    string `yaml:"base_url"`
	CoursesURL string `yaml:"courses_url"`

	// Anchors whose href contains these markers are courses / activities
	CourseHrefMarker      string   `yaml:"course_href_marker"`
	ActivityHrefMarker    string   `yaml:"activity_href_marker"`
	SectionToggleSelector string   `yaml:"section_toggle_selector"`
	MaxSectionToggles     int      `yaml:"max_section_toggles"`
	CompletionSelectors   []string `yaml:"completion_selectors"`
	ExternalLinkSelector  string   `yaml:"external_link_selector"`

	// Logged-in heuristic
	LoginURLMarkers   []string `yaml:"login_url_markers"`
	LoggedInSelectors []string `yaml:"logged_in_selectors"`
}

// BrowserConfig configures the rod-driven Chrome instance.
type BrowserConfig struct {
	Bin                     string   `yaml:"bin"`
	DebuggerURL             string   `yaml:"debugger_url"`
	Flags                   []string `yaml:"flags"`
	Headless                bool     `yaml:"headless"`
	ViewportWidth           int      `yaml:"viewport_width"`
	ViewportHeight          int      `yaml:"viewport_height"`
	UserAgent               string   `yaml:"user_agent"`
	NavigationTimeout       string   `yaml:"navigation_timeout"`
	CourseTimeout           string   `yaml:"course_timeout"`
	ClickTimeout            string   `yaml:"click_timeout"`
	MaxNavigationsPerSecond float64  `yaml:"max_navigations_per_second"`
	CookiesFile             string   `yaml:"cookies_file"`
	ScreenshotsDir          string   `yaml:"screenshots_dir"`
}

// ExecutionConfig holds the scheduling tunables.
type ExecutionConfig struct {
	Parallelism           int      `yaml:"parallelism"`
	MaxRetries            int      `yaml:"max_retries"`
	RetryPause            string   `yaml:"retry_pause"`
	RunRecon              bool     `yaml:"run_recon"`
	AvgSecondsPerActivity float64  `yaml:"avg_seconds_per_activity"`
	SkipPatterns          []string `yaml:"skip_patterns"`
}

// TimingConfig holds the randomized pacing windows.
type TimingConfig struct {
	PageLoad          Window `yaml:"page_load"`
	ContentView       Window `yaml:"content_view"`
	BetweenActivities Window `yaml:"between_activities"`
	BetweenCourses    Window `yaml:"between_courses"`
	ScrollPause       Window `yaml:"scroll_pause"`
	ExternalDwell     Window `yaml:"external_dwell"`
}

// Window is a [min, max] duration range for randomized pauses.
type Window struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// Range parses the window. Unparsable bounds become zero and max is never
// below min.
func (w Window) Range() (time.Duration, time.Duration) {
	lo, _ := time.ParseDuration(w.Min)
	hi, _ := time.ParseDuration(w.Max)
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Pick returns a uniformly random duration inside the window.
func (w Window) Pick() time.Duration {
	lo, hi := w.Range()
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

// LedgerConfig configures the progress ledger.
type LedgerConfig struct {
	Path      string `yaml:"path"`
	OnCorrupt string `yaml:"on_corrupt"` // fail, reset
}

// OutputConfig configures run artifacts.
type OutputConfig struct {
	ReportsDir     string `yaml:"reports_dir"`
	HistoryDB      string `yaml:"history_db"`
	MetricsFile    string `yaml:"metrics_file"` // Prometheus textfile; empty disables
	DisableHistory bool   `yaml:"disable_history"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"`
}

// DefaultConfig returns the compiled-in configuration.
func DefaultConfig() *Config {
	base := "https://lms.miva.university"
	return &Config{
		Name:      "lmsrun",
		Workspace: WorkspaceDir,

		LMS: LMSConfig{
			BaseURL:               base,
			CoursesURL:            base + "/my/courses.php",
			CourseHrefMarker:      "course/view.php",
			ActivityHrefMarker:    "/mod/",
			SectionToggleSelector: `.card-header a[data-toggle="collapse"]`,
			MaxSectionToggles:     40,
			CompletionSelectors: []string{
				`button[data-action="toggle-manual-completion"]`,
				`.manual-completion-toggle`,
				`input[type="checkbox"][name="completionstate"]`,
			},
			ExternalLinkSelector: `.urlworkaround a, a[target="_blank"]`,
			LoginURLMarkers:      []string{"cas/login", "sis.miva.university", "login/index.php"},
			LoggedInSelectors: []string{
				`.coursebox, .course-listitem, a[href*='course/view.php']`,
				`.usermenu, .user-picture, [data-region='user-menu']`,
			},
		},

		Browser: BrowserConfig{
			Headless:                false,
			ViewportWidth:           1920,
			ViewportHeight:          1080,
			UserAgent:               "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			NavigationTimeout:       "15s",
			CourseTimeout:           "20s",
			ClickTimeout:            "2s",
			MaxNavigationsPerSecond: 4,
			CookiesFile:             "session_cookies.json",
			ScreenshotsDir:          "screenshots",
		},

		Execution: ExecutionConfig{
			Parallelism:           4,
			MaxRetries:            3,
			RetryPause:            "1s",
			RunRecon:              true,
			AvgSecondsPerActivity: 3,
			SkipPatterns:          []string{"/mod/quiz/", "/mod/assign/"},
		},

		Timing: TimingConfig{
			PageLoad:          Window{Min: "800ms", Max: "1.5s"},
			ContentView:       Window{Min: "1.5s", Max: "2.5s"},
			BetweenActivities: Window{Min: "300ms", Max: "700ms"},
			BetweenCourses:    Window{Min: "2s", Max: "4s"},
			ScrollPause:       Window{Min: "100ms", Max: "200ms"},
			ExternalDwell:     Window{Min: "1.5s", Max: "1.5s"},
		},

		Ledger: LedgerConfig{
			Path:      "progress.json",
			OnCorrupt: "fail",
		},

		Output: OutputConfig{
			ReportsDir: "reports",
			HistoryDB:  "history.db",
		},

		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			DebugMode:  true,
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},

		Tracing: TracingConfig{
			Enabled: false,
			File:    "traces.jsonl",
		},
	}
}

// DefaultConfigPath returns the default path to .lmsrun/config.yaml.
func DefaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(WorkspaceDir, "config.yaml")
	}
	return filepath.Join(cwd, WorkspaceDir, "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LMSRUN_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("LMSRUN_BASE_URL"); v != "" {
		c.LMS.BaseURL = strings.TrimRight(v, "/")
		c.LMS.CoursesURL = c.LMS.BaseURL + "/my/courses.php"
	}
	if v := os.Getenv("LMSRUN_COURSES_URL"); v != "" {
		c.LMS.CoursesURL = v
	}
	if v := os.Getenv("LMSRUN_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
	if v := os.Getenv("LMSRUN_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Execution.Parallelism = n
		}
	}
	if v := os.Getenv("LMSRUN_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Execution.MaxRetries = n
		}
	}
	if v := os.Getenv("LMSRUN_CHROME_BIN"); v != "" {
		c.Browser.Bin = v
	}
}

// Validate checks the tunables the scheduler depends on.
func (c *Config) Validate() error {
	if c.LMS.CoursesURL == "" {
		return fmt.Errorf("lms.courses_url must be set")
	}
	if c.Execution.Parallelism < 1 {
		return fmt.Errorf("execution.parallelism must be >= 1 (got %d)", c.Execution.Parallelism)
	}
	if c.Execution.MaxRetries < 1 {
		return fmt.Errorf("execution.max_retries must be >= 1 (got %d)", c.Execution.MaxRetries)
	}
	switch c.Ledger.OnCorrupt {
	case "", "fail", "reset":
	default:
		return fmt.Errorf("invalid ledger.on_corrupt: %s (valid: fail, reset)", c.Ledger.OnCorrupt)
	}
	return nil
}

// Path resolves p against the workspace unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workspace, p)
}

// GetNavigationTimeout returns the per-activity navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Browser.NavigationTimeout, 15*time.Second)
}

// GetCourseTimeout returns the navigation timeout for course and listing pages.
func (c *Config) GetCourseTimeout() time.Duration {
	return parseDuration(c.Browser.CourseTimeout, 20*time.Second)
}

// GetClickTimeout returns the click timeout.
func (c *Config) GetClickTimeout() time.Duration {
	return parseDuration(c.Browser.ClickTimeout, 2*time.Second)
}

// GetRetryPause returns the fixed pause between attempts.
func (c *Config) GetRetryPause() time.Duration {
	return parseDuration(c.Execution.RetryPause, time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
