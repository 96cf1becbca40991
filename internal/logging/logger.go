// Package logging provides config-driven categorized file logging for lmsrun.
// Logs are written to .lmsrun/logs/ with one rotating file per category.
// Logging is controlled by logging.debug_mode in .lmsrun/config.yaml - when
// false, no category files are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lmsrun/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, config, workspace
	CategoryBrowser   Category = "browser"   // Chrome lifecycle, tabs, cookies
	CategoryDiscovery Category = "discovery" // Course and activity extraction
	CategoryLedger    Category = "ledger"    // Progress store reads/writes
	CategoryCampaign  Category = "campaign"  // Run coordinator, batches, retries
	CategoryStats     Category = "stats"     // Statistics and reports
	CategoryHistory   Category = "history"   // SQLite run history
)

// Logger writes printf-style messages for one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	sink     *lumberjack.Logger
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	cfg       config.LoggingConfig
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	console   zapcore.Core
	configMu  sync.RWMutex
)

// Initialize sets up the logging directory under workspace.
// Should be called once at startup.
func Initialize(workspace string, lc config.LoggingConfig) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}
	CloseAll()

	configMu.Lock()
	cfg = lc
	logsDir = filepath.Join(workspace, "logs")
	level.SetLevel(parseLevel(lc.Level))
	configMu.Unlock()

	if !lc.DebugMode {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== lmsrun logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", level.Level())
	return nil
}

// SetConsole mirrors every category logger into core (typically the CLI's
// console logger). Pass nil to detach. Loggers created earlier are rebuilt.
func SetConsole(core zapcore.Core) {
	configMu.Lock()
	console = core
	configMu.Unlock()
	CloseAll()
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsCategoryEnabled returns whether a category writes its own file.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return logsDir != "" && cfg.IsCategoryEnabled(string(category))
}

// Get returns (or creates) the logger for category. Disabled categories get
// a logger that only reaches the console core, or nothing at all.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l := newLogger(category)
	loggers[category] = l
	return l
}

func newLogger(category Category) *Logger {
	configMu.RLock()
	defer configMu.RUnlock()

	var cores []zapcore.Core
	var sink *lumberjack.Logger

	if logsDir != "" && cfg.IsCategoryEnabled(string(category)) {
		sink = &lumberjack.Logger{
			Filename:   filepath.Join(logsDir, string(category)+".log"),
			MaxSize:    orDefault(cfg.MaxSizeMB, 20),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30),
		}
		cores = append(cores, zapcore.NewCore(fileEncoder(cfg.Format), zapcore.AddSync(sink), level))
	}
	if console != nil {
		cores = append(cores, console)
	}
	if len(cores) == 0 {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	base := zap.New(zapcore.NewTee(cores...)).Named(string(category))
	return &Logger{category: category, sugar: base.Sugar(), sink: sink}
}

func fileEncoder(format string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "lvl",
		NameKey:        "cat",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	if format == "text" {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...), sink: l.sink}
}

// CloseAll flushes and closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		_ = l.sugar.Sync()
		if l.sink != nil {
			_ = l.sink.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func Browser(format string, args ...interface{})      { Get(CategoryBrowser).Info(format, args...) }
func BrowserDebug(format string, args ...interface{}) { Get(CategoryBrowser).Debug(format, args...) }
func BrowserWarn(format string, args ...interface{})  { Get(CategoryBrowser).Warn(format, args...) }

func Discovery(format string, args ...interface{})      { Get(CategoryDiscovery).Info(format, args...) }
func DiscoveryDebug(format string, args ...interface{}) { Get(CategoryDiscovery).Debug(format, args...) }

func Ledger(format string, args ...interface{})      { Get(CategoryLedger).Info(format, args...) }
func LedgerDebug(format string, args ...interface{}) { Get(CategoryLedger).Debug(format, args...) }

func Campaign(format string, args ...interface{})      { Get(CategoryCampaign).Info(format, args...) }
func CampaignDebug(format string, args ...interface{}) { Get(CategoryCampaign).Debug(format, args...) }
func CampaignWarn(format string, args ...interface{})  { Get(CategoryCampaign).Warn(format, args...) }

func History(format string, args ...interface{}) { Get(CategoryHistory).Info(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}
