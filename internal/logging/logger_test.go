package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lmsrun/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func reset(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		SetConsole(nil)
		configMu.Lock()
		logsDir = ""
		cfg = config.LoggingConfig{}
		configMu.Unlock()
		CloseAll()
	})
}

func TestInitialize_RequiresWorkspace(t *testing.T) {
	reset(t)
	assert.Error(t, Initialize("", config.LoggingConfig{}))
}

func TestInitialize_WritesCategoryFiles(t *testing.T) {
	reset(t)
	ws := t.TempDir()

	require.NoError(t, Initialize(ws, config.LoggingConfig{Level: "debug", DebugMode: true}))
	Campaign("course %s started", "101")
	CampaignDebug("batch %d", 1)
	CloseAll()

	data, err := os.ReadFile(filepath.Join(ws, "logs", "campaign.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "course 101 started")
	assert.Contains(t, string(data), "batch 1")
}

func TestInitialize_DebugModeOffWritesNothing(t *testing.T) {
	reset(t)
	ws := t.TempDir()

	require.NoError(t, Initialize(ws, config.LoggingConfig{DebugMode: false}))
	Ledger("saved")
	CloseAll()

	_, err := os.Stat(filepath.Join(ws, "logs"))
	assert.True(t, os.IsNotExist(err))
	assert.False(t, IsCategoryEnabled(CategoryLedger))
}

func TestCategoryToggle(t *testing.T) {
	reset(t)
	ws := t.TempDir()

	require.NoError(t, Initialize(ws, config.LoggingConfig{
		DebugMode:  true,
		Categories: map[string]bool{"browser": false},
	}))
	Browser("should not be written")
	Discovery("found %d courses", 3)
	CloseAll()

	_, err := os.Stat(filepath.Join(ws, "logs", "browser.log"))
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(ws, "logs", "discovery.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "found 3 courses")
}

func TestSetConsole_MirrorsMessages(t *testing.T) {
	reset(t)
	core, logs := observer.New(zapcore.DebugLevel)
	SetConsole(core)

	Get(CategoryStats).With("run", "abc").Warn("slow %s", "report")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "slow report", entries[0].Message)
	assert.Equal(t, "stats", entries[0].LoggerName)
	assert.Equal(t, "abc", entries[0].ContextMap()["run"])
}

func TestTimer(t *testing.T) {
	reset(t)
	core, logs := observer.New(zapcore.DebugLevel)
	SetConsole(core)

	timer := StartTimer(CategoryCampaign, "ProcessCourse")
	elapsed := timer.StopWithInfo()

	assert.GreaterOrEqual(t, int64(elapsed), int64(0))
	require.Equal(t, 1, logs.Len())
	assert.True(t, strings.HasPrefix(logs.All()[0].Message, "ProcessCourse completed in"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
}
