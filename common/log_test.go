package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LEVEL_DEBUG, lvl)

	lvl, err = ParseLogLevel(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, LEVEL_WARN, lvl)

	_, err = ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestAdjustLogConfig(t *testing.T) {
	lc := &LogConfig{
		LogLevel:           LEVEL_INFO,
		ModuleSpecialLevel: map[string]LOG_LEVEL{MODULE_TRAIN: LEVEL_DEBUG},
	}
	assert.Equal(t, LEVEL_DEBUG, adjustLogConfig(MODULE_TRAIN, lc).LogLevel)
	assert.Equal(t, LEVEL_INFO, adjustLogConfig(MODULE_SERVER, lc).LogLevel)

	prod := adjustLogConfig(MODULE_TRAIN, &LogConfig{BriefMode: LOG_MODE_PROD})
	assert.Equal(t, DefaultLogConfig(false), prod)
}

func TestSetLogConfigRebuildsLoggers(t *testing.T) {
	t.Cleanup(func() {
		_ = SetLogConfig(&LogConfig{LogLevel: LEVEL_INFO})
	})

	logger := GetLoggerWithRunID(MODULE_TRAIN, "log-test")
	assert.Same(t, logger, GetLoggerWithRunID(MODULE_TRAIN, "log-test"))
	assert.NotSame(t, logger, GetLogger(MODULE_TRAIN))

	path := filepath.Join(t.TempDir(), "hmm.log")
	require.NoError(t, SetLogConfig(&LogConfig{
		LogPath:        path,
		LogLevel:       LEVEL_INFO,
		RotationMaxAge: 1,
		RotationTime:   1,
		RotationSize:   1,
	}))

	logger.Debugf("hidden %d", 1)
	logger.Infof("iteration %d done", 7)
	require.NoError(t, logger.Sync())

	files, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "iteration 7 done")
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "log-test")
	assert.False(t, strings.Contains(out, "hidden"))
}
