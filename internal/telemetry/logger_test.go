package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	logger, err := NewLogger("", false)
	require.NoError(t, err)
	defer logger.Sync()
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLoggerDebugLevel(t *testing.T) {
	logger, err := NewLogger("debug", true)
	require.NoError(t, err)
	defer logger.Sync()
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLoggerCaseInsensitive(t *testing.T) {
	logger, err := NewLogger("WARN", false)
	require.NoError(t, err)
	defer logger.Sync()
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("verbose", false)
	assert.Error(t, err)
}
