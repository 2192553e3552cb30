// Package telemetry builds the structured logger and metrics registry
// shared by the server entrypoints (cmd/siridbd) and, through it, every
// engine package that accepts a *zap.Logger (spec.md's ambient stack: see
// SPEC_FULL.md §A "Logging"). internal/compactor and internal/reindex log
// through the same *zap.Logger, handed to them with their SetLogger methods,
// because a running server's logging needs levels, fields and a production
// JSON encoder that log.Printf cannot give it.
package telemetry

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a *zap.Logger for the given level name ("debug", "info",
// "warn"/"warning", "error") and mode. dev selects zap's human-readable
// console encoder (cmd/siridbd's SIRIDB_DEV environment variable); otherwise the JSON
// production encoder is used.
func NewLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "telemetry: build logger")
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "dpanic":
		return zapcore.DPanicLevel, nil
	case "panic":
		return zapcore.PanicLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return 0, errors.Errorf("telemetry: unknown log level %q", level)
	}
}
