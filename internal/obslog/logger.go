// Package obslog constructs the single *zap.Logger instance threaded
// through every pipeline component. No package in this module reaches for
// a package-level logger; cmd/proctriage builds one here and passes it
// down explicitly.
package obslog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction.
type Options struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string
	// Format is one of json, console. Default: json.
	Format string
}

// New builds a *zap.Logger per opts. Invalid Level/Format values fall back
// to the documented defaults rather than erroring, matching the teacher's
// tolerant startup posture for observability configuration.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	var cfg zap.Config
	switch opts.Format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("obslog.New: build logger: %w", err)
	}
	return logger, nil
}
