// Package logging builds a structured *zap.SugaredLogger from the
// gateway's logging config section, in the style teranos-QNTX's watcher
// package consumes one (a logger injected into constructors as
// *zap.SugaredLogger, never the package-level global).
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turtacn/inferserve/internal/apierr"
	"github.com/turtacn/inferserve/internal/config"
)

// New builds a *zap.SugaredLogger from cfg. Format "console" (any case)
// uses the human-readable console encoder; any other value, including
// "json" and empty, uses the JSON encoder. Sinks map directly to zap output
// paths ("stdout", "stderr", or a file path).
func New(cfg config.LoggingConfig) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, apierr.NewConfig(fmt.Sprintf("parse logging.level %q", cfg.Level), err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sinks := cfg.Sinks
	if len(sinks) == 0 {
		sinks = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encodingName(cfg.Format),
		EncoderConfig:    encoderCfg,
		OutputPaths:      sinks,
		ErrorOutputPaths: []string{"stderr"},
	}

	base, err := zapCfg.Build()
	if err != nil {
		return nil, apierr.NewConfig("build zap logger", err)
	}

	return base.Sugar(), nil
}

func encodingName(format string) string {
	if strings.EqualFold(format, "console") {
		return "console"
	}
	return "json"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
