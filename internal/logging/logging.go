// Package logging builds the zap loggers shared by the API, worker and CLI.
package logging

import (
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field names used across packages.
const (
	FieldRunID     = "run_id"
	FieldJobName   = "job_name"
	FieldStage     = "stage"
	FieldCount     = "count"
	FieldKept      = "kept"
	FieldDropped   = "dropped"
	FieldWorkerID  = "worker_id"
	FieldStatus    = "status"
	FieldWatermark = "watermark"
	FieldPath      = "path"
)

// New returns a JSON production logger for env "prod"/"production" and a
// console development logger otherwise.
func New(env, level string) (*zap.Logger, error) {
	lvl := zap.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, errors.Wrapf(err, "parse log level %q", level)
		}
		lvl = parsed
	}

	var cfg zap.Config
	switch strings.ToLower(env) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}
