package logging

import (
	"github.com/microinsure/poolregistry/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger from LOG_LEVEL and LOG_ENCODING.
func New() (*zap.Logger, error) {
	return Build(utils.Env("LOG_LEVEL", "info"), utils.Env("LOG_ENCODING", "json"))
}

// Build returns a production zap logger at the given level ("debug", "info",
// "warn", "error"; anything else is info) and encoding ("json" or "console").
func Build(level, encoding string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
