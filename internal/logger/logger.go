package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envDevelopment = "development"

// Config holds the logger settings.
type Config struct {
	Level string // debug, info, warn, error
	// Encoding is json or console. Empty picks console in development and json elsewhere.
	Encoding   string
	OutputPath string // empty means stdout
	Service    string
	Env        string
}

// New builds the service logger. Every entry carries the service and env
// fields; development adds callers and error stacktraces.
func New(cfg Config) (*zap.Logger, error) {
	dev := strings.EqualFold(cfg.Env, envDevelopment)

	level := zap.NewAtomicLevel()
	logLevel := strings.ToLower(cfg.Level)
	if logLevel == "" {
		logLevel = "info"
	}
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		// No logger to report through yet.
		fmt.Fprintf(os.Stderr, "log level %q not recognised, using info: %v\n", cfg.Level, err)
		level.SetLevel(zap.InfoLevel)
	}

	encoding := strings.ToLower(cfg.Encoding)
	switch {
	case encoding == "console" || encoding == "json":
	case dev:
		encoding = "console"
	default:
		encoding = "json"
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if encoding == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	fields := map[string]interface{}{}
	if cfg.Service != "" {
		fields["service"] = cfg.Service
	}
	if cfg.Env != "" {
		fields["env"] = cfg.Env
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       dev,
		DisableCaller:     !dev,
		DisableStacktrace: !dev,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{outputPath},
		ErrorOutputPaths:  []string{"stderr"},
		InitialFields:     fields,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", cfg.Service, err)
	}
	return logger, nil
}
