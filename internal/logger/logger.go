package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLogLevel = "LOG_LEVEL"
	EnvTimeFmt  = "LOG_TIME"
)

// New builds the process logger. Records go to stdout and, when enabled, to
// a size-rotated file.
func New(cfg Config, devMode bool) (*zap.Logger, error) {
	return newLogger(cfg, devMode, os.Stdout)
}

// NewStderr is New for commands whose stdout carries their output.
func NewStderr(cfg Config, devMode bool) (*zap.Logger, error) {
	return newLogger(cfg, devMode, os.Stderr)
}

func newLogger(cfg Config, devMode bool, stdout io.Writer) (*zap.Logger, error) {
	level, err := resolveLevel(cfg, devMode)
	if err != nil {
		return nil, err
	}

	var timeEncoder zapcore.TimeEncoder = zapcore.EpochTimeEncoder
	if raw := os.Getenv(EnvTimeFmt); raw != "" {
		if err := timeEncoder.UnmarshalText([]byte(raw)); err != nil {
			return nil, fmt.Errorf("invalid LOG_TIME (expected one of: epoch, iso8601, rfc3339 etc): %w", err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	if devMode {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = timeEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	writers := []zapcore.WriteSyncer{zapcore.AddSync(stdout)}
	if cfg.EnableWriteToFile {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	return zap.New(core, zap.WithCaller(true)), nil
}

// resolveLevel prefers LOG_LEVEL, then the config, then debug in dev mode and
// info otherwise.
func resolveLevel(cfg Config, devMode bool) (zapcore.Level, error) {
	level := zapcore.InfoLevel
	if devMode {
		level = zapcore.DebugLevel
	}
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return level, fmt.Errorf("invalid logger.level: %w", err)
		}
	}
	if raw := os.Getenv(EnvLogLevel); raw != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
			return level, fmt.Errorf("invalid LOG_LEVEL (expected one of: debug, info, warn, error etc): %w", err)
		}
	}
	return level, nil
}
