// Package logging builds the zap loggers used across the service.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BaseDir is where file logs go when it is writable
const BaseDir = "/var/log/spotdl"

// Config selects level, encoding and file output
type Config struct {
	Level     string
	JSON      bool
	File      bool
	Component string
}

// New creates a logger writing to stdout and, when cfg.File is set, to
// <BaseDir>/<component>/<component>.log. Falls back to ./logs/<component>/
// if BaseDir is not writable. The returned close func syncs and closes
// the log file.
func New(cfg Config) (*zap.Logger, func() error, error) {
	level := ParseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if cfg.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.Lock(zapcore.AddSync(os.Stdout))
	closeFn := func() error { return nil }
	var logPath string

	if cfg.File {
		component := cfg.Component
		if component == "" {
			component = "spotdl-api"
		}
		logPath = GetLogPath(component)
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(f))
		closeFn = f.Close
	}

	logger := zap.New(zapcore.NewCore(enc, sink, level), zap.AddCaller())
	if cfg.Component != "" {
		logger = logger.With(zap.String("component", cfg.Component))
	}
	if logPath != "" {
		logger.Info("logger initialized", zap.String("path", logPath))
	}

	return logger, func() error {
		_ = logger.Sync()
		return closeFn()
	}, nil
}

// ParseLevel parses a log level string, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// isWritable checks if directory is writable
func isWritable(path string) bool {
	if err := os.MkdirAll(path, 0755); err != nil {
		return false
	}

	testFile := filepath.Join(path, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(testFile)
	return true
}

// GetLogPath returns the log file path for a component
func GetLogPath(component string) string {
	baseDir := BaseDir
	if !isWritable(baseDir) {
		baseDir = "./logs"
	}
	return filepath.Join(baseDir, component, component+".log")
}
