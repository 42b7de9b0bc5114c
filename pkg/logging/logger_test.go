package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewStdoutLogger(t *testing.T) {
	logger, closeFn, err := New(Config{Level: "debug", JSON: true, Component: "test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should be enabled")
	}
	logger.Debug("hello")
	if err := closeFn(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func TestIsWritable(t *testing.T) {
	if !isWritable(t.TempDir()) {
		t.Error("temp dir should be writable")
	}
}
