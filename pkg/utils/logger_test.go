package utils

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("debug mode returns development logger", func(t *testing.T) {
		logger, err := NewLogger(true)
		if err != nil {
			t.Fatalf("NewLogger(true) error: %v", err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Error("debug logger should enable debug level")
		}
		_ = logger.Sync()
	})

	t.Run("production mode returns production logger", func(t *testing.T) {
		logger, err := NewLogger(false)
		if err != nil {
			t.Fatalf("NewLogger(false) error: %v", err)
		}
		if logger.Core().Enabled(zapcore.DebugLevel) {
			t.Error("production logger should not enable debug level")
		}
		_ = logger.Sync()
	})
}

func TestNewCLILogger(t *testing.T) {
	tests := []struct {
		name      string
		debug     bool
		level     zapcore.Level
		wantLevel bool
	}{
		{"quiet hides info", false, zapcore.InfoLevel, false},
		{"quiet shows warn", false, zapcore.WarnLevel, true},
		{"debug shows debug", true, zapcore.DebugLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewCLILogger(tt.debug)
			if err != nil {
				t.Fatal(err)
			}
			if got := logger.Core().Enabled(tt.level); got != tt.wantLevel {
				t.Errorf("Enabled(%s) = %v, want %v", tt.level, got, tt.wantLevel)
			}
		})
	}
}
