package daemon

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/lydakis/scenectl/internal/config"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		cfg  config.LogConfig
		want zapcore.Level
	}{
		{cfg: config.LogConfig{Level: "debug", Format: "console"}, want: zapcore.DebugLevel},
		{cfg: config.LogConfig{Level: "warn", Format: "json"}, want: zapcore.WarnLevel},
		{cfg: config.LogConfig{}, want: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		logger, err := NewLogger(tt.cfg)
		if err != nil {
			t.Fatalf("NewLogger(%+v) error = %v", tt.cfg, err)
		}
		if !logger.Core().Enabled(tt.want) {
			t.Fatalf("NewLogger(%+v) does not log at %v", tt.cfg, tt.want)
		}
		if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
			t.Fatalf("NewLogger(%+v) logs below %v", tt.cfg, tt.want)
		}
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(config.LogConfig{Level: "trace"}); err == nil {
		t.Fatal("NewLogger(trace) succeeded")
	}
}
