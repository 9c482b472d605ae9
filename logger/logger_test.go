package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantLevel zapcore.Level
	}{
		{
			name:      "development",
			config:    Config{Level: "debug", Environment: "development", ServiceName: "quiz-sync"},
			wantLevel: zapcore.DebugLevel,
		},
		{
			name:      "production",
			config:    Config{Level: "warn", Environment: "production", ServiceName: "quiz-sync"},
			wantLevel: zapcore.WarnLevel,
		},
		{
			name:      "invalid level defaults to info",
			config:    Config{Level: "loud", Environment: "development"},
			wantLevel: zapcore.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			require.NoError(t, err)
			require.True(t, l.zap.Core().Enabled(tt.wantLevel))
			require.False(t, l.zap.Core().Enabled(tt.wantLevel-1))
		})
	}
}

func TestOutput(t *testing.T) {
	core, observed := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core)).With(zap.String("component", "test"))

	l.Info("info message", zap.Int("count", 2))
	l.Warn("warn message")
	l.Debug("debug message")
	l.Error("error message", errors.New("boom"))

	entries := observed.All()
	require.Len(t, entries, 4)
	require.Equal(t, "info message", entries[0].Message)
	require.Equal(t, int64(2), entries[0].ContextMap()["count"])
	require.Equal(t, "test", entries[1].ContextMap()["component"])
	require.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	require.Equal(t, "boom", entries[3].ContextMap()["error"])
}
