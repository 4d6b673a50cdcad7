package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		require.Equal(t, want, parseLevel(&Config{LogLevel: raw}), raw)
	}
	require.Equal(t, slog.LevelInfo, parseLevel(nil))
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger := NewLogger(&Config{LogFormat: "json", LogLevel: "error"})

	require.False(t, logger.Enabled(context.Background(), slog.LevelWarn))
	require.True(t, logger.Enabled(context.Background(), slog.LevelError))
}
