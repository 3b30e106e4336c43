package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/freekieb7/lctrelay/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		value string
		env   config.Environment
		want  slog.Level
	}{
		{"", config.EnvironmentDevelopment, slog.LevelDebug},
		{"", config.EnvironmentProduction, slog.LevelInfo},
		{"WARN", config.EnvironmentDevelopment, slog.LevelWarn},
		{" error ", config.EnvironmentTest, slog.LevelError},
		{"verbose", config.EnvironmentTest, slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.value+"/"+string(tt.env), func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.value, tt.env))
		})
	}
}

func TestMultiHandlerFansOut(t *testing.T) {
	var debugBuf, errorBuf bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	log := slog.New(h).With("room", "Cafe")

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	log.Debug("checked in")
	log.Error("handler failed")

	assert.Contains(t, debugBuf.String(), "checked in")
	assert.Contains(t, debugBuf.String(), "room=Cafe")
	assert.Contains(t, debugBuf.String(), "handler failed")
	assert.NotContains(t, errorBuf.String(), "checked in")
	assert.Contains(t, errorBuf.String(), "handler failed")
}

func TestMultiHandlerGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMultiHandler(slog.NewTextHandler(&buf, nil))).WithGroup("relay")

	log.Info("open", "room", "Cafe")

	assert.Contains(t, buf.String(), "relay.room=Cafe")
}
