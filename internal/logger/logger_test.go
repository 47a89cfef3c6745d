package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(&buf, "json", "warn")

		log.Info("hidden")
		log.Warn("entry expired", "entry_id", "e-1")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "entry expired", line["msg"])
		assert.Equal(t, "e-1", line["entry_id"])
	})

	t.Run("pretty", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(&buf, "pretty", "debug").With("component", "sweeper")

		log.Debug("run", "error", errors.New("boom"))

		out := buf.String()
		assert.Contains(t, out, "run")
		assert.Contains(t, out, "[sweeper]")
		assert.NotContains(t, out, "component=")
		assert.Contains(t, out, "boom")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestPrettyHandlerWithoutLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, nil))

	log.Debug("dropped")
	log.Info("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestPrettyHandlerGroups(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, nil)).
		With("request_id", "r-1").
		WithGroup("gate").
		With("level", "medium")

	log.Info("rejected", "attempts", 3, slog.Group("lock", "minutes", 30))

	line := buf.String()
	assert.Contains(t, line, " INFO  rejected request_id=r-1 gate.level=medium gate.attempts=3 gate.lock.minutes=30\n")
	assert.NotContains(t, line, "\033[")
}
