package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/pkg/config"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output: %s", buf.String())
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLevel zerolog.Level
	}{
		{"debug level", "debug", zerolog.DebugLevel},
		{"info level", "info", zerolog.InfoLevel},
		{"warn level", "warn", zerolog.WarnLevel},
		{"error level", "error", zerolog.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(&config.Config{Env: "development", LogLevel: tt.level, LogFormat: "json"})
			require.NotNil(t, l)
			assert.Equal(t, tt.wantLevel, zerolog.GlobalLevel())
		})
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.input))
		})
	}
}

func TestEscalate(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	l.Escalate(1, 3, "price fetch failed")
	entry := decode(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Nil(t, entry["alert"])

	buf.Reset()
	l.Escalate(3, 3, "price fetch failed")
	entry = decode(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, true, entry["alert"])
	assert.Equal(t, float64(3), entry["consecutive"])
}

func TestComponentAndFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	l := NewWithWriter(&buf).Component("monitor").WithFields(map[string]interface{}{
		"symbol": "BTCUSDT",
		"price":  50900.5,
	})
	l.Info("exit decided")

	entry := decode(t, &buf)
	assert.Equal(t, "monitor", entry["component"])
	assert.Equal(t, "BTCUSDT", entry["symbol"])
	assert.Equal(t, 50900.5, entry["price"])
	assert.Equal(t, "exit decided", entry["message"])
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	l.WithError(errors.New("order rejected")).Error("close failed")

	entry := decode(t, &buf)
	assert.Equal(t, "order rejected", entry["error"])
	assert.Equal(t, "close failed", entry["message"])
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().WithField("k", "v").Error("discarded")
	})
}
