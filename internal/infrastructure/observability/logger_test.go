package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"", zerolog.InfoLevel},
		{"disabled", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestForOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogOptions{Level: "debug", Output: &buf})

	ForOrder(logger, "order-9", map[string]any{"source": "worker"}).Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "order-9", line["order_id"])
	assert.Equal(t, "worker", line["source"])
	assert.Equal(t, "hello", line["message"])
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogOptions{Level: "info", Format: "console", Output: &buf})

	logger.Debug().Msg("hidden")
	logger.Info().Str("order_id", "7").Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "order_id")
	assert.False(t, json.Valid(buf.Bytes()), "console output is not JSON")
}
