package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/marcelsud/webhook-guard/internal/logger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("success - json with level filter", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New(logger.Options{Level: "warn", Out: &buf})

		log.Info().Msg("dropped")
		log.Warn().Str("route_id", "inbound").Msg("kept")

		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		require.Len(t, lines, 1)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(lines[0], &entry))
		assert.Equal(t, "kept", entry["message"])
		assert.Equal(t, "inbound", entry["route_id"])
		assert.Equal(t, "webhook-guard", entry["service"])
	})

	t.Run("success - text format", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New(logger.Options{Format: "text", Out: &buf})

		log.Info().Msg("hello")

		assert.Contains(t, buf.String(), "hello")
		assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, logger.ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, logger.ParseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, logger.ParseLevel("verbose"))
}

func TestHTTPOptions(t *testing.T) {
	t.Run("success - follows the service level and format", func(t *testing.T) {
		opts := logger.HTTPOptions(logger.Options{Level: "debug", Format: "text"})

		assert.Equal(t, "debug", opts.LogLevel)
		assert.False(t, opts.JSON)
		assert.Contains(t, opts.SkipHeaders, "authorization")
	})

	t.Run("success - zero options log json at info", func(t *testing.T) {
		opts := logger.HTTPOptions(logger.Options{})

		assert.Equal(t, "info", opts.LogLevel)
		assert.True(t, opts.JSON)
	})

	t.Run("success - unknown level falls back to info", func(t *testing.T) {
		assert.Equal(t, "info", logger.HTTPOptions(logger.Options{Level: "verbose"}).LogLevel)
	})
}
