package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	t.Run("Should write json lines at the requested level", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Setup("warn", "json", &buf))

		log.Info().Msg("hidden")
		log.Warn().Str("document_id", "d1").Msg("shown")

		var line map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
		assert.Equal(t, "shown", line["message"])
		assert.Equal(t, "d1", line["document_id"])
		assert.Equal(t, "warn", line["level"])
	})

	t.Run("Should reject unknown levels", func(t *testing.T) {
		assert.Error(t, Setup("loud", "console", &bytes.Buffer{}))
	})

	t.Run("Should default to info", func(t *testing.T) {
		require.NoError(t, Setup("", "console", &bytes.Buffer{}))
		assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	})
}
