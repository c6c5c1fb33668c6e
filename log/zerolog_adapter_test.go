package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestZerologAdapter_LevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologAdapterWithWriter(&buf, zerolog.InfoLevel)
	ctx := context.Background()

	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "profile resolved", Fields{"uid": "u1"})
	logger.Error(ctx, "store down", errors.New("dial refused"), Fields{"collection": "users"})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "profile resolved", lines[0]["message"])
	assert.Equal(t, "u1", lines[0]["uid"])

	assert.Equal(t, "error", lines[1]["level"])
	assert.Equal(t, "dial refused", lines[1]["error"])
	assert.Equal(t, "users", lines[1]["collection"])
}

func TestZerologAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologAdapterWithWriter(&buf, zerolog.DebugLevel).With(Fields{"component": "session"})

	logger.Warn(context.Background(), "stale profile dropped")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "session", lines[0]["component"])
	assert.Equal(t, "warn", lines[0]["level"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestNewNop(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNop().Info(context.Background(), "nothing")
	})
}
