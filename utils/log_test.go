package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"trace":    TRACE,
		"DEBUG":    DEBUG,
		" info ":   INFO,
		"warning":  WARN,
		"error":    ERROR,
		"critical": CRITICAL,
		"verbose":  INFO,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, INFO)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	l.Debug("hidden %d", 1)
	l.Info("tick %d mode=%s", 7, "ai_mode")
	l.Critical("tx failed")

	assert.Equal(t,
		"2024-05-01T12:00:00Z [INFO] tick 7 mode=ai_mode\n"+
			"2024-05-01T12:00:00Z [CRITICAL] tx failed\n",
		buf.String())

	assert.False(t, l.Enabled(DEBUG))
	l.SetMinLevel(TRACE)
	assert.True(t, l.Enabled(TRACE))
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drive.log")
	l, err := NewFileLogger(path, WARN, false)
	require.NoError(t, err)

	l.Info("skipped")
	l.Warn("watchdog fired after %s", "250ms")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[WARN] watchdog fired after 250ms")
	assert.NotContains(t, string(data), "skipped")
}
