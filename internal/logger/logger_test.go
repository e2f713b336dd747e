package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLoggerFiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Reader", "hidden %d", 1)
	l.Warn("Reader", "shown %d", 2)
	require.NoError(t, l.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "Reader")
	assert.Equal(t, WARN, l.GetLevel())

	l.SetLevel(SILENT)
	l.Error("Reader", "muted")
	assert.NotContains(t, buf.String(), "muted")
	assert.Equal(t, SILENT, l.GetLevel())
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	t.Parallel()

	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(INFO, "Test", "entry %d", i)
	}

	entries := h.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 2", entries[0].Message)
	assert.Equal(t, "entry 4", entries[2].Message)

	recent := h.Recent()
	assert.Equal(t, "entry 4", recent[0].Message)
	assert.True(t, strings.HasSuffix(recent[0].String(), "INFO: entry 4"))
}

func TestHistoryDefaultSize(t *testing.T) {
	t.Parallel()

	h := NewHistory(0)
	for i := 0; i < DefaultHistorySize+20; i++ {
		h.Add(DEBUG, "Test", "line %d", i)
	}
	assert.Equal(t, DefaultHistorySize, h.Len())
}

func TestHistoryResize(t *testing.T) {
	t.Parallel()

	h := NewHistory(5)
	for i := 0; i < 5; i++ {
		h.Add(INFO, "Test", "entry %d", i)
	}

	h.Resize(2)
	entries := h.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "entry 3", entries[0].Message)
	assert.Equal(t, "entry 4", entries[1].Message)

	h.Resize(4)
	for i := 5; i < 9; i++ {
		h.Add(INFO, "Test", "entry %d", i)
	}
	entries = h.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "entry 5", entries[0].Message)
	assert.Equal(t, "entry 8", entries[3].Message)
}
