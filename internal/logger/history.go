package logger

import (
	"fmt"
	"sync"
	"time"
)

// DefaultHistorySize is the number of entries a History keeps when no size is given.
const DefaultHistorySize = 100

// Entry is one human-readable line of the rolling log shown to the operator.
type Entry struct {
	Time    time.Time
	Level   LogLevel
	Module  string
	Message string
}

// String formats the entry the way the operator log displays it.
func (e Entry) String() string {
	return fmt.Sprintf("%s %s: %s", e.Time.Format("15:04:05"), e.Level, e.Message)
}

// History is a bounded rolling log. Only the most recent entries are retained.
// Every entry is also forwarded to the global logger.
type History struct {
	mu      sync.Mutex
	size    int
	entries []Entry
}

// NewHistory creates a History retaining at most size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		size:    size,
		entries: make([]Entry, 0, size),
	}
}

// Add appends an entry and forwards it to the global logger.
func (h *History) Add(level LogLevel, module string, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	switch level {
	case DEBUG:
		Debug(module, "%s", msg)
	case WARN:
		Warn(module, "%s", msg)
	case ERROR:
		Error(module, "%s", msg)
	default:
		Info(module, "%s", msg)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) == h.size {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.size-1]
	}
	h.entries = append(h.entries, Entry{
		Time:    time.Now(),
		Level:   level,
		Module:  module,
		Message: msg,
	})
}

// Resize changes how many entries are retained, dropping the oldest ones when
// shrinking. size <= 0 restores DefaultHistorySize.
func (h *History) Resize(size int) {
	if size <= 0 {
		size = DefaultHistorySize
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.entries); n > size {
		h.entries = append(make([]Entry, 0, size), h.entries[n-size:]...)
	}
	h.size = size
}

// Entries returns a copy of the retained entries, oldest first.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Recent returns a copy of the retained entries, newest first.
func (h *History) Recent() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Entry, len(h.entries))
	for i, e := range h.entries {
		out[len(h.entries)-1-i] = e
	}
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
