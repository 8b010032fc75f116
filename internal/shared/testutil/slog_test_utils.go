package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// LogRecord is one captured log line with its attributes flattened into a
// map. Attrs added through WithAttrs chains are folded in; group names
// prefix their keys dot-separated.
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// sink is the store shared by a CaptureHandler and every child derived
// from it, so records land in one place no matter which logger wrote them.
type sink struct {
	mu      sync.Mutex
	records []LogRecord
	t       *testing.T
}

func (s *sink) append(rec LogRecord) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	if s.t != nil {
		s.t.Logf("[%s] %s %v", rec.Level, rec.Message, rec.Attrs)
	}
}

// CaptureHandler is a slog.Handler that keeps every record in memory so
// tests can assert on structured output. All levels are enabled; filtering
// belongs in the assertion, not the handler.
type CaptureHandler struct {
	sink   *sink
	preset []slog.Attr
	prefix string
}

// NewCaptureHandler creates an empty capture handler. When t is non-nil
// every record is echoed to the test log as well.
func NewCaptureHandler(t *testing.T) *CaptureHandler {
	return &CaptureHandler{sink: &sink{t: t}}
}

// NewTestLogger returns a logger whose output lands in the returned
// handler.
func NewTestLogger(t *testing.T) (*slog.Logger, *CaptureHandler) {
	handler := NewCaptureHandler(t)
	return slog.New(handler), handler
}

// Enabled implements slog.Handler.
func (h *CaptureHandler) Enabled(context.Context, slog.Level) bool { return true }

// Handle implements slog.Handler.
func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.preset))
	for _, a := range h.preset {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.prefix+a.Key] = a.Value.Any()
		return true
	})

	h.sink.append(LogRecord{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

// WithAttrs returns a child handler whose records always carry attrs,
// writing into the same store as the parent.
func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	child := *h
	child.preset = append([]slog.Attr{}, h.preset...)
	for _, a := range attrs {
		child.preset = append(child.preset, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &child
}

// WithGroup returns a child handler that prefixes subsequent attribute
// keys with the group name.
func (h *CaptureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	child := *h
	child.prefix = h.prefix + name + "."
	return &child
}

// GetRecords returns a copy of every captured record, oldest first.
func (h *CaptureHandler) GetRecords() []LogRecord {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()

	out := make([]LogRecord, len(h.sink.records))
	copy(out, h.sink.records)
	return out
}

// GetRecordsByLevel returns the captured records at exactly level.
func (h *CaptureHandler) GetRecordsByLevel(level slog.Level) []LogRecord {
	var out []LogRecord
	for _, r := range h.GetRecords() {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

// ContainsMessage reports whether any record's message contains message.
func (h *CaptureHandler) ContainsMessage(message string) bool {
	for _, r := range h.GetRecords() {
		if strings.Contains(r.Message, message) {
			return true
		}
	}
	return false
}

// ContainsAttr reports whether any record carries key with exactly value.
func (h *CaptureHandler) ContainsAttr(key string, value any) bool {
	for _, r := range h.GetRecords() {
		if v, ok := r.Attrs[key]; ok && v == value {
			return true
		}
	}
	return false
}

// AssertLogContains fails the test when no record at level contains
// message, dumping what was captured at that level.
func AssertLogContains(t *testing.T, handler *CaptureHandler, level slog.Level, message string) {
	t.Helper()

	records := handler.GetRecordsByLevel(level)
	for _, r := range records {
		if strings.Contains(r.Message, message) {
			return
		}
	}

	t.Errorf("no %s log contains %q", level, message)
	for _, r := range records {
		t.Logf("captured: %s", r.Message)
	}
}

// AssertLogAttr fails the test when no record carries key=value.
func AssertLogAttr(t *testing.T, handler *CaptureHandler, key string, value any) {
	t.Helper()

	if handler.ContainsAttr(key, value) {
		return
	}

	t.Errorf("no log carries %s=%v", key, value)
	for _, r := range handler.GetRecords() {
		t.Logf("captured: %s %v", r.Message, r.Attrs)
	}
}
