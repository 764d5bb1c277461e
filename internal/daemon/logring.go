package daemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loopwork/beacon/internal/bus"
)

const defaultLogRingCapacity = 1024

// LogEntry is the wire shape of one log record delivered to logs
// subscriptions and retained in the ring.
type LogEntry struct {
	Timestamp int64          `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter narrows ring replay and live delivery.
type LogFilter struct {
	// Level is the minimum level (debug < info < warn < error).
	Level string
	// Component matches the component attribute exactly when set.
	Component string
	// Since excludes entries at or before the given unix-ms timestamp.
	Since int64
	// Limit caps replayed entries, keeping the newest.
	Limit int
}

func levelRank(level string) int {
	switch strings.ToLower(level) {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}

// Match reports whether an entry passes the filter's level, component,
// and since constraints.
func (f LogFilter) Match(e LogEntry) bool {
	if f.Level != "" && levelRank(e.Level) < levelRank(f.Level) {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.Since > 0 && e.Timestamp <= f.Since {
		return false
	}
	return true
}

// LogBuffer is a bounded ring of recent log entries plus a live emitter
// feeding logs subscriptions.
type LogBuffer struct {
	mu       sync.Mutex
	entries  []LogEntry
	start    int
	count    int
	capacity int

	emitter *bus.Emitter[LogEntry]
}

// NewLogBuffer creates a ring with the given capacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity < 1 {
		capacity = defaultLogRingCapacity
	}
	return &LogBuffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
		emitter:  bus.NewEmitter[LogEntry](slog.Default()),
	}
}

// Append records an entry and fans it out to live subscribers.
func (b *LogBuffer) Append(e LogEntry) {
	b.mu.Lock()
	idx := (b.start + b.count) % b.capacity
	b.entries[idx] = e
	if b.count < b.capacity {
		b.count++
	} else {
		b.start = (b.start + 1) % b.capacity
	}
	b.mu.Unlock()

	b.emitter.Emit(e)
}

// Recent returns the retained entries passing the filter, oldest first,
// trimmed to the filter limit (newest kept).
func (b *LogBuffer) Recent(filter LogFilter) []LogEntry {
	b.mu.Lock()
	var out []LogEntry
	for i := 0; i < b.count; i++ {
		e := b.entries[(b.start+i)%b.capacity]
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	b.mu.Unlock()

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

// Stream bridges live entries into a channel consumer.
func (b *LogBuffer) Stream(capacity int, policy bus.OverflowPolicy) (<-chan LogEntry, func()) {
	return b.emitter.Stream(capacity, policy)
}

// Close completes the live emitter.
func (b *LogBuffer) Close() {
	b.emitter.Complete()
}

// ringHandler is a slog.Handler that feeds the ring alongside an inner
// handler.
type ringHandler struct {
	inner  slog.Handler
	buffer *LogBuffer
	attrs  []slog.Attr
	groups []string
}

// NewRingHandler wraps inner so every record is also retained in buffer.
func NewRingHandler(inner slog.Handler, buffer *LogBuffer) slog.Handler {
	return &ringHandler{inner: inner, buffer: buffer}
}

func (h *ringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ringHandler) Handle(ctx context.Context, record slog.Record) error {
	entry := LogEntry{
		Timestamp: record.Time.UnixMilli(),
		Level:     levelName(record.Level),
		Message:   record.Message,
	}
	if record.Time.IsZero() {
		entry.Timestamp = time.Now().UnixMilli()
	}

	collect := func(a slog.Attr) {
		key := a.Key
		if len(h.groups) > 0 {
			key = strings.Join(h.groups, ".") + "." + key
		}
		if key == "component" {
			entry.Component = a.Value.String()
			return
		}
		if entry.Attrs == nil {
			entry.Attrs = make(map[string]any)
		}
		entry.Attrs[key] = a.Value.Any()
	}
	for _, a := range h.attrs {
		collect(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})

	h.buffer.Append(entry)
	return h.inner.Handle(ctx, record)
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ringHandler{
		inner:  h.inner.WithAttrs(attrs),
		buffer: h.buffer,
		attrs:  merged,
		groups: h.groups,
	}
}

func (h *ringHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &ringHandler{
		inner:  h.inner.WithGroup(name),
		buffer: h.buffer,
		attrs:  h.attrs,
		groups: groups,
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
