package logging

import (
	"context"
	"sync"

	"github.com/alexisbeaulieu97/zenify/internal/ports"
)

const defaultRecorderLimit = 1000

// Entry is a single log call captured by a Recorder.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	ctx     context.Context
	pairs   []interface{}
}

// Field returns the value recorded for key.
func (e Entry) Field(key string) (interface{}, bool) {
	v, ok := e.Fields[key]
	return v, ok
}

type recorderBuffer struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

// Recorder implements ports.Logger by keeping entries in memory. It backs
// assertions on warnings and errors emitted by the core, and can replay its
// contents into another logger.
type Recorder struct {
	buf    *recorderBuffer
	fields []interface{}
}

// NewRecorder creates a Recorder retaining up to limit entries (defaults to 1000).
// The oldest entries are discarded first.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultRecorderLimit
	}
	return &Recorder{buf: &recorderBuffer{limit: limit, entries: make([]Entry, 0, 16)}}
}

func (r *Recorder) Debug(ctx context.Context, msg string, fields ...interface{}) {
	r.record(ctx, "debug", msg, fields...)
}

func (r *Recorder) Info(ctx context.Context, msg string, fields ...interface{}) {
	r.record(ctx, "info", msg, fields...)
}

func (r *Recorder) Warn(ctx context.Context, msg string, fields ...interface{}) {
	r.record(ctx, "warn", msg, fields...)
}

func (r *Recorder) Error(ctx context.Context, msg string, fields ...interface{}) {
	r.record(ctx, "error", msg, fields...)
}

// With returns a child recorder sharing the same buffer.
func (r *Recorder) With(fields ...interface{}) ports.Logger {
	next := append(append([]interface{}{}, r.fields...), fields...)
	return &Recorder{buf: r.buf, fields: next}
}

// Entries returns a copy of the captured entries in call order.
func (r *Recorder) Entries() []Entry {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()
	out := make([]Entry, len(r.buf.entries))
	copy(out, r.buf.entries)
	return out
}

// Messages returns the messages recorded at level.
func (r *Recorder) Messages(level string) []string {
	var out []string
	for _, entry := range r.Entries() {
		if entry.Level == level {
			out = append(out, entry.Message)
		}
	}
	return out
}

// Flush replays recorded entries into delegate, preserving order, and empties
// the recorder.
func (r *Recorder) Flush(delegate ports.Logger) {
	if delegate == nil {
		return
	}
	r.buf.mu.Lock()
	entries := r.buf.entries
	r.buf.entries = make([]Entry, 0, 16)
	r.buf.mu.Unlock()

	for _, entry := range entries {
		switch entry.Level {
		case "debug":
			delegate.Debug(entry.ctx, entry.Message, entry.pairs...)
		case "warn":
			delegate.Warn(entry.ctx, entry.Message, entry.pairs...)
		case "error":
			delegate.Error(entry.ctx, entry.Message, entry.pairs...)
		default:
			delegate.Info(entry.ctx, entry.Message, entry.pairs...)
		}
	}
}

func (r *Recorder) record(ctx context.Context, level, msg string, fields ...interface{}) {
	if r == nil || r.buf == nil {
		return
	}
	pairs := append(append([]interface{}{}, r.fields...), fields...)
	entry := Entry{
		Level:   level,
		Message: msg,
		Fields:  make(map[string]interface{}, len(pairs)/2+1),
		ctx:     ctx,
		pairs:   pairs,
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		if key, ok := pairs[i].(string); ok {
			entry.Fields[key] = pairs[i+1]
		}
	}
	if id := ports.GetCorrelationID(ctx); id != "" {
		entry.Fields["correlation_id"] = id
	}

	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()
	if len(r.buf.entries) == r.buf.limit {
		copy(r.buf.entries, r.buf.entries[1:])
		r.buf.entries[len(r.buf.entries)-1] = entry
		return
	}
	r.buf.entries = append(r.buf.entries, entry)
}

var _ ports.Logger = (*Recorder)(nil)
