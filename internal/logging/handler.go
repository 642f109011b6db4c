package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
)

// Shared mutable state behind a [Handler] and all handlers derived from it
// through WithAttrs and WithGroup.
type sink struct {
	mu        sync.Mutex
	level     slog.LevelVar
	stream    io.Writer
	formatter *Formatter
	buffering bool
	pending   []pendingRecord
}

// A record captured before the handler was flushed, together with the
// attributes and groups of the handler that received it.
type pendingRecord struct {
	record slog.Record
	attrs  []slog.Attr
	groups []string
}

// A [slog.Handler] with a reconfigurable level, stream, and formatter.
type Handler struct {
	sink   *sink
	attrs  []slog.Attr
	groups []string
}

// Creates a buffering handler writing to stderr at info level once flushed.
func NewHandler() *Handler {
	return &Handler{
		sink: &sink{
			stream:    os.Stderr,
			formatter: NewFormatter(false),
			buffering: true,
		},
	}
}

// Sets the minimum level of records written by the handler.
func (h *Handler) SetLevel(level slog.Level) {
	h.sink.level.Set(level)
}

// Sets the stream records are written to.
func (h *Handler) SetStream(w io.Writer) {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.stream = w
}

// Sets the formatter used to render records.
func (h *Handler) SetFormatter(f *Formatter) {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.formatter = f
}

// Writes held records that pass the current level and disables buffering.
//
// Calling Flush more than once is harmless.
func (h *Handler) Flush() error {
	s := h.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pending
	s.pending = nil
	s.buffering = false

	for _, p := range pending {
		if p.record.Level < s.level.Level() {
			continue
		}
		if err := s.write(p.record, p.attrs, p.groups); err != nil {
			return err
		}
	}
	return nil
}

// Reports whether records at the given level are handled. While buffering,
// every record is accepted so the final level can be applied at flush time.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	if h.sink.buffering {
		return true
	}
	return level >= h.sink.level.Level()
}

// Formats and writes a record, or holds it while buffering.
func (h *Handler) Handle(_ context.Context, record slog.Record) error {
	s := h.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffering {
		s.pending = append(s.pending, pendingRecord{
			record: record.Clone(),
			attrs:  h.attrs,
			groups: h.groups,
		})
		return nil
	}

	return s.write(record, h.attrs, h.groups)
}

// Returns a handler that adds attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return &Handler{
		sink:   h.sink,
		attrs:  append(slices.Clone(h.attrs), qualify(h.groups, attrs)...),
		groups: h.groups,
	}
}

// Returns a handler that qualifies subsequent attribute keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{
		sink:   h.sink,
		attrs:  h.attrs,
		groups: append(slices.Clone(h.groups), name),
	}
}

// Renders and writes a record. The caller holds the lock.
func (s *sink) write(record slog.Record, attrs []slog.Attr, groups []string) error {
	_, err := io.WriteString(s.stream, s.formatter.Format(record, attrs, groups))
	return err
}

// Nests attributes under the handler's open groups.
func qualify(groups []string, attrs []slog.Attr) []slog.Attr {
	if len(groups) == 0 {
		return attrs
	}
	out := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		for i := len(groups) - 1; i >= 0; i-- {
			a = slog.Attr{Key: groups[i], Value: slog.GroupValue(a)}
		}
		out = append(out, a)
	}
	return out
}
