package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Renders log records as single human-readable lines.
//
// The level label is colored when color is enabled. Verbose formatting
// prefixes each line with a timestamp.
type Formatter struct {
	color   bool
	verbose bool
	labels  map[slog.Level]*color.Color
}

// Creates a formatter. Color should be enabled only for terminals.
func NewFormatter(useColor bool) *Formatter {
	f := &Formatter{
		color: useColor,
		labels: map[slog.Level]*color.Color{
			slog.LevelDebug: color.New(color.FgCyan),
			slog.LevelInfo:  color.New(color.FgGreen),
			slog.LevelWarn:  color.New(color.FgYellow),
			slog.LevelError: color.New(color.FgRed, color.Bold),
		},
	}
	for _, c := range f.labels {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return f
}

// Enables or disables timestamps.
func (f *Formatter) SetVerbose(verbose bool) {
	f.verbose = verbose
}

// Renders a record with the handler's attributes and open groups.
func (f *Formatter) Format(record slog.Record, attrs []slog.Attr, groups []string) string {
	var b strings.Builder

	if f.verbose {
		ts := record.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		b.WriteString(ts.Format(time.RFC3339))
		b.WriteByte(' ')
	}

	b.WriteString(f.label(record.Level))
	b.WriteByte(' ')
	b.WriteString(record.Message)

	for _, a := range attrs {
		appendAttr(&b, "", a)
	}

	prefix := strings.Join(groups, ".")
	record.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, prefix, a)
		return true
	})

	b.WriteByte('\n')
	return b.String()
}

// Returns the padded, optionally colored level label.
func (f *Formatter) label(level slog.Level) string {
	text := fmt.Sprintf("%-5s", level.String())
	c, ok := f.labels[level]
	if !ok {
		return text
	}
	return c.Sprint(text)
}

// Reports whether the given file is an interactive terminal.
func IsTerminal(file *os.File) bool {
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Writes " key=value", flattening groups into dotted keys.
func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, nested := range a.Value.Group() {
			appendAttr(b, key, nested)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(formatValue(a.Value))
}

// Renders a value, quoting strings that contain whitespace or quotes.
func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		s = v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}

	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
