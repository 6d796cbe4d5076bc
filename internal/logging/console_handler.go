package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const consoleTimeFormat = "15:04:05"

// consoleHandler renders compact single-line log output for interactive use.
// Structured consumers should configure the json format instead.
type consoleHandler struct {
	mu    *sync.Mutex
	out   io.Writer
	level slog.Level
	color bool
	attrs []slog.Attr
}

func newConsoleHandler(out io.Writer, level slog.Level, color bool) *consoleHandler {
	return &consoleHandler{
		mu:    &sync.Mutex{},
		out:   out,
		level: level,
		color: color,
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	var sb strings.Builder
	sb.WriteString(record.Time.Format(consoleTimeFormat))
	sb.WriteByte(' ')
	sb.WriteString(h.levelLabel(record.Level))
	sb.WriteByte(' ')
	sb.WriteString(record.Message)

	attrs := make([]slog.Attr, 0, record.NumAttrs()+len(h.attrs))
	attrs = append(attrs, h.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})
	sort.SliceStable(attrs, func(i, j int) bool {
		return attrOrder(attrs[i].Key) < attrOrder(attrs[j].Key)
	})
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		sb.WriteByte(' ')
		sb.WriteString(attr.Key)
		sb.WriteByte('=')
		sb.WriteString(formatValue(attr.Value))
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *consoleHandler) WithGroup(string) slog.Handler { return h }

const (
	ansiReset  = "\x1b[0m"
	ansiDim    = "\x1b[2m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
)

func (h *consoleHandler) levelLabel(level slog.Level) string {
	label := strings.ToUpper(level.String())
	if !h.color {
		return label
	}
	switch {
	case level >= slog.LevelError:
		return ansiRed + label + ansiReset
	case level >= slog.LevelWarn:
		return ansiYellow + label + ansiReset
	case level < slog.LevelInfo:
		return ansiDim + label + ansiReset
	default:
		return label
	}
}

// Identity fields render first so lines scan consistently.
func attrOrder(key string) int {
	switch key {
	case FieldComponent:
		return 0
	case FieldFileID:
		return 1
	case FieldJobID:
		return 2
	case FieldKind:
		return 3
	case "error":
		return 5
	default:
		return 4
	}
}

func formatValue(value slog.Value) string {
	resolved := value.Resolve()
	switch resolved.Kind() {
	case slog.KindDuration:
		return resolved.Duration().Truncate(time.Millisecond).String()
	case slog.KindTime:
		return resolved.Time().Format(time.RFC3339)
	case slog.KindString:
		str := resolved.String()
		if strings.ContainsAny(str, " \t") {
			return fmt.Sprintf("%q", str)
		}
		return str
	default:
		str := resolved.String()
		if strings.ContainsAny(str, " \t") {
			return fmt.Sprintf("%q", str)
		}
		return str
	}
}
