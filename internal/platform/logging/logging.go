package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config captures logging configuration options.
type Config struct {
	Level string
}

// Logger wraps slog with the printf-and-tag surface the rest of the
// codebase logs through.
type Logger struct {
	slog *slog.Logger
}

// New creates a Logger writing to stdout at the configured level.
func New(cfg Config) (*Logger, error) {
	handler := newTextHandler(os.Stdout, parseLevel(cfg.Level))
	return &Logger{slog: slog.New(handler)}, nil
}

// NewWithWriter is used by tests to capture output.
func NewWithWriter(w io.Writer, level string) *Logger {
	return &Logger{slog: slog.New(newTextHandler(w, parseLevel(level)))}
}

// Discard returns a logger that drops everything. Handy default for tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "error")
}

// Slog exposes the structured logger for integrations that want it raw.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

func (l *Logger) Debug(format string, args ...any) {
	l.slog.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	l.slog.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.slog.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.slog.Error(fmt.Sprintf(format, args...))
}

// Tagged variants prefix the message with a module tag so log lines from
// one pipeline stage can be grepped together.

func (l *Logger) DebugTag(tag, format string, args ...any) {
	l.slog.Debug("[" + tag + "] " + fmt.Sprintf(format, args...))
}

func (l *Logger) InfoTag(tag, format string, args ...any) {
	l.slog.Info("[" + tag + "] " + fmt.Sprintf(format, args...))
}

func (l *Logger) WarnTag(tag, format string, args ...any) {
	l.slog.Warn("[" + tag + "] " + fmt.Sprintf(format, args...))
}

func (l *Logger) ErrorTag(tag, format string, args ...any) {
	l.slog.Error("[" + tag + "] " + fmt.Sprintf(format, args...))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// textHandler renders "2006-01-02 15:04:05.000 LEVEL message" lines.
type textHandler struct {
	writer io.Writer
	level  slog.Level
	attrs  []slog.Attr
	mu     *sync.Mutex
}

func newTextHandler(w io.Writer, level slog.Level) *textHandler {
	return &textHandler{
		writer: w,
		level:  level,
		mu:     &sync.Mutex{},
	}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format("2006-01-02 15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, attr := range h.attrs {
		b.WriteString(fmt.Sprintf(" %s=%v", attr.Key, attr.Value.Any()))
	}
	r.Attrs(func(attr slog.Attr) bool {
		b.WriteString(fmt.Sprintf(" %s=%v", attr.Key, attr.Value.Any()))
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *textHandler) WithGroup(string) slog.Handler {
	return h
}
