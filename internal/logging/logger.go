package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// FileName is the name of the log file created inside the log directory.
const FileName = "friendflow.log"

// Record is a single emitted log line as seen by an Observer.
type Record struct {
	Time    time.Time
	Level   string
	Message string
	Attrs   map[string]any
}

// Observer receives every record that passes the level filter.
// Observers run synchronously on the logging goroutine and must not block.
type Observer func(Record)

// Logger provides structured logging with persistent attributes.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	level  slog.Level
	out    *sink
	attrs  []slog.Attr
}

// sink is shared by a logger and all of its children.
type sink struct {
	mu        sync.RWMutex
	closer    io.Closer
	observers []Observer
}

// Options configures NewLogger.
type Options struct {
	// Dir is the directory holding the log file. Empty logs to stderr.
	Dir   string
	Level string
	// Rotation applies when Dir is set.
	Rotation RotationConfig
}

// NewLogger creates a JSON logger. With a directory the output goes to
// {Dir}/friendflow.log through a RotatingWriter, otherwise to stderr.
func NewLogger(opts Options) (*Logger, error) {
	var writer io.Writer = os.Stderr
	out := &sink{}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rw, err := NewRotatingWriter(filepath.Join(opts.Dir, FileName), opts.Rotation)
		if err != nil {
			return nil, err
		}
		writer = rw
		out.closer = rw
	}

	return newLogger(writer, parseLevel(opts.Level), out), nil
}

// New creates a logger writing JSON lines to w.
func New(w io.Writer, level string) *Logger {
	return newLogger(w, parseLevel(level), &sink{})
}

func newLogger(w io.Writer, level slog.Level, out *sink) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{
		logger: slog.New(handler),
		level:  level,
		out:    out,
	}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Observe registers fn to receive every record emitted by this logger and
// any logger derived from it.
func (l *Logger) Observe(fn Observer) {
	if fn == nil {
		return
	}
	l.out.mu.Lock()
	l.out.observers = append(l.out.observers, fn)
	l.out.mu.Unlock()
}

// WithRun tags all entries with the engine run ID.
func (l *Logger) WithRun(runID string) *Logger {
	return l.withAttr(slog.String("run_id", runID))
}

// WithLoop tags all entries with the scheduling loop name (active, passive).
func (l *Logger) WithLoop(loop string) *Logger {
	return l.withAttr(slog.String("loop", loop))
}

// WithComponent tags all entries with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.withAttr(slog.String("component", component))
}

// With returns a child logger with arbitrary key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	attrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	attrs = append(attrs, l.attrs...)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}

	return &Logger{logger: l.logger, level: l.level, out: l.out, attrs: attrs}
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	attrs := make([]slog.Attr, len(l.attrs)+1)
	copy(attrs, l.attrs)
	attrs[len(l.attrs)] = attr
	return &Logger{logger: l.logger, level: l.level, out: l.out, attrs: attrs}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if level < l.level {
		return
	}

	all := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		all = append(all, attr.Key, attr.Value.Any())
	}
	all = append(all, args...)

	l.logger.Log(context.Background(), level, msg, all...)
	l.notify(level, msg, all)
}

func (l *Logger) notify(level slog.Level, msg string, kv []any) {
	l.out.mu.RLock()
	observers := l.out.observers
	l.out.mu.RUnlock()
	if len(observers) == 0 {
		return
	}

	rec := Record{
		Time:    time.Now(),
		Level:   level.String(),
		Message: msg,
		Attrs:   make(map[string]any, len(kv)/2),
	}
	for i := 0; i < len(kv)-1; i += 2 {
		if key, ok := kv[i].(string); ok {
			rec.Attrs[key] = kv[i+1]
		}
	}
	for _, fn := range observers {
		fn(rec)
	}
}

// Close flushes and closes the log file. It is a no-op for stderr loggers.
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.closer == nil {
		return nil
	}
	err := l.out.closer.Close()
	l.out.closer = nil
	return err
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return New(io.Discard, LevelError)
}

// ParseLevel normalizes a user-provided level string.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return strings.ToUpper(level)
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
