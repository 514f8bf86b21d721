// Package plog provides the global structured logger for save-backup.
//
// It is a thin front-end over log/slog with a small custom level set:
// Debug < Notice < Info < Warn < Error. Notice is used for per-file action
// lines (COPY, ADD, SKIP) which are too chatty for the default Info level
// but more interesting than raw debug output.
//
// Console output is split by level: Info and below go to stdout, Warn and
// above go to stderr. An optional append-only file sink receives every
// record regardless of the console level split.
package plog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LevelNotice sits between Debug and Info. Per-file action lines log here.
const LevelNotice = slog.Level(-2)

var (
	mu            sync.Mutex
	levelVar      = new(slog.LevelVar) // shared by all console handlers
	defaultLogger *slog.Logger
	fileSink      io.WriteCloser
)

// splitHandler dispatches records to stdout or stderr by level and mirrors
// every record to an optional file handler.
type splitHandler struct {
	stdout slog.Handler
	stderr slog.Handler
	file   slog.Handler // nil when no file sink is configured
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.file != nil && h.file.Enabled(ctx, level) {
		return true
	}
	return h.stdout.Enabled(ctx, level) || h.stderr.Enabled(ctx, level)
}

func (h *splitHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	if h.file != nil && h.file.Enabled(ctx, r.Level) {
		firstErr = h.file.Handle(ctx, r)
	}
	console := h.stdout
	if r.Level >= slog.LevelWarn {
		console = h.stderr
	}
	if console.Enabled(ctx, r.Level) {
		if err := console.Handle(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := &splitHandler{
		stdout: h.stdout.WithAttrs(attrs),
		stderr: h.stderr.WithAttrs(attrs),
	}
	if h.file != nil {
		nh.file = h.file.WithAttrs(attrs)
	}
	return nh
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	nh := &splitHandler{
		stdout: h.stdout.WithGroup(name),
		stderr: h.stderr.WithGroup(name),
	}
	if h.file != nil {
		nh.file = h.file.WithGroup(name)
	}
	return nh
}

// replaceLevelName renders the custom Notice level with a proper name instead
// of slog's relative "DEBUG+2" form.
func replaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelNotice {
			a.Value = slog.StringValue("NOTICE")
		}
	}
	return a
}

func newConsoleHandler(w io.Writer, minLevel slog.Leveler) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       minLevel,
		ReplaceAttr: replaceLevelName,
	})
}

// dynamicFloor combines the global level var with a fixed floor so the
// stderr handler never drops below Warn even in debug mode.
type dynamicFloor struct {
	floor slog.Level
}

func (d dynamicFloor) Level() slog.Level {
	if l := levelVar.Level(); l > d.floor {
		return l
	}
	return d.floor
}

func rebuild() {
	h := &splitHandler{
		stdout: newConsoleHandler(os.Stdout, levelVar),
		stderr: newConsoleHandler(os.Stderr, dynamicFloor{floor: slog.LevelWarn}),
	}
	if fileSink != nil {
		// The file sink records everything down to Debug, independent of the
		// console level, so the on-disk log stays a complete audit trail.
		h.file = slog.NewTextHandler(fileSink, &slog.HandlerOptions{
			Level:       slog.LevelDebug,
			ReplaceAttr: replaceLevelName,
		})
	}
	defaultLogger = slog.New(h)
}

func init() {
	levelVar.Set(slog.LevelInfo)
	rebuild()
}

// SetLevel sets the minimum level for console output.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// LevelFromString maps a config/flag string to a slog level.
// Unknown strings fall back to Info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "notice":
		return LevelNotice
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AddFileSink attaches an append-only log file to the global logger,
// creating the parent directory if needed. Any previously attached sink is
// closed first.
func AddFileSink(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create log directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("could not open log file %s: %w", path, err)
	}
	if fileSink != nil {
		fileSink.Close()
	}
	fileSink = f
	rebuild()
	return nil
}

// CloseFileSink detaches and closes the file sink, if any.
func CloseFileSink() {
	mu.Lock()
	defer mu.Unlock()
	if fileSink != nil {
		fileSink.Close()
		fileSink = nil
		rebuild()
	}
}

// SetOutput redirects all logger output to w, primarily for tests.
// The level is lowered to Debug so tests can assert on any record.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	fileSink = nil
	levelVar.Set(slog.LevelDebug)
	defaultLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: replaceLevelName,
	}))
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Notice logs a per-file action line.
func Notice(msg string, args ...any) {
	defaultLogger.Log(context.Background(), LevelNotice, msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}
