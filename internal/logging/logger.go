package logging

// Leveled logging for the adapter, rendered through log/slog.

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	console "github.com/phsym/console-slog"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

// levelVerbose sits between slog's debug and info levels.
const levelVerbose = slog.Level(-2)

// levelOff is above every level a record can carry.
const levelOff = slog.Level(100)

// ParseLevel maps a config/flag string to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "off":
		return LogLevelSilent, nil
	case "error":
		return LogLevelError, nil
	case "", "info":
		return LogLevelInfo, nil
	case "verbose":
		return LogLevelVerbose, nil
	case "debug":
		return LogLevelDebug, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelVerbose:
		return levelVerbose
	case LogLevelDebug:
		return slog.LevelDebug
	}
	return levelOff
}

// Options configures a Logger.
type Options struct {
	Level   LogLevel
	Format  string    // "text" (console) or "json"
	File    string    // optional JSON log file
	Output  io.Writer // console destination, os.Stderr when nil
	HexDump bool      // emit LogHex output at debug level
}

// Logger provides leveled logging with printf-style messages.
type Logger struct {
	mu      sync.Mutex
	level   *slog.LevelVar
	current LogLevel
	file    *os.File
	slog    *slog.Logger
	hexDump bool
}

// NewLogger creates a console logger at level, also writing JSON records to
// logFile when it is not empty.
func NewLogger(level LogLevel, logFile string) (*Logger, error) {
	return New(Options{Level: level, File: logFile})
}

// New creates a logger from opts.
func New(opts Options) (*Logger, error) {
	l := &Logger{
		level:   &slog.LevelVar{},
		current: opts.Level,
		hexDump: opts.HexDump,
	}
	l.level.Set(opts.Level.slogLevel())

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var handlers []slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handlers = append(handlers, jsonHandler(out, l.level))
	} else {
		handlers = append(handlers, console.NewHandler(out, &console.HandlerOptions{
			Level: l.level,
		}))
	}

	if opts.File != "" {
		file, err := os.Create(opts.File)
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}
		l.file = file
		handlers = append(handlers, jsonHandler(file, l.level))
	}

	if len(handlers) == 1 {
		l.slog = slog.New(handlers[0])
	} else {
		l.slog = slog.New(fanout(handlers))
	}
	return l, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	l, _ := New(Options{Level: LogLevelSilent, Output: io.Discard})
	return l
}

func jsonHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
			case slog.LevelKey:
				if lv, ok := a.Value.Any().(slog.Level); ok && lv == levelVerbose {
					a.Value = slog.StringValue("VERBOSE")
				}
			}
			return a
		},
	})
}

// With returns a logger that adds the given key/value pairs to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		level:   l.level,
		current: l.current,
		slog:    l.slog.With(args...),
		hexDump: l.hexDump,
	}
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.log(slog.LevelError, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(slog.LevelInfo, format, v...)
}

// Verbose logs a verbose message
func (l *Logger) Verbose(format string, v ...interface{}) {
	l.log(levelVerbose, format, v...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log(slog.LevelDebug, format, v...)
}

func (l *Logger) log(level slog.Level, format string, v ...interface{}) {
	ctx := context.Background()
	if !l.slog.Enabled(ctx, level) {
		return
	}
	msg := format
	if len(v) > 0 {
		msg = fmt.Sprintf(format, v...)
	}
	l.slog.Log(ctx, level, msg)
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = level
	l.level.Set(level.slogLevel())
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// LogHex logs a hex dump of data at debug level when hex dumps are enabled.
func (l *Logger) LogHex(label string, data []byte) {
	if !l.hexDump || !l.slog.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.slog.Debug(label, "len", len(data), "hex", hex.EncodeToString(data))
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
