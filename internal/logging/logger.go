// Package logging provides structured logging with optional file output and
// an in-memory history of recent entries.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents logging levels
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one retained log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Data      string `json:"data,omitempty"`
}

// Config holds logger configuration
type Config struct {
	Dir        string   `mapstructure:"dir"`         // Directory for log files, empty disables file output
	Level      LogLevel `mapstructure:"level"`       // Minimum log level (default: info)
	MaxHistory int      `mapstructure:"max_history"` // Max entries to keep in memory (default: 500)
	Console    bool     `mapstructure:"console"`     // Also log to console (default: true)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		MaxHistory: 500,
		Console:    true,
	}
}

// Logger wraps zerolog with file output and log history. Every line written
// through it or through a Component logger lands in the history.
type Logger struct {
	zlog    zerolog.Logger
	level   atomic.Int32
	file    *os.File
	logPath string

	mu      sync.RWMutex
	history []LogEntry
	maxHist int
	onLog   func(LogEntry)
}

// New creates a Logger writing to the configured sinks.
func New(cfg Config) (*Logger, error) {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultConfig().MaxHistory
	}
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg Config, console io.Writer) (*Logger, error) {
	l := &Logger{
		history: make([]LogEntry, 0, cfg.MaxHistory),
		maxHist: cfg.MaxHistory,
	}

	writers := []io.Writer{historyWriter{l}}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := fmt.Sprintf("avatarmotion_%s.log", time.Now().Format("2006-01-02"))
		l.logPath = filepath.Join(cfg.Dir, name)
		file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		writers = append(writers, file)
	}

	if cfg.Console && console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"})
	}

	l.level.Store(int32(ParseLevel(cfg.Level)))

	// Filtering happens in the writer so loggers already handed out by
	// Component follow SetLevel.
	gate := levelGate{w: zerolog.MultiLevelWriter(writers...), level: &l.level}
	l.zlog = zerolog.New(gate).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Str("app", "avatarmotion").
		Logger()

	l.zlog.Debug().Str("component", "logging").Str("log_file", l.logPath).Msg("Logger initialized")
	return l, nil
}

// ParseLevel maps a configured level to zerolog, defaulting to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch LogLevel(strings.ToLower(string(level))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLevel changes the minimum level at runtime, including for component
// loggers created earlier.
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(ParseLevel(level)))
}

// Level returns the current minimum level.
func (l *Logger) Level() zerolog.Level {
	return zerolog.Level(l.level.Load())
}

// SetOnLog sets a callback for real-time log streaming
func (l *Logger) SetOnLog(fn func(LogEntry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLog = fn
}

// History returns up to limit of the most recent entries, oldest first.
// A non-positive limit returns everything retained.
func (l *Logger) History(limit int) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.history) {
		limit = len(l.history)
	}
	result := make([]LogEntry, limit)
	copy(result, l.history[len(l.history)-limit:])
	return result
}

// LogPath returns the current log file path, empty without file output.
func (l *Logger) LogPath() string { return l.logPath }

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Component returns a zerolog.Logger with the component field set
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger { return l.zlog }

func (l *Logger) addToHistory(entry LogEntry) {
	l.mu.Lock()
	l.history = append(l.history, entry)
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}
	fn := l.onLog
	l.mu.Unlock()

	if fn != nil {
		go fn(entry)
	}
}

// levelGate drops events below the logger's current level.
type levelGate struct {
	w     zerolog.LevelWriter
	level *atomic.Int32
}

func (g levelGate) Write(p []byte) (int, error) { return g.w.Write(p) }

func (g levelGate) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	if lvl < zerolog.Level(g.level.Load()) {
		return len(p), nil
	}
	return g.w.WriteLevel(lvl, p)
}

// historyWriter decodes zerolog's JSON lines into history entries.
type historyWriter struct{ l *Logger }

var reserved = map[string]bool{
	zerolog.TimestampFieldName: true,
	zerolog.LevelFieldName:     true,
	zerolog.MessageFieldName:   true,
	"component":                true,
	"app":                      true,
}

func (w historyWriter) Write(p []byte) (int, error) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return len(p), nil
	}

	entry := LogEntry{Timestamp: time.Now().Format("15:04:05.000")}
	entry.Level, _ = fields[zerolog.LevelFieldName].(string)
	entry.Message, _ = fields[zerolog.MessageFieldName].(string)
	entry.Component, _ = fields["component"].(string)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !reserved[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	entry.Data = strings.Join(parts, ", ")

	w.l.addToHistory(entry)
	return len(p), nil
}
