package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (console, silent, etc.)
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// Level orders log severities from most to least verbose.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a LOG_LEVEL string to a Level. Unknown values yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ConsoleLogger writes human-readable logs to stdout/stderr.
// Used for normal operation and debugging.
type ConsoleLogger struct {
	mu    sync.Mutex
	level Level
	out   io.Writer
	err   io.Writer
}

func NewConsoleLogger() *ConsoleLogger {
	return NewConsoleLoggerAt(LevelInfo)
}

// NewConsoleLoggerAt creates a ConsoleLogger that drops messages below level.
func NewConsoleLoggerAt(level Level) *ConsoleLogger {
	return &ConsoleLogger{level: level, out: os.Stdout, err: os.Stderr}
}

// NewStderrLogger writes every level to stderr, for commands whose stdout
// carries data (publish output, the MCP stdio transport).
func NewStderrLogger(level Level) *ConsoleLogger {
	return &ConsoleLogger{level: level, out: os.Stderr, err: os.Stderr}
}

func (c *ConsoleLogger) Info(msg string, args ...interface{}) {
	c.write(LevelInfo, c.out, "[INFO] ", msg, args)
}

func (c *ConsoleLogger) Warn(msg string, args ...interface{}) {
	c.write(LevelWarn, c.err, "[WARN] ", msg, args)
}

func (c *ConsoleLogger) Error(msg string, args ...interface{}) {
	c.write(LevelError, c.err, "[ERROR] ", msg, args)
}

func (c *ConsoleLogger) Debug(msg string, args ...interface{}) {
	c.write(LevelDebug, c.out, "[DEBUG] ", msg, args)
}

func (c *ConsoleLogger) write(level Level, w io.Writer, prefix, msg string, args []interface{}) {
	if level < c.level {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, prefix+msg+"\n", args...)
}

// SilentLogger discards all log messages.
// Used when running in TUI mode to prevent log output from interfering with the display.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Warn(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Debug(msg string, args ...interface{}) {}
