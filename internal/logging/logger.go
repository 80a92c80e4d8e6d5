// Package logging provides structured logging for the CLI and library code.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "15:04:05"

// Logger wraps zerolog. Console output is human readable; the optional
// log file receives JSON lines and is rotated by lumberjack.
type Logger struct {
	zlog    zerolog.Logger
	console io.Writer
	file    *lumberjack.Logger
}

// NewLogger creates a logger writing to console and, when filePath is set,
// to a rotating log file as well.
func NewLogger(console io.Writer, filePath string) (*Logger, error) {
	l := &Logger{console: console}

	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
			return nil, err
		}
		l.file = &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}

	l.rebuild()
	return l, nil
}

// NewDefaultCLILogger creates a console-only logger on stdout.
// Stderr is reserved for progress bars.
func NewDefaultCLILogger() *Logger {
	l, _ := NewLogger(os.Stdout, "")
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop(), console: io.Discard}
}

func (l *Logger) rebuild() {
	var out io.Writer = zerolog.ConsoleWriter{
		Out:        l.console,
		TimeFormat: timeFormat,
	}
	if l.file != nil {
		out = zerolog.MultiLevelWriter(out, l.file)
	}
	l.zlog = zerolog.New(out).With().Timestamp().Logger()
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child context; call Logger() on it and wrap with FromZerolog.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// FromZerolog wraps an existing zerolog logger, e.g. one built from With().
func FromZerolog(z zerolog.Logger) *Logger {
	return &Logger{zlog: z, console: io.Discard}
}

// SetOutput changes the console writer.
// Used to route log lines through the progress bar container so they
// don't tear the bars.
func (l *Logger) SetOutput(w io.Writer) {
	l.console = w
	l.rebuild()
}

// Output returns the current console writer.
func (l *Logger) Output() io.Writer {
	return l.console
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: timeFormat,
	})
}
