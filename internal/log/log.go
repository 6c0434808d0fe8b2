// Package log is the controller's logging layer. Records go to two
// sinks with independent levels: a console sink on stderr (warnings and
// errors unless verbose) and an always-on JSON file sink under the data
// directory, rotated daily by the writer in file.go. Components that act
// on behalf of a project or build log through a scoped Logger so every
// record carries the correlating ids.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Options configures the package.
type Options struct {
	// Verbose lowers the console sink to debug level.
	Verbose bool
	// JSONFormat switches the console sink to JSON records.
	JSONFormat bool
	// Dir enables the file sink, writing rotated JSON files there.
	Dir string
	// RetentionDays bounds how long rotated files are kept (0 keeps all).
	RetentionDays int
	// Stderr overrides the console destination (tests).
	Stderr io.Writer
}

// Logger writes one record to every configured sink. The zero value is
// unusable; obtain one from Init's package state via With, ForProject or
// ForBuild.
type Logger struct {
	console *slog.Logger
	file    *slog.Logger
}

var root Logger
var fileWriter *RotatingWriter

func init() {
	// Usable before Init: console only, default destination.
	root = Logger{console: slog.Default()}
}

// Init installs the package sinks.
func Init(opts Options) error {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	consoleOpts := &slog.HandlerOptions{Level: level}

	var console *slog.Logger
	if opts.JSONFormat {
		console = slog.New(slog.NewJSONHandler(stderr, consoleOpts))
	} else {
		console = slog.New(slog.NewTextHandler(stderr, consoleOpts))
	}

	var file *slog.Logger
	if opts.Dir != "" {
		fileWriter = NewRotatingWriter(opts.Dir, opts.RetentionDays)
		file = slog.New(slog.NewJSONHandler(fileWriter, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	root = Logger{console: console, file: file}
	slog.SetDefault(console)
	return nil
}

// Close flushes and closes the file sink.
func Close() {
	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}
}

// With returns a logger carrying extra attributes on every record.
func With(args ...any) Logger {
	return root.With(args...)
}

// ForProject returns a logger correlated with one project.
func ForProject(projectID int64) Logger {
	return root.With("project_id", projectID)
}

// ForBuild returns a logger correlated with one build of a project.
func ForBuild(projectID, buildID int64) Logger {
	return root.With("project_id", projectID, "build_id", buildID)
}

// With returns a copy of l with extra attributes.
func (l Logger) With(args ...any) Logger {
	out := Logger{console: l.console.With(args...)}
	if l.file != nil {
		out.file = l.file.With(args...)
	}
	return out
}

// Debug logs at debug level.
func (l Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l Logger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	l.console.Log(ctx, level, msg, args...)
	if l.file != nil {
		l.file.Log(ctx, level, msg, args...)
	}
}

// Package-level helpers log through the root logger.

// Debug logs a debug message.
func Debug(msg string, args ...any) { root.Debug(msg, args...) }

// Info logs an info message.
func Info(msg string, args ...any) { root.Info(msg, args...) }

// Warn logs a warning message.
func Warn(msg string, args ...any) { root.Warn(msg, args...) }

// Error logs an error message.
func Error(msg string, args ...any) { root.Error(msg, args...) }

// SetOutput routes all records to w at debug level (tests).
func SetOutput(w io.Writer) {
	root = Logger{console: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))}
}
