// Package logging provides the package-level structured logger used
// throughout the publication engine. Call sites use the key/value form
// logger.Info("message", "key", value, ...), matching the calling
// convention of the teacher client this module was adapted from.
package logging

import (
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetVerbose switches the default logger to debug level.
func SetVerbose(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Default returns the package-level logger.
func Default() *slog.Logger { return logger }

// Debug logs at debug level.
func Debug(msg string, args ...any) { logger.Debug(msg, args...) }

// Info logs at info level. Session restarts and other recoverable
// state transitions are logged here: they are informational, not
// warnings.
func Info(msg string, args ...any) { logger.Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { logger.Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { logger.Error(msg, args...) }
