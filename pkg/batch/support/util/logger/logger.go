// Package logger provides the leveled logging facade used throughout chunkflow.
// Messages are formatted printf-style and emitted through log/slog with a tint handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

// LevelFatal sits above slog.LevelError and is used by Fatalf.
const LevelFatal = slog.Level(12)

var (
	// level is the currently set global log level. Messages below it are dropped.
	level = new(slog.LevelVar)

	current atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	SetOutput(os.Stderr)
}

// SetOutput replaces the destination of all log messages.
// Colors are disabled unless the destination is os.Stderr or os.Stdout.
func SetOutput(w io.Writer) {
	noColor := w != os.Stderr && w != os.Stdout
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if lv, ok := a.Value.Any().(slog.Level); ok && lv == LevelFatal {
					a.Value = slog.StringValue("FTL")
				}
			}
			return a
		},
	})
	current.Store(slog.New(handler))
}

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// Unknown values fall back to INFO with a warning.
func SetLogLevel(lv string) {
	switch strings.ToUpper(lv) {
	case "DEBUG":
		level.Set(slog.LevelDebug)
	case "INFO":
		level.Set(slog.LevelInfo)
	case "WARN":
		level.Set(slog.LevelWarn)
	case "ERROR":
		level.Set(slog.LevelError)
	case "FATAL":
		level.Set(LevelFatal)
	default:
		level.Set(slog.LevelInfo)
		Warnf("Unknown log level '%s' specified. Defaulting to INFO level.", lv)
	}
}

// Slog returns the underlying structured logger, for components that log with attributes.
func Slog() *slog.Logger {
	return current.Load()
}

func logf(lv slog.Level, format string, v ...interface{}) {
	l := current.Load()
	ctx := context.Background()
	if !l.Enabled(ctx, lv) {
		return
	}
	l.Log(ctx, lv, fmt.Sprintf(format, v...))
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	logf(slog.LevelDebug, format, v...)
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	logf(slog.LevelInfo, format, v...)
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	logf(slog.LevelWarn, format, v...)
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	logf(slog.LevelError, format, v...)
}

// Fatalf outputs a FATAL level log message and terminates the program with os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	logf(LevelFatal, format, v...)
	os.Exit(1)
}
