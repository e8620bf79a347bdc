package logging

import (
	"log/slog"
	"os"

	"github.com/studyboard/studyboard-client/internal/platform/correlation"
)

// Logger is the application-wide structured logger instance.
var Logger *slog.Logger

// InitLogger initializes the global logger with the specified level and format.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
// The handler is wrapped so log lines pick up the correlation ID of the API
// call they were produced under.
func InitLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(correlation.NewHandler(handler))
	slog.SetDefault(Logger)
}

// WithUser returns a logger with a user_id field.
func WithUser(userID int64) *slog.Logger {
	return Logger.With("user_id", userID)
}

// WithError returns a logger with an error field.
func WithError(err error) *slog.Logger {
	return Logger.With("error", err)
}
