package invoiceflow

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// serviceName tags every log record so invoiceflow lines are filterable
// when several services share a log stream.
const serviceName = "invoiceflow"

// NewLogger returns the default text logger: colorized when stdout is a
// terminal, info level, tagged with the service name.
func NewLogger() *slog.Logger {
	return newTextLogger(slog.LevelInfo)
}

// NewJSONLogger returns a JSON logger at info level for log collectors.
func NewJSONLogger() *slog.Logger {
	return newJSONLogger(slog.LevelInfo)
}

// LoggerFromConfig builds a logger from the logging section of the service
// configuration.
func LoggerFromConfig(cfg LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Format == "json" {
		return newJSONLogger(level)
	}
	return newTextLogger(level)
}

func newTextLogger(level slog.Level) *slog.Logger {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	return slog.New(handler).With("service", serviceName)
}

func newJSONLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", serviceName)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
