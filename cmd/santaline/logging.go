package main

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger builds the process logger. "json" selects machine-readable
// output; anything else gets the human console format.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel(level)}))
	}

	h := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "santaline",
	})
	switch strings.ToLower(level) {
	case "debug":
		h.SetLevel(log.DebugLevel)
	case "warn", "warning":
		h.SetLevel(log.WarnLevel)
	case "error":
		h.SetLevel(log.ErrorLevel)
	default:
		h.SetLevel(log.InfoLevel)
	}
	return slog.New(h)
}

func slogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
