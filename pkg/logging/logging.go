package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds the process logger: text or JSON (LOG_FORMAT=json) on stdout, tagged with service.
// It also becomes the slog default, so stdlib log output goes through the same handler.
func New(service string, level slog.Level) *slog.Logger {
	return newLogger(os.Stdout, os.Getenv("LOG_FORMAT"), service, level)
}

func newLogger(w io.Writer, format, service string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h).With("service", service)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel falls back to info on unknown input.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
