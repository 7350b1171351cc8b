// Package logging builds the root structured logger shared by every
// component, constructed once at boot and passed down like any other
// collaborator.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Options controls the root logger's format and verbosity.
type Options struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// New builds a *slog.Logger writing to stderr per opts.
func New(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		h = slog.NewTextHandler(os.Stderr, handlerOpts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Component returns a child logger tagged with a "component" field, the
// convention every constructor in this repo uses to make log lines
// attributable without threading a name string through every call site.
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With(slog.String("component", name))
}
