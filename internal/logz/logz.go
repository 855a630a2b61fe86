// Package logz builds the structured logger Maegashira's components share.
// It wraps log/slog with a handler-selection convention (JSON for
// production, text for local/interactive use) and a string-keyed level,
// the way the rivaas logging package's WithJSONHandler/WithTextHandler/
// WithLevel options do.
package logz

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// HandlerKind selects the slog.Handler implementation.
type HandlerKind string

const (
	HandlerJSON HandlerKind = "json"
	HandlerText HandlerKind = "text"
)

// Options configures New.
type Options struct {
	Level   string // "debug", "info", "warn", "error"; default "info"
	Handler HandlerKind
	Output  io.Writer // defaults to os.Stderr
}

// New builds a *slog.Logger per Options, defaulting to an info-level JSON
// handler on stderr when fields are left zero.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.Handler == "" {
		opts.Handler = HandlerJSON
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	switch opts.Handler {
	case HandlerText:
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	default:
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	}

	return slog.New(handler)
}

// ParseLevel converts the MAEGASHIRA_LOG_LEVEL string into a slog.Level,
// defaulting to Info for an empty or unrecognized value.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// IsDebug reports whether level (as parsed by ParseLevel) is debug or finer.
// Used to gate the x-maegashira-transaction-* response headers (§4.6).
func IsDebug(level string) bool {
	return ParseLevel(level) <= slog.LevelDebug
}
