// Package logging builds the service logger from the logging section of the
// config file: a text handler on stderr and an optional JSON handler writing
// to a file, each filtered by its own level.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"fleetnotify/internal/config"
)

const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// LevelCriticalSlog sits above slog.LevelError.
const LevelCriticalSlog = slog.LevelError + 4

// New returns a logger writing to the enabled handlers and a function closing
// the log file. With no handler enabled, records are discarded.
func New(cfg config.LoggingConfig) (*slog.Logger, func() error, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LoggingConfig, console io.Writer) (*slog.Logger, func() error, error) {
	var handlers []slog.Handler
	closeFn := func() error { return nil }

	if cfg.Console.Use {
		handlers = append(handlers, slog.NewTextHandler(console, handlerOptions(cfg.Console.Level)))
	}

	if cfg.File.Use {
		if cfg.File.Path == "" {
			return nil, nil, errors.New("file logging enabled without a path")
		}
		if dir := filepath.Dir(cfg.File.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(file, handlerOptions(cfg.File.Level)))
		closeFn = file.Close
	}

	return slog.New(fanout(handlers)), closeFn, nil
}

func handlerOptions(level string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCriticalSlog {
					a.Value = slog.StringValue(LevelCritical)
				}
			}
			return a
		},
	}
}

// parseLevel converts a config level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning, "WARN":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return LevelCriticalSlog
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether level is one of the accepted level names.
func ValidLevel(level string) bool {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug, LevelInfo, LevelWarning, "WARN", LevelError, LevelCritical:
		return true
	}
	return false
}

type multiHandler []slog.Handler

func fanout(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return multiHandler(handlers)
}

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
