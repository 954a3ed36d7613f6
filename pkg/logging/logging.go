// Package logging builds the slog logger shared by every recsav command.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ArionMiles/recsav/pkg/config"
)

// Options controls the handler built by New.
type Options struct {
	Level slog.Level
	JSON  bool
	// Path, when set, receives a copy of every record written to Console.
	Path string
	// Console defaults to os.Stderr.
	Console io.Writer
}

// FromConfig converts the log section of the settings file. An empty
// log.level falls back to the LOG_LEVEL environment variable, then INFO.
func FromConfig(cfg config.LogConfig) Options {
	level := cfg.Level
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	return Options{
		Level:   ParseLevel(level),
		JSON:    cfg.JSON,
		Path:    cfg.Path,
		Console: os.Stderr,
	}
}

// ParseLevel converts a string log level to slog.Level. Unknown values mean INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the logger, installs it as slog's default and returns a func
// that closes the log file, if any.
func New(opts Options) (*slog.Logger, func() error, error) {
	out := opts.Console
	if out == nil {
		out = os.Stderr
	}

	closeFn := func() error { return nil }
	if opts.Path != "" {
		f, err := openAppend(opts.Path)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(out, f)
		closeFn = f.Close
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, closeFn, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
