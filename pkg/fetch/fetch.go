// Package fetch drives the external download commands that deposit source
// CSV files in the output directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/ArionMiles/recsav/pkg/api"
)

// Environment variables handed to the download command.
const (
	EnvSource = "RECSAV_FETCH_SOURCE"
	EnvStart  = "RECSAV_FETCH_START"
	EnvEnd    = "RECSAV_FETCH_END"
	EnvOutput = "RECSAV_FETCH_OUTPUT"
)

// ErrNoCommand is returned when no command is configured for a source.
var ErrNoCommand = errors.New("no fetch command configured")

// Request describes one download.
type Request struct {
	// Source names the feed, e.g. "zaim" or "card".
	Source string
	Window api.Window
	// Output is the file the command must create. For multi-file sources it
	// is a path prefix.
	Output string
	// Expect lists files that must exist afterwards. Defaults to Output.
	Expect []string
}

// ExecFetcher runs a command and retries it until the expected files exist.
type ExecFetcher struct {
	Command  []string
	Attempts uint
	Delay    time.Duration
	Timeout  time.Duration
	logger   *slog.Logger
}

// NewExecFetcher creates a fetcher for command.
func NewExecFetcher(command []string, attempts int, delay, timeout time.Duration, logger *slog.Logger) *ExecFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts < 1 {
		attempts = 1
	}
	return &ExecFetcher{
		Command:  command,
		Attempts: uint(attempts),
		Delay:    delay,
		Timeout:  timeout,
		logger:   logger.With("component", "fetch"),
	}
}

// Fetch runs the command for req.
func (f *ExecFetcher) Fetch(ctx context.Context, req Request) error {
	if len(f.Command) == 0 {
		return fmt.Errorf("%s: %w", req.Source, ErrNoCommand)
	}
	expect := req.Expect
	if len(expect) == 0 {
		expect = []string{req.Output}
	}

	f.logger.Info("fetching source",
		"source", req.Source,
		"window", req.Window.String(),
		"output", req.Output,
	)

	err := retry.Do(
		func() error {
			if err := f.run(ctx, req); err != nil {
				return err
			}
			for _, path := range expect {
				if _, err := os.Stat(path); err != nil {
					return fmt.Errorf("expected output %s: %w", path, err)
				}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(f.Attempts),
		retry.Delay(f.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Warn("fetch attempt failed, retrying",
				"source", req.Source,
				"attempt", n+1,
				"error", err,
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", req.Source, err)
	}

	f.logger.Info("fetch completed", "source", req.Source)
	return nil
}

func (f *ExecFetcher) run(ctx context.Context, req Request) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, f.Command[0], f.Command[1:]...)
	cmd.Env = append(os.Environ(),
		EnvSource+"="+req.Source,
		EnvStart+"="+req.Window.Start.Format(time.DateOnly),
		EnvEnd+"="+req.Window.End.Format(time.DateOnly),
		EnvOutput+"="+req.Output,
	)

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		f.logger.Debug("fetch command output", "source", req.Source, "output", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("running %s: %w", f.Command[0], err)
	}
	return nil
}

// PrepareOutput creates dir and removes files left there by an earlier
// download whose names start with prefix.
func PrepareOutput(dir, prefix string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading output directory: %w", err)
	}

	var removed []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("removing stale file %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// ZaimWindow is the expense-tracker download range for today: from the
// first day of the month two months back through the end of today's month.
func ZaimWindow(today time.Time) api.Window {
	start := api.MonthStart(today).AddDate(0, -2, 0)
	return api.Window{Start: start, End: api.MonthEnd(today)}
}
