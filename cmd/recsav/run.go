package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ArionMiles/recsav/internal/runner"
	"github.com/ArionMiles/recsav/internal/stages"
	"github.com/ArionMiles/recsav/pkg/api"
	"github.com/ArionMiles/recsav/pkg/config"
	"github.com/ArionMiles/recsav/pkg/fetch"
	"github.com/ArionMiles/recsav/pkg/logging"
	"github.com/ArionMiles/recsav/pkg/recurring"
	"github.com/ArionMiles/recsav/pkg/store/postgres"
)

// run executes one command and returns the process exit code.
func run(configPath, command string, args []string) int {
	switch command {
	case "help":
		printUsage()
		return 0
	case "status":
		if err := runStatus(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			return 1
		}
		return 0
	}

	var stage stages.Stage
	switch command {
	case "fetch-zaim", "fetch-card", "migrate":
	default:
		s, err := stages.Default().Get(command)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
			printUsage()
			return 2
		}
		stage = s
	}

	date, err := runDate(args, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		return 1
	}

	logger, closeLog, err := logging.New(logging.FromConfig(cfg.Log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up logging: %v\n", err)
		return 1
	}
	defer closeLog()
	logger = logger.With("run_id", uuid.NewString(), "command", command)

	// Setup context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	switch command {
	case "fetch-zaim":
		err = fetchZaim(ctx, cfg, date, logger)
	case "fetch-card":
		err = fetchCard(ctx, cfg, logger)
	case "migrate":
		err = withRunner(ctx, cfg, logger, func(r *runner.Runner) error {
			return r.Run(ctx, command, func(ctx context.Context, tx pgx.Tx) error {
				return postgres.Migrate(ctx, tx, logger)
			})
		})
	default:
		if stage.Name() == "recurring" && !recurring.IsTriggerDay(date) {
			logger.Info("not the first day of the month, nothing to post",
				"date", date.Format(time.DateOnly))
			return 0
		}
		params := stages.Params{Config: cfg, Date: date, Logger: logger}
		err = withRunner(ctx, cfg, logger, func(r *runner.Runner) error {
			return r.Run(ctx, stage.Name(), func(ctx context.Context, tx pgx.Tx) error {
				return stage.Run(ctx, tx, params)
			})
		})
	}

	if err != nil {
		logger.Error("command failed", "error", err)
		return 1
	}
	return 0
}

// runDate parses the optional YYYY-MM-DD argument, defaulting to today.
func runDate(args []string, now time.Time) (time.Time, error) {
	if len(args) == 0 {
		return api.DateOf(now), nil
	}
	if len(args) > 1 {
		return time.Time{}, fmt.Errorf("expected at most one date argument, got %d", len(args))
	}
	d, err := time.Parse(time.DateOnly, args[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", args[0])
	}
	return d, nil
}

func postgresConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		Database:        cfg.Postgres.Database,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		SSLMode:         cfg.Postgres.SSLMode,
		ConnectAttempts: cfg.Postgres.ConnectAttempts,
	}
}

// withRunner connects, hands a runner to fn and always releases the connection.
func withRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger, fn func(*runner.Runner) error) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	conn, err := postgres.Connect(ctx, postgresConfig(cfg), logger)
	if err != nil {
		return err
	}

	r := runner.New(conn, logger)
	defer func() {
		if err := r.Close(context.Background()); err != nil {
			logger.Warn("closing connection", "error", err)
		}
	}()

	return fn(r)
}

func fetchZaim(ctx context.Context, cfg *config.Config, today time.Time, logger *slog.Logger) error {
	for _, name := range []string{cfg.Zaim.HistoryCSV, cfg.Zaim.BudgetCSV} {
		removed, err := fetch.PrepareOutput(cfg.Output.Dir, name)
		if err != nil {
			return err
		}
		for _, path := range removed {
			logger.Debug("removed stale download", "path", path)
		}
	}

	f := fetch.NewExecFetcher(cfg.Fetch.ZaimCommand, cfg.Fetch.Attempts, cfg.Fetch.Delay, cfg.Fetch.Timeout, logger)
	return f.Fetch(ctx, fetch.Request{
		Source: "zaim",
		Window: fetch.ZaimWindow(today),
		Output: cfg.ZaimHistoryPath(),
	})
}

func fetchCard(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	removed, err := fetch.PrepareOutput(cfg.Output.Dir, cfg.Card.CSVPrefix)
	if err != nil {
		return err
	}
	for _, path := range removed {
		logger.Debug("removed stale download", "path", path)
	}

	// The portal shows the current statement and the unbilled tabs as they
	// are; only the first configured tab is required to appear.
	today := api.DateOf(time.Now())
	f := fetch.NewExecFetcher(cfg.Fetch.CardCommand, cfg.Fetch.Attempts, cfg.Fetch.Delay, cfg.Fetch.Timeout, logger)
	return f.Fetch(ctx, fetch.Request{
		Source: "card",
		Window: api.Window{Start: today, End: today},
		Output: filepath.Join(cfg.Output.Dir, cfg.Card.CSVPrefix),
		Expect: []string{cfg.CardTabPath(cfg.Card.Tabs[0])},
	})
}
