package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/ArionMiles/recsav/pkg/config"
	"github.com/ArionMiles/recsav/pkg/store/postgres"
)

var (
	checkMark = color.GreenString("✓")
	crossMark = color.RedString("✗")
	warnMark  = color.YellowString("⚠")
)

// runStatus checks the configuration, the input files and the database.
func runStatus(configPath string) error {
	fmt.Println("=== recsav Status ===")
	fmt.Println()

	allGood := true

	cfg := checkConfig(configPath, &allGood)
	if cfg != nil {
		checkInputs(cfg)
		checkDatabase(cfg, &allGood)
	}

	printFinalStatus(allGood)

	return nil
}

func checkConfig(configPath string, allGood *bool) *config.Config {
	fmt.Printf("Config file (%s): ", configPath)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("%s Not found (using environment only)\n", warnMark)
	} else {
		fmt.Printf("%s Found\n", checkMark)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Configuration: %s %v\n", crossMark, err)
		*allGood = false
		return nil
	}

	fmt.Print("Configuration: ")
	if err := cfg.Validate(); err != nil {
		fmt.Printf("%s %v\n", crossMark, err)
		*allGood = false
		return nil
	}
	fmt.Printf("%s Valid (database %s@%s:%d/%s)\n", checkMark,
		cfg.Postgres.User, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)

	return cfg
}

// checkInputs reports the CSV files waiting to be imported. Missing files are
// only a warning because import skips them.
func checkInputs(cfg *config.Config) {
	fmt.Println()
	fmt.Println("Input files:")

	paths := []string{cfg.ZaimHistoryPath(), cfg.ZaimBudgetPath()}
	for _, tab := range cfg.Card.Tabs {
		paths = append(paths, cfg.CardTabPath(tab))
	}

	for _, path := range paths {
		fmt.Printf("  %s: ", path)
		info, err := os.Stat(path)
		if err != nil {
			fmt.Printf("%s Not found\n", warnMark)
			continue
		}
		fmt.Printf("%s %d bytes, modified %s\n", checkMark, info.Size(), info.ModTime().Format(time.DateTime))
	}
}

func checkDatabase(cfg *config.Config, allGood *bool) {
	fmt.Println()
	fmt.Println("Database:")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pgCfg := postgresConfig(cfg)
	pgCfg.ConnectAttempts = 1

	fmt.Print("  Connection: ")
	conn, err := postgres.Connect(ctx, pgCfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		fmt.Printf("%s %v\n", crossMark, err)
		*allGood = false
		return
	}
	defer conn.Close(context.Background())
	fmt.Printf("%s Connected\n", checkMark)

	fmt.Print("  Last linking: ")
	statuses, err := postgres.LinkingStatuses(ctx, conn)
	if err != nil {
		fmt.Printf("%s %v (run 'recsav migrate')\n", crossMark, err)
		*allGood = false
		return
	}
	if len(statuses) == 0 {
		fmt.Printf("%s Never linked\n", warnMark)
		return
	}
	fmt.Println()
	for _, s := range statuses {
		when := "never"
		if s.LastLinkingDate != nil {
			when = s.LastLinkingDate.Local().Format(time.DateTime)
		}
		fmt.Printf("    %-10s %s\n", s.Type.String()+":", when)
	}
}

func printFinalStatus(allGood bool) {
	fmt.Println()
	if allGood {
		fmt.Printf("Status: %s Ready to run\n", checkMark)
		fmt.Println()
		fmt.Println("Run 'recsav import-zaim' or 'recsav import-card' to load new CSVs.")
	} else {
		fmt.Printf("Status: %s Configuration issues detected\n", crossMark)
		fmt.Println()
		fmt.Println("Fix the issues above, then run 'recsav status' again.")
	}
}
