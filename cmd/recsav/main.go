package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ArionMiles/recsav/internal/stages"
	"github.com/ArionMiles/recsav/pkg/config"
)

func main() {
	fs := flag.NewFlagSet("recsav", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultFile, "settings file (YAML or JSON)")
	fs.Usage = printUsage

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	args := fs.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	os.Exit(run(*configPath, args[0], args[1:]))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: recsav [-config path] <command> [YYYY-MM-DD]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintf(os.Stderr, "  %-16s %s\n", "fetch-zaim", "Run the expense-tracker download command")
	fmt.Fprintf(os.Stderr, "  %-16s %s\n", "fetch-card", "Run the card portal download command")
	for _, s := range stages.Default().List() {
		fmt.Fprintf(os.Stderr, "  %-16s %s\n", s.Name(), s.Description())
	}
	fmt.Fprintf(os.Stderr, "  %-16s %s\n", "migrate", "Apply the database schema")
	fmt.Fprintf(os.Stderr, "  %-16s %s\n", "status", "Check configuration, input files and database")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "The optional date overrides today for fetch-zaim and recurring.")
}
