package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/BaSui01/constraintflow/internal/migration"
)

// runMigrate constraintflow migrate <subcommand> [--config path] [args]
func runMigrate(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		migrateUsage(stderr)
		if len(args) == 0 {
			return 2
		}
		return 0
	}
	sub := args[0]

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (YAML or TOML)")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	m, err := migration.NewMigratorFromConfig(cfg.Database)
	if err != nil {
		fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	defer m.Close()

	if err := migration.NewCLI(m, stdout).Run(context.Background(), sub, fs.Args()); err != nil {
		fmt.Fprintf(stderr, "migrate %s: %v\n", sub, err)
		if errors.Is(err, migration.ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func migrateUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: constraintflow migrate <subcommand> [--config path] [args]")
	fmt.Fprintf(w, "Subcommands: %s\n", strings.Join(migration.Subcommands, ", "))
	fmt.Fprintln(w, "steps N applies (N > 0) or rolls back (N < 0) N migrations.")
	fmt.Fprintln(w, "Requires database.driver postgres, mysql or sqlite.")
}
