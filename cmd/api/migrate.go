package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"studyhub/api/internal/config"
	"studyhub/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrations(cmd.Context(), func(cfg config.Config, run migrationRunner) error {
			if err := run.up(); err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations (default 1 step)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil || parsed <= 0 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			steps = parsed
		}
		return withMigrations(cmd.Context(), func(cfg config.Config, run migrationRunner) error {
			if err := run.down(steps); err != nil {
				return err
			}
			cmd.Printf("rolled back %d migration(s)\n", steps)
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrations(cmd.Context(), func(cfg config.Config, run migrationRunner) error {
			version, dirty, err := run.version()
			if err != nil {
				return err
			}
			cmd.Printf("version %d (dirty=%t)\n", version, dirty)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

type migrationRunner struct {
	up      func() error
	down    func(steps int) error
	version func() (uint, bool, error)
}

func withMigrations(ctx context.Context, fn func(config.Config, migrationRunner) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Load()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	return fn(cfg, migrationRunner{
		up:      func() error { return store.ApplyMigrations(db, cfg.MigrationsDir) },
		down:    func(steps int) error { return store.RollbackMigrations(db, cfg.MigrationsDir, steps) },
		version: func() (uint, bool, error) { return store.MigrationVersion(db, cfg.MigrationsDir) },
	})
}
