package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"recipelineage/api/internal/config"
	"recipelineage/api/internal/store"
)

type migrateOptions struct {
	Down bool
}

func newMigrateCommand() *cobra.Command {
	opts := &migrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back Postgres schema migrations",
		Long: `Applies every pending migration from RECIPES_MIGRATIONS_DIR, or with --down
rolls back the most recent one. SQLite databases create their schema on open
and need no migrations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Down, "down", false, "roll back the most recent migration")
	return cmd
}

func runMigrate(ctx context.Context, opts *migrateOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser()

	if cfg.StoreDriver != config.DriverPostgres {
		logger.Info("nothing to migrate", slog.String("driver", cfg.StoreDriver))
		return nil
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if opts.Down {
		version, err := store.RollbackLast(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		if version == "" {
			logger.Info("no migration to roll back")
			return nil
		}
		logger.Info("migration rolled back", slog.String("version", version))
		return nil
	}

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	for _, version := range applied {
		logger.Info("migration applied", slog.String("version", version))
	}
	logger.Info("schema up to date", slog.Int("applied", len(applied)))
	return nil
}
