package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"recipelineage/api/internal/app"
	"recipelineage/api/internal/config"
	"recipelineage/api/internal/engine"
	"recipelineage/api/internal/logging"
	"recipelineage/api/internal/ratingstore"
	"recipelineage/api/internal/store"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser()

	db, dataStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	var ratings engine.RatingBackend = dataStore
	if cfg.RatingsBackend == config.RatingsRedis {
		logger.Info("using redis for rating aggregates")
		redisStore, err := ratingstore.NewRedisStore(cfg.RedisURL, logger.With(slog.String("component", "ratingstore")))
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		ratings = redisStore
	}

	eng := engine.New(engine.Config{
		SubscriberBuffer: cfg.SubscriberBuffer,
		HistoryPageSize:  cfg.HistoryPageSize,
		TopMinAverage:    cfg.TopMinAverage,
		TopLimit:         cfg.TopLimit,
		SeedDemo:         cfg.SeedDemo,
	}, dataStore, ratings, logger.With(slog.String("component", "engine")))
	if err := eng.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	httpServer := app.NewHTTPServer(eng, cfg.CORSOrigin, logger.With(slog.String("component", "http")))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("recipes API listening", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}
	return nil
}

func newLogger(cfg config.Config) (*slog.Logger, func(), error) {
	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}, os.Stdout)
	if err != nil {
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, func() { _ = closer.Close() }, nil
}

// openStore connects the configured SQL backend. Postgres is migrated on start;
// SQLite carries its schema with it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sql.DB, *store.SQLStore, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		if dir := sqliteDir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		db, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		logger.Info("using sqlite store", slog.String("path", cfg.SQLitePath))
		return db, store.NewSQLiteStore(db), nil
	default:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		for _, version := range applied {
			logger.Info("migration applied", slog.String("version", version))
		}
		return db, store.NewPostgresStore(db), nil
	}
}

func sqliteDir(path string) string {
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Dir(path)
}
