package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationsDir() string {
	return filepath.Join("..", "..", "db", "migrations")
}

func TestMigrationFiles(t *testing.T) {
	ups, err := filepath.Glob(filepath.Join(migrationsDir(), "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, ups, "no migrations discovered")

	t.Run("every up has a down", func(t *testing.T) {
		for _, up := range ups {
			down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
			assert.FileExists(t, down)
		}
	})

	t.Run("every down has an up", func(t *testing.T) {
		downs, err := filepath.Glob(filepath.Join(migrationsDir(), "*.down.sql"))
		require.NoError(t, err)
		assert.Len(t, downs, len(ups))
	})

	t.Run("initial schema creates the recipe tables", func(t *testing.T) {
		contents, err := os.ReadFile(ups[0])
		require.NoError(t, err)
		for _, table := range []string{"users", "recipes", "ratings", "comments"} {
			assert.Contains(t, string(contents), "CREATE TABLE IF NOT EXISTS "+table)
		}
	})
}

func postgresTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("RECIPES_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("RECIPES_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return db
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := postgresTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	applied, err := ApplyMigrations(ctx, db, migrationsDir())
	if err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations to be applied")
	}

	again, err := ApplyMigrations(ctx, db, migrationsDir())
	if err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no pending migrations, got %v", again)
	}

	for range applied {
		if _, err := RollbackLast(ctx, db, migrationsDir()); err != nil {
			t.Fatalf("roll back: %v", err)
		}
	}
	if version, err := RollbackLast(ctx, db, migrationsDir()); err != nil || version != "" {
		t.Fatalf("expected nothing left to roll back, got %q, %v", version, err)
	}

	if _, err := ApplyMigrations(ctx, db, migrationsDir()); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestSQLStorePostgres(t *testing.T) {
	db := postgresTestDB(t)
	if _, err := ApplyMigrations(context.Background(), db, migrationsDir()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	exerciseStore(t, NewPostgresStore(db))
}
