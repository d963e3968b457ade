package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])

	migrate, _, err := root.Find([]string{"migrate"})
	require.NoError(t, err)
	assert.NotNil(t, migrate.Flags().Lookup("down"))
}

func TestMigrateSkipsSQLite(t *testing.T) {
	t.Setenv("RECIPES_CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("LOG_LEVEL", "error")
	assert.NoError(t, runMigrate(context.Background(), &migrateOptions{}))
}

func TestMigrateRejectsBadConfig(t *testing.T) {
	t.Setenv("RECIPES_CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "oracle")
	assert.Error(t, runMigrate(context.Background(), &migrateOptions{}))
}

func TestSQLiteDir(t *testing.T) {
	assert.Equal(t, "", sqliteDir(":memory:"))
	assert.Equal(t, "", sqliteDir(""))
	assert.Equal(t, "data", sqliteDir("data/recipes.db"))
}
