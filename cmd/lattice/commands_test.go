package main

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/migrate"
)

func TestMakeMigrations(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	err := makeMigrations(ctx, []string{"--dir", dir, "--check"})
	assert.ErrorIs(t, err, errChanges)

	require.NoError(t, makeMigrations(ctx, []string{"--dir", dir, "--dry-run"}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, makeMigrations(ctx, []string{"--dir", dir}))
	migs, err := migrate.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, migs, 1)
	assert.Equal(t, "0001_initial", migs[0].ID())
	assert.Len(t, migs[0].Ops, 3)

	// Nothing changed since the initial migration.
	require.NoError(t, makeMigrations(ctx, []string{"--dir", dir, "--check"}))
	migs, err = migrate.LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, migs, 1)
}

func TestTableFlags(t *testing.T) {
	_, err := tableFlags("ensure-table", nil)
	assert.Error(t, err)

	model, err := tableFlags("ensure-table", []string{"--model", "Post"})
	require.NoError(t, err)
	assert.Equal(t, "Post", model)
}

func TestReindexFromNeedsModel(t *testing.T) {
	err := reindex(context.Background(), []string{"--from", "abc"})
	assert.EqualError(t, err, "--from requires --model")
}
