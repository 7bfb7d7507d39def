package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"gatekeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateCommands_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cli.db")
	flags := []string{"--driver", models.DatabaseDriverSQLite, "--dsn", dsn}

	out, err := run(t, append([]string{"migrate", "up"}, flags...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Applied all pending sqlite migrations")

	out, err = run(t, append([]string{"migrate", "version"}, flags...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "dirty: false")
	assert.NotContains(t, out, "version 0 ")

	out, err = run(t, append([]string{"migrate", "down", "1"}, flags...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Rolled back 1 sqlite migration step(s)")
}

func TestMigrateDown_InvalidSteps(t *testing.T) {
	_, err := run(t, "migrate", "down", "zero", "--driver", "sqlite", "--dsn", "x.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}

func TestConfigExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	out, err := run(t, "config", "example", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gatekeeper version")
}
