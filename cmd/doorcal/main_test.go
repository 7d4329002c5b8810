package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorcal/internal/config"
	appLog "doorcal/internal/log"
)

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()

	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "sync")
	assert.Contains(t, names, "daemon")

	for _, f := range []string{"config", "google-creds", "verkada-api-key", "env-file", "export-ics", "dry-run", "verbose", "debug"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(f), f)
	}
}

func TestInitLoggingOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	require.Equal(t, "warn", cfg.Log.Level)

	require.NoError(t, initLogging(cfg, &cliFlags{dryRun: true}))
	require.NoError(t, initLogging(cfg, &cliFlags{debug: true}))
	require.NoError(t, initLogging(cfg, &cliFlags{}))
	appLog.Sync()
}

func TestSetupRequiresGoogleCredentials(t *testing.T) {
	dir := t.TempDir()
	flags := &cliFlags{
		configPath:    filepath.Join(dir, "config.yaml"),
		googleCreds:   filepath.Join(dir, "missing.json"),
		verkadaAPIKey: "key",
	}

	_, err := setup(context.Background(), flags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google credentials")

	_, statErr := os.Stat(flags.configPath)
	assert.NoError(t, statErr, "first run writes a default config")
}

func TestSetupRequiresAPIKey(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0o600))
	t.Setenv("VERKADA_API_KEY", "")

	_, err := setup(context.Background(), &cliFlags{
		configPath:  filepath.Join(dir, "config.yaml"),
		googleCreds: creds,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestSetupLoadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DOORCAL_TEST_MARKER=loaded\n"), 0o600))
	t.Setenv("DOORCAL_TEST_MARKER", "")
	require.NoError(t, os.Unsetenv("DOORCAL_TEST_MARKER"))

	_, err := setup(context.Background(), &cliFlags{
		configPath:  filepath.Join(dir, "config.yaml"),
		googleCreds: filepath.Join(dir, "missing.json"),
		envFile:     envFile,
	})
	require.Error(t, err)
	assert.Equal(t, "loaded", os.Getenv("DOORCAL_TEST_MARKER"))
}
