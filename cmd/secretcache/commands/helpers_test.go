package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretcache/internal/logging"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secretcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestBuildResolverFromConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
store:
  type: httpapi
  config:
    endpoint: https://secrets.example.com
resolver:
  ttl: 1m
credentials:
  - type: static
    token: dev-token
`)

	opts := &Options{ConfigPath: path, Logger: logging.New(false, true)}

	cfg, err := opts.loadConfig()
	require.NoError(t, err)

	r, err := opts.buildResolver(cfg)
	require.NoError(t, err)
	assert.Equal(t, "httpapi", r.Store().Name())
}

func TestLoadConfigReportsPath(t *testing.T) {
	t.Parallel()

	opts := &Options{ConfigPath: "/nonexistent/secretcache.yaml"}
	_, err := opts.loadConfig()
	require.Error(t, err)
	assert.ErrorContains(t, err, "/nonexistent/secretcache.yaml")
}

func TestBuildStoreRejectsUnknownType(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "store:\n  type: hashicorp.vault\n")
	opts := &Options{ConfigPath: path}

	cfg, err := opts.loadConfig()
	require.NoError(t, err)

	_, err = opts.buildStore(cfg)
	assert.ErrorContains(t, err, "unknown store type")
}
