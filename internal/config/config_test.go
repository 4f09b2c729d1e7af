package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretcache/pkg/credential"
	"github.com/systmms/secretcache/pkg/resolver"
)

func TestParseFullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
store:
  type: azure.keyvault
  config:
    vault_url: https://my-vault.vault.azure.net/
    use_managed_identity: true
resolver:
  ttl: 10m
  max_retries: 5
  base_backoff: 250ms
  max_backoff: 8s
  per_call_timeout: 4s
  overall_timeout: 20s
credentials:
  - type: keyring
    account: vault.example.com
  - type: client_secret
`))
	require.NoError(t, err)

	assert.Equal(t, "azure.keyvault", cfg.Store.Type)
	assert.Equal(t, "https://my-vault.vault.azure.net/", cfg.Store.Config["vault_url"])
	assert.Equal(t, true, cfg.Store.Config["use_managed_identity"])

	opts := cfg.ResolverOptions()
	assert.Equal(t, 10*time.Minute, opts.DefaultTTL)
	assert.Equal(t, 5, opts.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, opts.BaseBackoff)
	assert.Equal(t, 8*time.Second, opts.MaxBackoff)
	assert.Equal(t, 4*time.Second, opts.PerCallTimeout)
	assert.Equal(t, 20*time.Second, opts.OverallTimeout)

	require.Len(t, cfg.Credentials, 2)
	assert.Equal(t, "keyring", cfg.Credentials[0].Type)
}

func TestParseMinimalConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte("store:\n  type: httpapi\n  config:\n    endpoint: https://secrets.example.com\n"))
	require.NoError(t, err)

	// Unset resolver fields stay zero and pick up resolver defaults.
	opts := cfg.ResolverOptions()
	assert.Equal(t, resolver.Options{}, opts)
}

func TestParseExplicitZeroRetriesDisablesRetry(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
store:
  type: httpapi
resolver:
  max_retries: 0
`))
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.ResolverOptions().MaxRetries)
}

func TestParseRejectsBadConfigs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"missing store", "resolver:\n  ttl: 5m\n"},
		{"missing store type", "store:\n  config: {}\n"},
		{"unknown top-level key", "store:\n  type: httpapi\nretries: 3\n"},
		{"misspelled resolver key", "store:\n  type: httpapi\nresolver:\n  maxretries: 3\n"},
		{"bad duration", "store:\n  type: httpapi\nresolver:\n  ttl: five-minutes\n"},
		{"unknown credential type", "store:\n  type: httpapi\ncredentials:\n  - type: kerberos\n"},
		{"keyring without account", "store:\n  type: httpapi\ncredentials:\n  - type: keyring\n"},
		{"static without token", "store:\n  type: httpapi\ncredentials:\n  - type: static\n"},
		{"not yaml at all", "{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestBuildChainDefaultsToClientSecret(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte("store:\n  type: httpapi\n"))
	require.NoError(t, err)

	chain, err := cfg.BuildChain()
	require.NoError(t, err)

	providers := chain.Providers()
	require.Len(t, providers, 1)
	assert.Equal(t, "client-secret", providers[0].Name())
}

func TestBuildChainOrdersProviders(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
store:
  type: httpapi
credentials:
  - type: keyring
    account: vault.example.com
  - type: static
    token: dev-token
  - type: client_secret
`))
	require.NoError(t, err)

	chain, err := cfg.BuildChain()
	require.NoError(t, err)

	providers := chain.Providers()
	require.Len(t, providers, 3)
	assert.Equal(t, "keyring", providers[0].Name())
	assert.Equal(t, "static", providers[1].Name())
	assert.Equal(t, "client-secret", providers[2].Name())

	keyring, ok := providers[0].(*credential.KeyringProvider)
	require.True(t, ok)
	assert.Equal(t, "vault.example.com", keyring.Account)
}
