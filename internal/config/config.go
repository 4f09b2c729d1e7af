// Package config loads and validates secretcache.yaml.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systmms/secretcache/pkg/credential"
	"github.com/systmms/secretcache/pkg/resolver"
)

// DefaultFileName is looked up in the working directory when no explicit
// path is given.
const DefaultFileName = "secretcache.yaml"

// Config is the parsed secretcache.yaml.
type Config struct {
	// Store selects and configures the secret store backend.
	Store StoreConfig `yaml:"store"`

	// Resolver tunes caching and retry. All fields optional.
	Resolver ResolverConfig `yaml:"resolver,omitempty"`

	// Credentials lists the providers of the credential chain, tried in
	// order. Only used by stores that authenticate through the chain.
	Credentials []CredentialConfig `yaml:"credentials,omitempty"`
}

// StoreConfig selects a backend by type and carries its inline settings.
type StoreConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config,omitempty"`
}

// ResolverConfig mirrors resolver.Options with durations as strings
// ("5m", "100ms").
type ResolverConfig struct {
	TTL            string `yaml:"ttl,omitempty"`
	MaxRetries     *int   `yaml:"max_retries,omitempty"`
	BaseBackoff    string `yaml:"base_backoff,omitempty"`
	MaxBackoff     string `yaml:"max_backoff,omitempty"`
	PerCallTimeout string `yaml:"per_call_timeout,omitempty"`
	OverallTimeout string `yaml:"overall_timeout,omitempty"`
}

// CredentialConfig configures one provider in the chain.
type CredentialConfig struct {
	// Type is one of client_secret, keyring, azure, static.
	Type string `yaml:"type"`

	// Account is the keyring account name (keyring provider).
	Account string `yaml:"account,omitempty"`

	// Scope is the OAuth2/Azure token scope (azure provider).
	Scope string `yaml:"scope,omitempty"`

	// Token is an inline token value (static provider, testing only).
	Token string `yaml:"token,omitempty"`
}

// configSchema validates structure before any field is interpreted, so
// typos in key names fail loudly instead of being silently dropped.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["store"],
  "additionalProperties": false,
  "properties": {
    "store": {
      "type": "object",
      "required": ["type"],
      "additionalProperties": false,
      "properties": {
        "type": {"type": "string", "minLength": 1},
        "config": {"type": "object"}
      }
    },
    "resolver": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "ttl": {"type": "string"},
        "max_retries": {"type": "integer", "minimum": 0},
        "base_backoff": {"type": "string"},
        "max_backoff": {"type": "string"},
        "per_call_timeout": {"type": "string"},
        "overall_timeout": {"type": "string"}
      }
    },
    "credentials": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "additionalProperties": false,
        "properties": {
          "type": {"type": "string", "enum": ["client_secret", "keyring", "azure", "static"]},
          "account": {"type": "string"},
          "scope": {"type": "string"},
          "token": {"type": "string"}
        }
      }
    }
  }
}`

// Load reads, schema-validates, and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	// gojsonschema speaks JSON, so route the YAML through an
	// interface{} round trip first.
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	raw = normalizeForSchema(raw)

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewGoLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msg := "invalid config:"
		for _, desc := range result.Errors() {
			msg += "\n  - " + desc.String()
		}
		return nil, fmt.Errorf("%s", msg)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalizeForSchema converts yaml.v3's map[string]interface{} values
// recursively; nested maps decoded from flow style may otherwise carry
// interface{} keys that gojsonschema rejects.
func normalizeForSchema(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeForSchema(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeForSchema(val)
		}
		return out
	case []interface{}:
		for i := range t {
			t[i] = normalizeForSchema(t[i])
		}
		return t
	default:
		return v
	}
}

// check enforces the constraints the schema cannot express.
func (c *Config) check() error {
	for i, cred := range c.Credentials {
		switch cred.Type {
		case "keyring":
			if cred.Account == "" {
				return fmt.Errorf("credentials[%d]: keyring provider requires account", i)
			}
		case "static":
			if cred.Token == "" {
				return fmt.Errorf("credentials[%d]: static provider requires token", i)
			}
		}
	}
	for _, field := range []struct{ name, value string }{
		{"resolver.ttl", c.Resolver.TTL},
		{"resolver.base_backoff", c.Resolver.BaseBackoff},
		{"resolver.max_backoff", c.Resolver.MaxBackoff},
		{"resolver.per_call_timeout", c.Resolver.PerCallTimeout},
		{"resolver.overall_timeout", c.Resolver.OverallTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", field.name, field.value)
		}
	}
	return nil
}

// ResolverOptions converts the resolver block to resolver.Options. Unset
// fields stay zero and pick up the resolver's defaults.
func (c *Config) ResolverOptions() resolver.Options {
	opts := resolver.Options{}
	opts.DefaultTTL = parseDuration(c.Resolver.TTL)
	opts.BaseBackoff = parseDuration(c.Resolver.BaseBackoff)
	opts.MaxBackoff = parseDuration(c.Resolver.MaxBackoff)
	opts.PerCallTimeout = parseDuration(c.Resolver.PerCallTimeout)
	opts.OverallTimeout = parseDuration(c.Resolver.OverallTimeout)
	if c.Resolver.MaxRetries != nil {
		opts.MaxRetries = *c.Resolver.MaxRetries
		if opts.MaxRetries == 0 {
			opts.MaxRetries = -1
		}
	}
	return opts
}

// parseDuration returns zero for empty or invalid strings; check()
// already rejected invalid ones at load time.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}

// BuildChain constructs the credential chain from the credentials list.
// An empty list falls back to the environment-driven client_secret
// provider.
func (c *Config) BuildChain() (*credential.Chain, error) {
	if len(c.Credentials) == 0 {
		return credential.NewChain([]credential.Provider{
			&credential.ClientSecretProvider{},
		}), nil
	}

	providers := make([]credential.Provider, 0, len(c.Credentials))
	for i, cred := range c.Credentials {
		switch cred.Type {
		case "client_secret":
			providers = append(providers, &credential.ClientSecretProvider{})
		case "keyring":
			providers = append(providers, &credential.KeyringProvider{Account: cred.Account})
		case "azure":
			p, err := credential.NewDefaultAzureProvider(cred.Scope)
			if err != nil {
				return nil, fmt.Errorf("credentials[%d]: %w", i, err)
			}
			providers = append(providers, p)
		case "static":
			// Inline tokens carry no expiry; trust them for a day at a
			// time so the chain re-reads the config-driven value.
			providers = append(providers, &credential.StaticProvider{
				Token: credential.Token{Value: cred.Token, ExpiresAt: time.Now().Add(24 * time.Hour)},
			})
		default:
			return nil, fmt.Errorf("credentials[%d]: unknown provider type %q", i, cred.Type)
		}
	}
	return credential.NewChain(providers), nil
}
