// Package commands implements the secretcache CLI subcommands.
package commands

import (
	"errors"
	"fmt"

	"github.com/systmms/secretcache/internal/config"
	"github.com/systmms/secretcache/internal/logging"
	"github.com/systmms/secretcache/internal/stores"
	"github.com/systmms/secretcache/pkg/credential"
	"github.com/systmms/secretcache/pkg/resolver"
	"github.com/systmms/secretcache/pkg/secretstore"
)

// Options carries the global flags parsed by the root command.
type Options struct {
	ConfigPath string
	Logger     *logging.Logger
}

func (o *Options) logger() *logging.Logger {
	if o.Logger == nil {
		o.Logger = logging.New(false, false)
	}
	return o.Logger
}

// loadConfig reads the config file named by the global flag.
func (o *Options) loadConfig() (*config.Config, error) {
	path := o.ConfigPath
	if path == "" {
		path = config.DefaultFileName
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return cfg, nil
}

// buildStore constructs the configured store with its credential chain.
func (o *Options) buildStore(cfg *config.Config) (secretstore.Store, error) {
	chain, err := cfg.BuildChain()
	if err != nil {
		return nil, err
	}
	return stores.Build(cfg.Store.Type, cfg.Store.Config, chain, o.logger())
}

// buildResolver constructs the full stack: store, chain, resolver.
func (o *Options) buildResolver(cfg *config.Config) (*resolver.Resolver, error) {
	store, err := o.buildStore(cfg)
	if err != nil {
		return nil, err
	}
	resolverOpts := cfg.ResolverOptions()
	resolverOpts.Logger = o.logger()
	return resolver.New(store, resolverOpts), nil
}

// withSuggestion attaches a next-step hint to the errors users hit most.
func withSuggestion(err error) error {
	if err == nil {
		return nil
	}

	var noCred *credential.NoCredentialError
	switch {
	case errors.As(err, &noCred):
		return fmt.Errorf("%w\nHint: run `secretcache login <account>` or set the SECRETCACHE_* client credentials", err)
	case secretstore.IsNotFound(err):
		return fmt.Errorf("%w\nHint: run `secretcache list` to see what the store holds", err)
	case secretstore.IsUnauthorized(err):
		return fmt.Errorf("%w\nHint: run `secretcache doctor` to check credentials and permissions", err)
	case secretstore.IsTransient(err):
		return fmt.Errorf("%w\nHint: the store looks unhealthy; retry, or run `secretcache doctor`", err)
	default:
		return err
	}
}
