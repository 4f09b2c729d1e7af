package stores

import (
	"fmt"
	"sort"

	"github.com/systmms/secretcache/internal/logging"
	"github.com/systmms/secretcache/pkg/credential"
	"github.com/systmms/secretcache/pkg/secretstore"
)

// Factory builds a store from its inline config block. The credential
// chain is only used by stores that authenticate through it; the cloud
// stores carry their own SDK credentials.
type Factory func(configMap map[string]interface{}, chain *credential.Chain, logger *logging.Logger) (secretstore.Store, error)

var factories = map[string]Factory{
	"httpapi": func(configMap map[string]interface{}, chain *credential.Chain, logger *logging.Logger) (secretstore.Store, error) {
		endpoint, _ := configMap["endpoint"].(string)
		if endpoint == "" {
			return nil, fmt.Errorf("endpoint is required for the httpapi store")
		}
		if chain == nil {
			return nil, fmt.Errorf("the httpapi store requires a credential chain")
		}
		return NewHTTPStore(endpoint, chain, WithHTTPLogger(logger))
	},
	"azure.keyvault": func(configMap map[string]interface{}, _ *credential.Chain, logger *logging.Logger) (secretstore.Store, error) {
		return NewAzureKeyVaultStore(configMap, WithAzureLogger(logger))
	},
	"aws.secretsmanager": func(configMap map[string]interface{}, _ *credential.Chain, _ *logging.Logger) (secretstore.Store, error) {
		return NewAWSSecretsManagerStore(configMap)
	},
	"gcp.secretmanager": func(configMap map[string]interface{}, _ *credential.Chain, _ *logging.Logger) (secretstore.Store, error) {
		return NewGCPSecretManagerStore(configMap)
	},
}

// Build constructs the store named by storeType. Unknown types list the
// supported ones in the error.
func Build(storeType string, configMap map[string]interface{}, chain *credential.Chain, logger *logging.Logger) (secretstore.Store, error) {
	factory, ok := factories[storeType]
	if !ok {
		return nil, fmt.Errorf("unknown store type %q (supported: %v)", storeType, SupportedTypes())
	}
	return factory(configMap, chain, logger)
}

// SupportedTypes returns the registered store types, sorted.
func SupportedTypes() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
