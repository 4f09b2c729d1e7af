package credential

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// DefaultAzureScope is the audience for Azure Key Vault data-plane calls.
const DefaultAzureScope = "https://vault.azure.net/.default"

// AzureProvider adapts any azcore.TokenCredential — managed identity,
// client secret, Azure CLI login, or the full default chain — into a
// chain Provider. This is the "injected platform identity" leg when the
// generic HTTP store fronts an Azure-protected endpoint.
type AzureProvider struct {
	credential azcore.TokenCredential
	scope      string
}

// NewAzureProvider wraps an existing Azure credential. Scope defaults to
// DefaultAzureScope when empty.
func NewAzureProvider(cred azcore.TokenCredential, scope string) *AzureProvider {
	if scope == "" {
		scope = DefaultAzureScope
	}
	return &AzureProvider{credential: cred, scope: scope}
}

// NewDefaultAzureProvider builds the provider on top of
// azidentity.NewDefaultAzureCredential, which itself chains environment,
// managed identity, and CLI credentials.
func NewDefaultAzureProvider(scope string) (*AzureProvider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return NewAzureProvider(cred, scope), nil
}

// Name implements Provider.
func (p *AzureProvider) Name() string { return "azure" }

// Acquire requests an access token for the configured scope.
func (p *AzureProvider) Acquire(ctx context.Context) (Token, error) {
	tok, err := p.credential.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{p.scope},
	})
	if err != nil {
		return Token{}, err
	}
	return Token{Value: tok.Token, ExpiresAt: tok.ExpiresOn}, nil
}
