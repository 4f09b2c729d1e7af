package stores

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/systmms/secretcache/internal/logging"
	"github.com/systmms/secretcache/pkg/secretstore"
)

// AzureKeyVaultClientAPI is the slice of the azsecrets client the store
// uses. Tests implement it with fakes; fake pagers can be built with
// runtime.NewPager.
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse]
}

// AzureKeyVaultStore serves secrets from an Azure Key Vault.
type AzureKeyVaultStore struct {
	name     string
	client   AzureKeyVaultClientAPI
	vaultURL string
	logger   *logging.Logger
}

// AzureKeyVaultConfig holds the vault connection settings.
type AzureKeyVaultConfig struct {
	VaultURL           string
	TenantID           string
	ClientID           string
	ClientSecret       string
	UseManagedIdentity bool
	UserAssignedID     string
}

// AzureStoreOption is a functional option for the Azure store.
type AzureStoreOption func(*AzureKeyVaultStore)

// WithAzureClient sets a custom Key Vault client (for testing).
func WithAzureClient(client AzureKeyVaultClientAPI) AzureStoreOption {
	return func(s *AzureKeyVaultStore) {
		s.client = client
	}
}

// WithAzureLogger sets the debug logger.
func WithAzureLogger(logger *logging.Logger) AzureStoreOption {
	return func(s *AzureKeyVaultStore) {
		s.logger = logger
	}
}

// NewAzureKeyVaultStore creates a Key Vault-backed store from an inline
// config map (the secretcache.yaml store block).
func NewAzureKeyVaultStore(configMap map[string]interface{}, opts ...AzureStoreOption) (*AzureKeyVaultStore, error) {
	cfg := AzureKeyVaultConfig{UseManagedIdentity: true}

	if v, ok := configMap["vault_url"].(string); ok {
		cfg.VaultURL = v
	}
	if v, ok := configMap["tenant_id"].(string); ok {
		cfg.TenantID = v
	}
	if v, ok := configMap["client_id"].(string); ok {
		cfg.ClientID = v
	}
	if v, ok := configMap["client_secret"].(string); ok {
		cfg.ClientSecret = v
	}
	if v, ok := configMap["use_managed_identity"].(bool); ok {
		cfg.UseManagedIdentity = v
	}
	if v, ok := configMap["user_assigned_identity_id"].(string); ok {
		cfg.UserAssignedID = v
	}

	if cfg.VaultURL == "" {
		return nil, fmt.Errorf("vault_url is required for the azure.keyvault store (e.g. https://my-vault.vault.azure.net/)")
	}
	if _, err := url.Parse(cfg.VaultURL); err != nil {
		return nil, fmt.Errorf("invalid vault_url: %w", err)
	}

	s := &AzureKeyVaultStore{
		name:     "azure.keyvault",
		vaultURL: cfg.VaultURL,
		logger:   logging.New(false, false),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		client, err := newAzureSecretsClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
		}
		s.client = client
	}
	return s, nil
}

// newAzureSecretsClient picks the credential the config asks for:
// user-assigned or system managed identity, service principal with client
// secret, or the default chain (env, managed identity, CLI).
func newAzureSecretsClient(cfg AzureKeyVaultConfig) (*azsecrets.Client, error) {
	var cred azcore.TokenCredential
	var err error

	switch {
	case cfg.UseManagedIdentity && cfg.UserAssignedID != "":
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(cfg.UserAssignedID),
		})
	case cfg.UseManagedIdentity:
		cred, err = azidentity.NewManagedIdentityCredential(nil)
	case cfg.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	default:
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	return azsecrets.NewClient(cfg.VaultURL, cred, nil)
}

// Name implements secretstore.Store.
func (s *AzureKeyVaultStore) Name() string { return s.name }

// Fetch implements secretstore.Store.
func (s *AzureKeyVaultStore) Fetch(ctx context.Context, ref secretstore.Reference) (secretstore.SecretValue, error) {
	s.logger.Debug("Accessing Key Vault secret %s", logging.Secret(ref.Name))

	resp, err := s.client.GetSecret(ctx, ref.Name, ref.Version, nil)
	if err != nil {
		return secretstore.SecretValue{}, s.mapError(err, ref)
	}
	if resp.Value == nil {
		return secretstore.SecretValue{}, fmt.Errorf("store %s: secret %q has no value", s.name, ref.Name)
	}

	val := secretstore.SecretValue{Value: []byte(*resp.Value)}
	if resp.ID != nil {
		val.Version = resp.ID.Version()
	}
	if resp.ContentType != nil {
		val.ContentType = *resp.ContentType
	}
	if resp.Attributes != nil && resp.Attributes.Expires != nil {
		val.ExpiresAt = resp.Attributes.Expires
	}
	val.Tags = fromAzureTags(resp.Tags)
	return val, nil
}

// Put implements secretstore.Store. Key Vault's SetSecret always creates
// a new version, which is exactly the write semantics we need.
func (s *AzureKeyVaultStore) Put(ctx context.Context, name string, value []byte, opts secretstore.PutOptions) (secretstore.SecretValue, error) {
	params := azsecrets.SetSecretParameters{
		Value: toPtr(string(value)),
		Tags:  toAzureTags(opts.Tags),
	}
	if opts.ContentType != "" {
		params.ContentType = &opts.ContentType
	}
	if opts.ExpiresAt != nil {
		params.SecretAttributes = &azsecrets.SecretAttributes{Expires: opts.ExpiresAt}
	}

	resp, err := s.client.SetSecret(ctx, name, params, nil)
	if err != nil {
		return secretstore.SecretValue{}, s.mapError(err, secretstore.Reference{Name: name})
	}

	out := secretstore.SecretValue{Value: value, ContentType: opts.ContentType, ExpiresAt: opts.ExpiresAt, Tags: opts.Tags}
	if resp.ID != nil {
		out.Version = resp.ID.Version()
	}
	return out, nil
}

// List implements secretstore.Store over the SDK's properties pager.
func (s *AzureKeyVaultStore) List() secretstore.Pager {
	return &azurePager{
		store: s,
		pager: s.client.NewListSecretPropertiesPager(nil),
	}
}

type azurePager struct {
	store *AzureKeyVaultStore
	pager *runtime.Pager[azsecrets.ListSecretPropertiesResponse]
}

func (p *azurePager) More() bool { return p.pager.More() }

func (p *azurePager) NextPage(ctx context.Context) ([]secretstore.SecretMetadata, error) {
	if !p.pager.More() {
		return nil, secretstore.ErrNoMorePages
	}

	page, err := p.pager.NextPage(ctx)
	if err != nil {
		return nil, p.store.mapError(err, secretstore.Reference{})
	}

	out := make([]secretstore.SecretMetadata, 0, len(page.Value))
	for _, props := range page.Value {
		if props == nil {
			continue
		}
		meta := secretstore.SecretMetadata{Tags: fromAzureTags(props.Tags)}
		if props.ID != nil {
			meta.Name = props.ID.Name()
			meta.Version = props.ID.Version()
		}
		if props.Attributes != nil {
			if props.Attributes.Enabled != nil {
				meta.Enabled = *props.Attributes.Enabled
			}
			if props.Attributes.Expires != nil {
				meta.ExpiresAt = props.Attributes.Expires
			}
			if props.Attributes.Updated != nil {
				meta.UpdatedAt = *props.Attributes.Updated
			}
		}
		out = append(out, meta)
	}
	return out, nil
}

// Validate implements secretstore.Store by pulling the first listing
// page, which needs only list permission.
func (s *AzureKeyVaultStore) Validate(ctx context.Context) error {
	pager := s.client.NewListSecretPropertiesPager(nil)
	if _, err := pager.NextPage(ctx); err != nil {
		return s.mapError(err, secretstore.Reference{})
	}
	return nil
}

// mapError converts Azure SDK failures onto the shared taxonomy using
// the response status code.
func (s *AzureKeyVaultStore) mapError(err error, ref secretstore.Reference) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &secretstore.TimeoutError{Store: s.name, Op: "call", Timeout: 0}
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == 404:
			return &secretstore.NotFoundError{Store: s.name, Name: ref.Name, Version: ref.Version}
		case respErr.StatusCode == 401 || respErr.StatusCode == 403:
			return &secretstore.UnauthorizedError{Store: s.name, Message: respErr.ErrorCode}
		case respErr.StatusCode == 408 || respErr.StatusCode == 429 || respErr.StatusCode >= 500:
			return &secretstore.UnavailableError{Store: s.name, Err: err}
		default:
			return fmt.Errorf("store %s: %w", s.name, err)
		}
	}

	// No HTTP response at all: transport failure.
	return &secretstore.UnavailableError{Store: s.name, Err: err}
}

func toPtr[T any](v T) *T { return &v }

func toAzureTags(tags map[string]string) map[string]*string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = toPtr(v)
	}
	return out
}

func fromAzureTags(tags map[string]*string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}
