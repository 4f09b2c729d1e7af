package stores

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/secretcache/pkg/secretstore"
)

// GCPSecretIterator yields secrets one at a time, ending with
// iterator.Done. The real SDK iterator satisfies it through
// gcpClientAdapter.
type GCPSecretIterator interface {
	Next() (*secretmanagerpb.Secret, error)
}

// GCPSecretManagerClientAPI is the slice of the Secret Manager client the
// store uses. The SDK client is wrapped by gcpClientAdapter; tests
// implement this interface with fakes.
type GCPSecretManagerClientAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error)
	ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) GCPSecretIterator
}

// gcpClientAdapter narrows *secretmanager.Client to the store's
// interface. Needed because the SDK's ListSecrets returns a concrete
// iterator type.
type gcpClientAdapter struct {
	client *secretmanager.Client
}

func (a gcpClientAdapter) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return a.client.AccessSecretVersion(ctx, req)
}

func (a gcpClientAdapter) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return a.client.AddSecretVersion(ctx, req)
}

func (a gcpClientAdapter) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	return a.client.CreateSecret(ctx, req)
}

func (a gcpClientAdapter) ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) GCPSecretIterator {
	return a.client.ListSecrets(ctx, req)
}

// GCPSecretManagerStore serves secrets from Google Secret Manager.
type GCPSecretManagerStore struct {
	name      string
	client    GCPSecretManagerClientAPI
	projectID string
}

// GCPStoreOption is a functional option for the GCP store.
type GCPStoreOption func(*GCPSecretManagerStore)

// WithGCPClient sets a custom client (for testing).
func WithGCPClient(client GCPSecretManagerClientAPI) GCPStoreOption {
	return func(s *GCPSecretManagerStore) {
		s.client = client
	}
}

// NewGCPSecretManagerStore creates a Secret Manager-backed store from an
// inline config map. The project ID comes from the config or the usual
// GOOGLE_CLOUD_PROJECT / GCLOUD_PROJECT environment variables.
func NewGCPSecretManagerStore(configMap map[string]interface{}, opts ...GCPStoreOption) (*GCPSecretManagerStore, error) {
	var projectID, keyPath string
	if v, ok := configMap["project_id"].(string); ok {
		projectID = v
	}
	if v, ok := configMap["service_account_key_path"].(string); ok {
		keyPath = v
	}
	if projectID == "" {
		projectID = gcpProjectFromEnv()
	}
	if projectID == "" {
		return nil, fmt.Errorf("project_id is required for the gcp.secretmanager store (or set GOOGLE_CLOUD_PROJECT)")
	}

	s := &GCPSecretManagerStore{
		name:      "gcp.secretmanager",
		projectID: projectID,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var clientOpts []option.ClientOption
		if keyPath != "" {
			if strings.HasPrefix(keyPath, "~/") {
				home, err := os.UserHomeDir()
				if err != nil {
					return nil, fmt.Errorf("failed to expand key path: %w", err)
				}
				keyPath = filepath.Join(home, keyPath[2:])
			}
			clientOpts = append(clientOpts, option.WithCredentialsFile(keyPath))
		}

		client, err := secretmanager.NewClient(context.Background(), clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
		}
		s.client = gcpClientAdapter{client: client}
	}
	return s, nil
}

func gcpProjectFromEnv() string {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// Name implements secretstore.Store.
func (s *GCPSecretManagerStore) Name() string { return s.name }

// versionResource builds projects/{p}/secrets/{name}/versions/{v}. An
// empty version maps to the "latest" alias.
func (s *GCPSecretManagerStore) versionResource(ref secretstore.Reference) string {
	version := ref.Version
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", s.projectID, ref.Name, version)
}

func (s *GCPSecretManagerStore) secretResource(name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.projectID, name)
}

// Fetch implements secretstore.Store.
func (s *GCPSecretManagerStore) Fetch(ctx context.Context, ref secretstore.Reference) (secretstore.SecretValue, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.versionResource(ref),
	})
	if err != nil {
		return secretstore.SecretValue{}, s.mapError(err, ref)
	}
	if resp.Payload == nil || resp.Payload.Data == nil {
		return secretstore.SecretValue{}, fmt.Errorf("store %s: secret %q has no value", s.name, ref.Name)
	}

	return secretstore.SecretValue{
		Value:   resp.Payload.Data,
		Version: versionFromResource(resp.Name),
	}, nil
}

// Put implements secretstore.Store. AddSecretVersion appends a new
// version; a missing secret is created on first write.
func (s *GCPSecretManagerStore) Put(ctx context.Context, name string, value []byte, opts secretstore.PutOptions) (secretstore.SecretValue, error) {
	addReq := &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.secretResource(name),
		Payload: &secretmanagerpb.SecretPayload{Data: value},
	}

	version, err := s.client.AddSecretVersion(ctx, addReq)
	if err == nil {
		return secretstore.SecretValue{Value: value, Version: versionFromResource(version.Name), Tags: opts.Tags}, nil
	}
	if status.Code(err) != codes.NotFound {
		return secretstore.SecretValue{}, s.mapError(err, secretstore.Reference{Name: name})
	}

	_, err = s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + s.projectID,
		SecretId: name,
		Secret: &secretmanagerpb.Secret{
			Labels: opts.Tags,
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	})
	if err != nil {
		return secretstore.SecretValue{}, s.mapError(err, secretstore.Reference{Name: name})
	}

	version, err = s.client.AddSecretVersion(ctx, addReq)
	if err != nil {
		return secretstore.SecretValue{}, s.mapError(err, secretstore.Reference{Name: name})
	}
	return secretstore.SecretValue{Value: value, Version: versionFromResource(version.Name), Tags: opts.Tags}, nil
}

// versionFromResource pulls the trailing version number out of
// projects/P/secrets/S/versions/V.
func versionFromResource(resource string) string {
	idx := strings.LastIndex(resource, "/versions/")
	if idx < 0 {
		return ""
	}
	return resource[idx+len("/versions/"):]
}

// List implements secretstore.Store. The SDK iterator pages internally,
// so the pager slices it into fixed-size chunks.
func (s *GCPSecretManagerStore) List() secretstore.Pager {
	return &gcpPager{store: s}
}

type gcpPager struct {
	store *GCPSecretManagerStore
	iter  GCPSecretIterator
	done  bool
}

func (p *gcpPager) More() bool { return !p.done }

func (p *gcpPager) NextPage(ctx context.Context) ([]secretstore.SecretMetadata, error) {
	if p.done {
		return nil, secretstore.ErrNoMorePages
	}
	if p.iter == nil {
		p.iter = p.store.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
			Parent: "projects/" + p.store.projectID,
		})
	}

	out := make([]secretstore.SecretMetadata, 0, defaultPageSize)
	for len(out) < defaultPageSize {
		secret, err := p.iter.Next()
		if errors.Is(err, iterator.Done) {
			p.done = true
			break
		}
		if err != nil {
			return nil, p.store.mapError(err, secretstore.Reference{})
		}

		meta := secretstore.SecretMetadata{
			Name:    nameFromResource(secret.Name),
			Enabled: true,
			Tags:    secret.Labels,
		}
		if secret.CreateTime != nil {
			meta.UpdatedAt = secret.CreateTime.AsTime()
		}
		if expireTime := secret.GetExpireTime(); expireTime != nil {
			expiry := expireTime.AsTime()
			meta.ExpiresAt = &expiry
		}
		out = append(out, meta)
	}
	return out, nil
}

// nameFromResource pulls the secret name out of projects/P/secrets/S.
func nameFromResource(resource string) string {
	idx := strings.LastIndex(resource, "/secrets/")
	if idx < 0 {
		return resource
	}
	return resource[idx+len("/secrets/"):]
}

// Validate implements secretstore.Store by pulling one entry from a
// listing, which needs only list permission.
func (s *GCPSecretManagerStore) Validate(ctx context.Context) error {
	iter := s.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent:   "projects/" + s.projectID,
		PageSize: 1,
	})
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return s.mapError(err, secretstore.Reference{})
	}
	return nil
}

// mapError converts gRPC status codes onto the shared taxonomy.
func (s *GCPSecretManagerStore) mapError(err error, ref secretstore.Reference) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &secretstore.TimeoutError{Store: s.name, Op: "call", Timeout: 0}
	}

	switch status.Code(err) {
	case codes.NotFound:
		return &secretstore.NotFoundError{Store: s.name, Name: ref.Name, Version: ref.Version}
	case codes.PermissionDenied, codes.Unauthenticated:
		return &secretstore.UnauthorizedError{Store: s.name, Message: status.Convert(err).Message()}
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return &secretstore.UnavailableError{Store: s.name, Err: err}
	case codes.DeadlineExceeded:
		return &secretstore.TimeoutError{Store: s.name, Op: "call", Timeout: 0}
	default:
		return fmt.Errorf("store %s: %w", s.name, err)
	}
}
