package stores

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/systmms/secretcache/pkg/secretstore"
)

// SecretsManagerClientAPI is the slice of the AWS Secrets Manager client
// the store uses. Tests implement it with fakes.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// AWSSecretsManagerStore serves secrets from AWS Secrets Manager.
type AWSSecretsManagerStore struct {
	name   string
	client SecretsManagerClientAPI
	region string
}

// AWSStoreOption is a functional option for the AWS store.
type AWSStoreOption func(*AWSSecretsManagerStore)

// WithSecretsManagerClient sets a custom client (for testing).
func WithSecretsManagerClient(client SecretsManagerClientAPI) AWSStoreOption {
	return func(s *AWSSecretsManagerStore) {
		s.client = client
	}
}

// NewAWSSecretsManagerStore creates a Secrets Manager-backed store from
// an inline config map. Static credentials and a custom endpoint are
// supported for LocalStack.
func NewAWSSecretsManagerStore(configMap map[string]interface{}, opts ...AWSStoreOption) (*AWSSecretsManagerStore, error) {
	region := "us-east-1"
	if r, ok := configMap["region"].(string); ok && r != "" {
		region = r
	}
	var endpoint string
	if e, ok := configMap["endpoint"].(string); ok {
		endpoint = e
	}
	var accessKeyID, secretAccessKey string
	if v, ok := configMap["access_key_id"].(string); ok {
		accessKeyID = v
	}
	if v, ok := configMap["secret_access_key"].(string); ok {
		secretAccessKey = v
	}

	s := &AWSSecretsManagerStore{
		name:   "aws.secretsmanager",
		region: region,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		configOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
		if accessKeyID != "" && secretAccessKey != "" {
			configOpts = append(configOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
			))
		}

		cfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		var clientOpts []func(*secretsmanager.Options)
		if endpoint != "" {
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = secretsmanager.NewFromConfig(cfg, clientOpts...)
	}
	return s, nil
}

// Name implements secretstore.Store.
func (s *AWSSecretsManagerStore) Name() string { return s.name }

// Fetch implements secretstore.Store. An empty version resolves the
// AWSCURRENT staging label.
func (s *AWSSecretsManagerStore) Fetch(ctx context.Context, ref secretstore.Reference) (secretstore.SecretValue, error) {
	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(ref.Name)}
	if ref.Version != "" {
		input.VersionId = aws.String(ref.Version)
	}

	out, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		return secretstore.SecretValue{}, s.mapError(err, ref)
	}

	val := secretstore.SecretValue{Version: aws.ToString(out.VersionId)}
	switch {
	case out.SecretBinary != nil:
		val.Value = out.SecretBinary
	case out.SecretString != nil:
		val.Value = []byte(*out.SecretString)
	default:
		return secretstore.SecretValue{}, fmt.Errorf("store %s: secret %q has no value", s.name, ref.Name)
	}
	return val, nil
}

// Put implements secretstore.Store. PutSecretValue always appends a new
// version; a missing secret is created on first write.
func (s *AWSSecretsManagerStore) Put(ctx context.Context, name string, value []byte, opts secretstore.PutOptions) (secretstore.SecretValue, error) {
	out, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretBinary: value,
	})
	if err == nil {
		return secretstore.SecretValue{Value: value, Version: aws.ToString(out.VersionId), Tags: opts.Tags}, nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return secretstore.SecretValue{}, s.mapError(err, secretstore.Reference{Name: name})
	}

	created, err := s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretBinary: value,
		Tags:         toAWSTags(opts.Tags),
	})
	if err != nil {
		return secretstore.SecretValue{}, s.mapError(err, secretstore.Reference{Name: name})
	}
	return secretstore.SecretValue{Value: value, Version: aws.ToString(created.VersionId), Tags: opts.Tags}, nil
}

// List implements secretstore.Store over ListSecrets pagination.
func (s *AWSSecretsManagerStore) List() secretstore.Pager {
	return &awsPager{store: s}
}

type awsPager struct {
	store     *AWSSecretsManagerStore
	nextToken *string
	started   bool
}

func (p *awsPager) More() bool {
	return !p.started || p.nextToken != nil
}

func (p *awsPager) NextPage(ctx context.Context) ([]secretstore.SecretMetadata, error) {
	if !p.More() {
		return nil, secretstore.ErrNoMorePages
	}

	out, err := p.store.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{
		MaxResults: aws.Int32(defaultPageSize),
		NextToken:  p.nextToken,
	})
	if err != nil {
		return nil, p.store.mapError(err, secretstore.Reference{})
	}
	p.started = true
	p.nextToken = out.NextToken

	metas := make([]secretstore.SecretMetadata, 0, len(out.SecretList))
	for _, entry := range out.SecretList {
		meta := secretstore.SecretMetadata{
			Name:    aws.ToString(entry.Name),
			Enabled: entry.DeletedDate == nil,
			Tags:    fromAWSTags(entry.Tags),
		}
		if entry.LastChangedDate != nil {
			meta.UpdatedAt = *entry.LastChangedDate
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// Validate implements secretstore.Store with a one-item listing probe.
func (s *AWSSecretsManagerStore) Validate(ctx context.Context) error {
	_, err := s.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)})
	if err != nil {
		return s.mapError(err, secretstore.Reference{})
	}
	return nil
}

// mapError converts SDK failures onto the shared taxonomy. The SDK only
// types a handful of its errors, so access and throttling failures fall
// back to code-string matching.
func (s *AWSSecretsManagerStore) mapError(err error, ref secretstore.Reference) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &secretstore.TimeoutError{Store: s.name, Op: "call", Timeout: 0}
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &secretstore.NotFoundError{Store: s.name, Name: ref.Name, Version: ref.Version}
	}
	var internal *types.InternalServiceError
	if errors.As(err, &internal) {
		return &secretstore.UnavailableError{Store: s.name, Err: err}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "AccessDenied"),
		strings.Contains(msg, "UnrecognizedClient"),
		strings.Contains(msg, "ExpiredToken"),
		strings.Contains(msg, "no EC2 IMDS role found"),
		strings.Contains(msg, "failed to retrieve credentials"):
		return &secretstore.UnauthorizedError{Store: s.name, Message: msg}
	case strings.Contains(msg, "Throttling"),
		strings.Contains(msg, "TooManyRequests"),
		strings.Contains(msg, "ServiceUnavailable"):
		return &secretstore.UnavailableError{Store: s.name, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &secretstore.TimeoutError{Store: s.name, Op: "call", Timeout: 0}
		}
		return &secretstore.UnavailableError{Store: s.name, Err: err}
	}

	return fmt.Errorf("store %s: %w", s.name, err)
}

func toAWSTags(tags map[string]string) []types.Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func fromAWSTags(tags []types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}
