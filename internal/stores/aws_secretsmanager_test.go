package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretcache/pkg/secretstore"
)

// fakeSecretsManagerClient scripts Secrets Manager responses.
type fakeSecretsManagerClient struct {
	getSecretValue func(params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
	putSecretValue func(params *secretsmanager.PutSecretValueInput) (*secretsmanager.PutSecretValueOutput, error)
	createSecret   func(params *secretsmanager.CreateSecretInput) (*secretsmanager.CreateSecretOutput, error)
	listSecrets    func(params *secretsmanager.ListSecretsInput) (*secretsmanager.ListSecretsOutput, error)
}

func (f *fakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return f.getSecretValue(params)
}

func (f *fakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	return f.putSecretValue(params)
}

func (f *fakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	return f.createSecret(params)
}

func (f *fakeSecretsManagerClient) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	return f.listSecrets(params)
}

func newTestAWSStore(t *testing.T, client SecretsManagerClientAPI) *AWSSecretsManagerStore {
	t.Helper()
	store, err := NewAWSSecretsManagerStore(
		map[string]interface{}{"region": "eu-west-1"},
		WithSecretsManagerClient(client),
	)
	require.NoError(t, err)
	return store
}

func TestAWSStoreFetchString(t *testing.T) {
	t.Parallel()

	client := &fakeSecretsManagerClient{
		getSecretValue: func(params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
			assert.Equal(t, "db-password", aws.ToString(params.SecretId))
			assert.Nil(t, params.VersionId)
			return &secretsmanager.GetSecretValueOutput{
				SecretString: aws.String("hunter2"),
				VersionId:    aws.String("uuid-1"),
			}, nil
		},
	}
	store := newTestAWSStore(t, client)

	val, err := store.Fetch(context.Background(), secretstore.Reference{Name: "db-password"})
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), val.Value)
	assert.Equal(t, "uuid-1", val.Version)
}

func TestAWSStoreFetchBinaryAndVersion(t *testing.T) {
	t.Parallel()

	client := &fakeSecretsManagerClient{
		getSecretValue: func(params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
			assert.Equal(t, "uuid-9", aws.ToString(params.VersionId))
			return &secretsmanager.GetSecretValueOutput{
				SecretBinary: []byte{0x01, 0x02},
				VersionId:    params.VersionId,
			}, nil
		},
	}
	store := newTestAWSStore(t, client)

	val, err := store.Fetch(context.Background(), secretstore.Reference{Name: "cert", Version: "uuid-9"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, val.Value)
}

func TestAWSStoreErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{"resource not found", &types.ResourceNotFoundException{}, func(t *testing.T, err error) {
			assert.True(t, secretstore.IsNotFound(err))
		}},
		{"access denied", errors.New("api error AccessDeniedException: not allowed"), func(t *testing.T, err error) {
			assert.True(t, secretstore.IsUnauthorized(err))
		}},
		{"throttled", errors.New("api error ThrottlingException: slow down"), func(t *testing.T, err error) {
			assert.True(t, secretstore.IsTransient(err))
		}},
		{"internal service error", &types.InternalServiceError{}, func(t *testing.T, err error) {
			assert.True(t, secretstore.IsTransient(err))
		}},
		{"deadline exceeded", context.DeadlineExceeded, func(t *testing.T, err error) {
			var timeout *secretstore.TimeoutError
			assert.ErrorAs(t, err, &timeout)
		}},
		{"unclassified is permanent", errors.New("api error ValidationException: bad name"), func(t *testing.T, err error) {
			assert.False(t, secretstore.IsTransient(err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := &fakeSecretsManagerClient{
				getSecretValue: func(params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
					return nil, tt.err
				},
			}
			store := newTestAWSStore(t, client)

			_, err := store.Fetch(context.Background(), secretstore.Reference{Name: "x"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestAWSStorePutAppendsVersion(t *testing.T) {
	t.Parallel()

	client := &fakeSecretsManagerClient{
		putSecretValue: func(params *secretsmanager.PutSecretValueInput) (*secretsmanager.PutSecretValueOutput, error) {
			assert.Equal(t, []byte("fresh"), params.SecretBinary)
			return &secretsmanager.PutSecretValueOutput{VersionId: aws.String("uuid-2")}, nil
		},
	}
	store := newTestAWSStore(t, client)

	written, err := store.Put(context.Background(), "api-key", []byte("fresh"), secretstore.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, "uuid-2", written.Version)
}

func TestAWSStorePutCreatesMissingSecret(t *testing.T) {
	t.Parallel()

	var created bool
	client := &fakeSecretsManagerClient{
		putSecretValue: func(params *secretsmanager.PutSecretValueInput) (*secretsmanager.PutSecretValueOutput, error) {
			return nil, &types.ResourceNotFoundException{}
		},
		createSecret: func(params *secretsmanager.CreateSecretInput) (*secretsmanager.CreateSecretOutput, error) {
			created = true
			assert.Equal(t, "new-secret", aws.ToString(params.Name))
			require.Len(t, params.Tags, 1)
			assert.Equal(t, "team", aws.ToString(params.Tags[0].Key))
			return &secretsmanager.CreateSecretOutput{VersionId: aws.String("uuid-1")}, nil
		},
	}
	store := newTestAWSStore(t, client)

	written, err := store.Put(context.Background(), "new-secret", []byte("v"), secretstore.PutOptions{
		Tags: map[string]string{"team": "platform"},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "uuid-1", written.Version)
}

func TestAWSStoreListPagination(t *testing.T) {
	t.Parallel()

	updated := time.Now()
	client := &fakeSecretsManagerClient{
		listSecrets: func(params *secretsmanager.ListSecretsInput) (*secretsmanager.ListSecretsOutput, error) {
			if params.NextToken == nil {
				return &secretsmanager.ListSecretsOutput{
					SecretList: []types.SecretListEntry{
						{Name: aws.String("a"), LastChangedDate: &updated},
						{Name: aws.String("b")},
					},
					NextToken: aws.String("page2"),
				}, nil
			}
			return &secretsmanager.ListSecretsOutput{
				SecretList: []types.SecretListEntry{{Name: aws.String("c")}},
			}, nil
		},
	}
	store := newTestAWSStore(t, client)

	pager := store.List()
	var names []string
	for pager.More() {
		page, err := pager.NextPage(context.Background())
		require.NoError(t, err)
		for _, meta := range page {
			names = append(names, meta.Name)
		}
	}

	assert.Equal(t, []string{"a", "b", "c"}, names)

	_, err := pager.NextPage(context.Background())
	assert.ErrorIs(t, err, secretstore.ErrNoMorePages)
}

func TestAWSStoreValidate(t *testing.T) {
	t.Parallel()

	client := &fakeSecretsManagerClient{
		listSecrets: func(params *secretsmanager.ListSecretsInput) (*secretsmanager.ListSecretsOutput, error) {
			assert.Equal(t, int32(1), aws.ToInt32(params.MaxResults))
			return &secretsmanager.ListSecretsOutput{}, nil
		},
	}
	store := newTestAWSStore(t, client)
	assert.NoError(t, store.Validate(context.Background()))
}
