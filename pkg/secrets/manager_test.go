package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/jordanlanch/companion-api/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsAPI struct {
	secretsmanageriface.SecretsManagerAPI
	values map[string]string
	calls  int
	err    error
}

func (f *fakeSecretsAPI) GetSecretValueWithContext(ctx aws.Context, in *secretsmanager.GetSecretValueInput, _ ...request.Option) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[aws.StringValue(in.SecretId)]
	if !ok {
		return nil, awserr.New(secretsmanager.ErrCodeResourceNotFoundException, "not found", nil)
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestEnvironmentManager(t *testing.T) {
	t.Setenv("COMPANION_TEST_SECRET", "s3cret")

	m := EnvironmentManager{}
	v, err := m.GetSecret(context.Background(), "COMPANION_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	_, err = m.GetSecret(context.Background(), "COMPANION_TEST_MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAWSSecretsManager_CachesAndPrefixes(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{"companion/JWT_SECRET": "jwt"}}
	m := NewAWSSecretsManager(api, Config{Prefix: "companion/", CacheDuration: time.Minute})

	for i := 0; i < 3; i++ {
		v, err := m.GetSecret(context.Background(), "JWT_SECRET")
		require.NoError(t, err)
		assert.Equal(t, "jwt", v)
	}
	assert.Equal(t, 1, api.calls)

	m.RefreshCache()
	_, err := m.GetSecret(context.Background(), "JWT_SECRET")
	require.NoError(t, err)
	assert.Equal(t, 2, api.calls)

	_, err = m.GetSecret(context.Background(), "STRIPE_SECRET_KEY")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAWSSecretsManager_Error(t *testing.T) {
	api := &fakeSecretsAPI{err: errors.New("throttled")}
	m := NewAWSSecretsManager(api, Config{CacheDuration: time.Minute})

	_, err := m.GetSecret(context.Background(), "JWT_SECRET")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestApply(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{
		"JWT_SECRET":            "from-aws",
		"STRIPE_WEBHOOK_SECRET": "whsec_aws",
	}}
	m := NewAWSSecretsManager(api, Config{CacheDuration: time.Minute})

	cfg := &config.Config{JWTSecret: "local", StripeSecretKey: "sk_local"}
	require.NoError(t, Apply(context.Background(), m, cfg))

	assert.Equal(t, "from-aws", cfg.JWTSecret)
	assert.Equal(t, "whsec_aws", cfg.StripeWebhookSecret)
	assert.Equal(t, "sk_local", cfg.StripeSecretKey)
}

func TestApply_PropagatesBackendErrors(t *testing.T) {
	m := NewAWSSecretsManager(&fakeSecretsAPI{err: errors.New("denied")}, Config{})
	assert.Error(t, Apply(context.Background(), m, &config.Config{}))
}

func TestNewManager(t *testing.T) {
	m, err := NewManager(Config{Backend: BackendEnv})
	require.NoError(t, err)
	assert.IsType(t, EnvironmentManager{}, m)

	_, err = NewManager(Config{Backend: "vault"})
	assert.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SECRETS_BACKEND", "")
	t.Setenv("AWS_SECRETS_MANAGER_ENABLED", "true")
	t.Setenv("AWS_REGION", "")

	cfg := ConfigFromEnv()
	assert.Equal(t, BackendAWS, cfg.Backend)
	assert.Equal(t, "us-east-1", cfg.AWSRegion)
}
