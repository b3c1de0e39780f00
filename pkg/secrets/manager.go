// Package secrets resolves credentials from the environment or AWS Secrets Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
)

// Backends
const (
	BackendEnv = "env"
	BackendAWS = "aws-secrets-manager"
)

// ErrNotFound is returned when a secret has no value
var ErrNotFound = errors.New("secret not found")

// Manager defines the interface for secrets management
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)
}

// Config holds secrets manager configuration
type Config struct {
	Backend       string        // "env" or "aws-secrets-manager"
	AWSRegion     string        // AWS region for Secrets Manager
	Prefix        string        // prepended to every key looked up in AWS
	CacheDuration time.Duration // How long to cache secrets
}

// ConfigFromEnv reads SECRETS_BACKEND, AWS_REGION and SECRETS_PREFIX
func ConfigFromEnv() Config {
	cfg := Config{
		Backend:       os.Getenv("SECRETS_BACKEND"),
		AWSRegion:     os.Getenv("AWS_REGION"),
		Prefix:        os.Getenv("SECRETS_PREFIX"),
		CacheDuration: 5 * time.Minute,
	}
	if enabled, _ := strconv.ParseBool(os.Getenv("AWS_SECRETS_MANAGER_ENABLED")); enabled {
		cfg.Backend = BackendAWS
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendEnv
	}
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = "us-east-1"
	}
	return cfg
}

// NewManager creates a new secrets manager based on configuration
func NewManager(cfg Config) (Manager, error) {
	switch cfg.Backend {
	case BackendAWS, "aws":
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.AWSRegion)})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		return NewAWSSecretsManager(secretsmanager.New(sess), cfg), nil
	case BackendEnv, "environment", "":
		return EnvironmentManager{}, nil
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.Backend)
	}
}

// EnvironmentManager loads secrets from environment variables
type EnvironmentManager struct{}

// GetSecret retrieves a secret from environment variables
func (EnvironmentManager) GetSecret(ctx context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// AWSSecretsManager loads secrets from AWS Secrets Manager
type AWSSecretsManager struct {
	client secretsmanageriface.SecretsManagerAPI
	config Config

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// NewAWSSecretsManager wraps a Secrets Manager client with a per-key cache
func NewAWSSecretsManager(client secretsmanageriface.SecretsManagerAPI, cfg Config) *AWSSecretsManager {
	return &AWSSecretsManager{
		client: client,
		config: cfg,
		cache:  make(map[string]cachedSecret),
	}
}

// GetSecret retrieves a secret from AWS Secrets Manager
func (m *AWSSecretsManager) GetSecret(ctx context.Context, key string) (string, error) {
	if value, ok := m.cached(key); ok {
		return value, nil
	}

	result, err := m.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(m.config.Prefix + key),
	})
	if err != nil {
		if aerr, ok := err.(interface{ Code() string }); ok && aerr.Code() == secretsmanager.ErrCodeResourceNotFoundException {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}
	if result.SecretString == nil || *result.SecretString == "" {
		return "", fmt.Errorf("%w: %s has no string value", ErrNotFound, key)
	}

	m.mu.Lock()
	m.cache[key] = cachedSecret{value: *result.SecretString, expiresAt: time.Now().Add(m.config.CacheDuration)}
	m.mu.Unlock()

	return *result.SecretString, nil
}

// RefreshCache drops every cached secret
func (m *AWSSecretsManager) RefreshCache() {
	m.mu.Lock()
	m.cache = make(map[string]cachedSecret)
	m.mu.Unlock()
}

func (m *AWSSecretsManager) cached(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cache[key]
	if !ok || time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.value, true
}
