package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jordanlanch/companion-api/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-minimum-32-characters-long"

func setupTestRedis(t *testing.T) (*cache.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client, err := cache.NewClient("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT("user-123", "test@example.com", RoleAdmin, testSecret, 24)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "test@example.com", claims.Email)
	assert.True(t, claims.IsAdmin())
}

func TestValidateJWT_Rejects(t *testing.T) {
	valid, err := GenerateJWT("user-123", "test@example.com", RoleUser, testSecret, 24)
	require.NoError(t, err)

	expired, err := GenerateJWT("user-123", "test@example.com", RoleUser, testSecret, -1)
	require.NoError(t, err)

	noUser, err := GenerateJWT("", "test@example.com", RoleUser, testSecret, 24)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "user-123"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", valid, "another-secret-key-minimum-32-characters"},
		{"expired", expired, testSecret},
		{"missing user", noUser, testSecret},
		{"none algorithm", unsigned, testSecret},
		{"garbage", "not.a.token", testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateJWT(tt.token, tt.secret)
			assert.Error(t, err)
		})
	}
}

func TestValidateJWTWithBlacklist(t *testing.T) {
	client, mr := setupTestRedis(t)
	blacklist := NewTokenBlacklist(client)
	ctx := context.Background()

	token, err := GenerateJWT("user-123", "test@example.com", RoleUser, testSecret, 24)
	require.NoError(t, err)

	_, err = ValidateJWTWithBlacklist(ctx, token, testSecret, blacklist)
	require.NoError(t, err)

	require.NoError(t, blacklist.Add(ctx, token, time.Hour))
	_, err = ValidateJWTWithBlacklist(ctx, token, testSecret, blacklist)
	assert.ErrorContains(t, err, "revoked")

	mr.FastForward(2 * time.Hour)
	_, err = ValidateJWTWithBlacklist(ctx, token, testSecret, blacklist)
	assert.NoError(t, err)
}

func TestTokenBlacklist_StoresHashOnly(t *testing.T) {
	client, mr := setupTestRedis(t)
	blacklist := NewTokenBlacklist(client)

	require.NoError(t, blacklist.Add(context.Background(), "raw.jwt.token", time.Hour))

	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "raw.jwt.token")
	}
	assert.Len(t, mr.Keys(), 1)
}
