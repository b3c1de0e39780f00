package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jordanlanch/companion-api/pkg/auth"
	"github.com/jordanlanch/companion-api/pkg/cache"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-minimum-32-characters-long"

func serve(t *testing.T, mw echo.MiddlewareFunc, header string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	require.NoError(t, err)
	return rec, c
}

func TestJWTMiddleware(t *testing.T) {
	token, err := auth.GenerateJWT("user-1", "a@example.com", auth.RoleAdmin, testSecret, 1)
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantErr  string
	}{
		{"valid", "Bearer " + token, http.StatusOK, ""},
		{"missing", "", http.StatusUnauthorized, "missing_token"},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, "invalid_token_format"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, c := serve(t, JWTMiddleware(testSecret), tt.header)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr != "" {
				assert.Contains(t, rec.Body.String(), tt.wantErr)
				return
			}
			id, ok := UserID(c)
			assert.True(t, ok)
			assert.Equal(t, "user-1", id)
			assert.Equal(t, auth.RoleAdmin, c.Get("user_role"))
		})
	}
}

func TestJWTMiddleware_RevokedToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := cache.NewClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	blacklist := auth.NewTokenBlacklist(client)
	token, err := auth.GenerateJWT("user-1", "a@example.com", auth.RoleUser, testSecret, 1)
	require.NoError(t, err)
	require.NoError(t, blacklist.Add(context.Background(), token, time.Hour))

	rec, _ := serve(t, JWTMiddlewareWithBlacklist(testSecret, blacklist), "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "revoked")
}
