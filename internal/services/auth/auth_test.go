package auth_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/services/auth"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestAuthService(t *testing.T) {
	logger := events.NewDiscardLogger()
	tokenFile := filepath.Join(t.TempDir(), "auth", "token.json")

	service := auth.NewService(tokenFile, "", logger)

	t.Run("not logged in", func(t *testing.T) {
		_, err := service.Token(context.Background())
		assert.ErrorIs(t, err, models.ErrAuthFailure)
		assert.Empty(t, service.UserID())
	})

	t.Run("login with jwt", func(t *testing.T) {
		tok := signedToken(t, jwt.MapClaims{
			"sub":   "user-42",
			"email": "user@example.com",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})

		info, err := service.Login(tok, "", "")
		require.NoError(t, err)
		assert.Equal(t, "user-42", info.UserID)
		assert.Equal(t, "user@example.com", info.Email)
		assert.False(t, info.ExpiresAt.IsZero())

		got, err := service.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tok, got)
	})

	t.Run("token persistence", func(t *testing.T) {
		service2 := auth.NewService(tokenFile, "", logger)
		assert.Equal(t, "user-42", service2.UserID())

		info, err := os.Stat(tokenFile)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("logout", func(t *testing.T) {
		require.NoError(t, service.Logout())
		require.NoError(t, service.Logout())

		_, err := service.GetToken()
		assert.ErrorIs(t, err, models.ErrAuthFailure)
	})

	t.Run("opaque token", func(t *testing.T) {
		info, err := service.Login("opaque-token", "user-7", "")
		require.NoError(t, err)
		assert.True(t, info.ExpiresAt.IsZero())
		assert.Equal(t, "user-7", service.UserID())
	})

	t.Run("expired jwt rejected", func(t *testing.T) {
		tok := signedToken(t, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Minute).Unix()})
		_, err := service.Login(tok, "", "")
		assert.ErrorIs(t, err, models.ErrAuthFailure)
	})
}

func TestStaticTokenOverridesFile(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "static-user", "exp": time.Now().Add(time.Hour).Unix()})
	service := auth.NewService(filepath.Join(t.TempDir(), "token.json"), tok, events.NewDiscardLogger())

	got, err := service.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, got)
	assert.Equal(t, "static-user", service.UserID())

	expired := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	service = auth.NewService("", expired, events.NewDiscardLogger())
	_, err = service.Token(context.Background())
	assert.ErrorIs(t, err, models.ErrAuthFailure)
}

func TestStaticToken(t *testing.T) {
	got, err := auth.StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	_, err = auth.StaticToken("").Token(context.Background())
	assert.ErrorIs(t, err, models.ErrAuthFailure)
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	claims, err := auth.ParseClaims(signedToken(t, jwt.MapClaims{"sub": "u1", "exp": exp.Unix()}))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.True(t, exp.Equal(claims.ExpiresAt))

	_, err = auth.ParseClaims("not-a-jwt")
	assert.Error(t, err)
}
