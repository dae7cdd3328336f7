package provider

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("未过期", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()})
		assert.False(t, TokenExpired(token, now))
	})

	t.Run("已过期", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()})
		assert.True(t, TokenExpired(token, now))
	})

	t.Run("即将过期视为过期", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"exp": now.Add(10 * time.Second).Unix()})
		assert.True(t, TokenExpired(token, now))
	})

	t.Run("不含 exp", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"username": "a@x.test"})
		assert.False(t, TokenExpired(token, now))
	})

	t.Run("非 JWT 令牌", func(t *testing.T) {
		assert.False(t, TokenExpired("opaque-token", now))
	})
}
