package auth

import (
	"testing"
	"time"

	"crm-backend/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *JWTManager {
	cfg := &config.Config{JWT: config.JWTConfig{Secret: "test-secret", Expiry: "1h"}}
	return NewJWTManager(cfg)
}

func TestGenerateAndVerify(t *testing.T) {
	m := testManager()
	token, err := m.GenerateToken("user-1", "ada@example.com", "authenticated")
	require.NoError(t, err)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "authenticated", claims.Role)
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	other := NewJWTManager(&config.Config{JWT: config.JWTConfig{Secret: "other"}})
	token, err := other.GenerateToken("user-1", "", "")
	require.NoError(t, err)

	_, err = testManager().VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = testManager().VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = testManager().VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
