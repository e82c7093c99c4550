package httpapi

import (
	"testing"

	"transcriptget/internal/config"
	"transcriptget/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	cfg := config.Config{JWTSecretKey: "jwt-secret", JWTExpiryHours: 1}
	s := NewServer(services.New(nil, cfg), cfg)

	token, err := s.generateJWT(42, "user@example.com")
	require.NoError(t, err)

	claims, err := parseJWT(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "transcriptget", claims.Issuer)
}

func TestJWTWrongSecret(t *testing.T) {
	cfg := config.Config{JWTSecretKey: "jwt-secret", JWTExpiryHours: 1}
	s := NewServer(services.New(nil, cfg), cfg)

	token, err := s.generateJWT(42, "user@example.com")
	require.NoError(t, err)

	_, err = parseJWT(config.Config{JWTSecretKey: "other-secret"}, token)
	assert.Error(t, err)
}

func TestJWTMissingSecret(t *testing.T) {
	s := NewServer(services.New(nil, config.Config{}), config.Config{})
	_, err := s.generateJWT(1, "a@b.com")
	assert.Error(t, err)

	_, err = parseJWT(config.Config{}, "whatever")
	assert.Error(t, err)
}
