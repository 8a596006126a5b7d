package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTServiceWithSecret("secret", "aigateway", "aigateway-admin")

	token, err := svc.GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTServiceWithSecret("secret", "aigateway", "aigateway-admin")

	_, err := svc.ValidateToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewJWTServiceWithSecret("other", "aigateway", "aigateway-admin").GenerateToken("ops", time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewJWTServiceWithSecret("secret", "someone", "aigateway-admin").GenerateToken("ops", time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidIssuer)

	wrongAudience, err := NewJWTServiceWithSecret("secret", "aigateway", "billing").GenerateToken("ops", time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(wrongAudience)
	assert.ErrorIs(t, err, ErrInvalidAudience)

	_, err = NewJWTServiceWithSecret("", "aigateway", "aigateway-admin").GenerateToken("ops", time.Hour)
	assert.ErrorIs(t, err, ErrJWTSecretNotSet)
}
