package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/autoenrol/pkg/errors"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "autoenrol", Audience: "host"})

	token, expires, err := svc.Mint("moodle-web", []string{ScopeHooks}, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "moodle-web", claims.Subject)
	assert.True(t, claims.HasScope(ScopeHooks))
	assert.False(t, claims.HasScope(ScopeOperator))
}

func TestTokenRejectsWrongSecretAndAudience(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "autoenrol", Audience: "host"})
	token, _, err := svc.Mint("cli", []string{ScopeOperator}, time.Hour)
	require.NoError(t, err)

	other := NewTokenService(TokenConfig{Secret: "other", Issuer: "autoenrol", Audience: "host"})
	_, err = other.Validate(token)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	wrongAudience := NewTokenService(TokenConfig{Secret: "secret", Issuer: "autoenrol", Audience: "elsewhere"})
	_, err = wrongAudience.Validate(token)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestTokenExpired(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret"})
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := svc.Mint("cli", nil, time.Hour)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(token)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestTokenRequiresSubject(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret"})
	_, _, err := svc.Mint(" ", nil, 0)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
