package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bookmark-agent/internal/types"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret-at-least-16", 24, func() time.Time { return testNow })

	token, err := svc.GenerateToken("ops")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.Admin)
}

func TestJWTService_RejectsExpiredToken(t *testing.T) {
	now := testNow
	svc := NewJWTService("test-secret-at-least-16", 1, func() time.Time { return now })

	token, err := svc.GenerateToken("ops")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = svc.ValidateToken(token)
	var unauthorized *types.ErrUnauthorized
	require.ErrorAs(t, err, &unauthorized)
}

func TestJWTService_RejectsWrongSecret(t *testing.T) {
	issuer := NewJWTService("secret-one-long-enough", 24, func() time.Time { return testNow })
	verifier := NewJWTService("secret-two-long-enough", 24, func() time.Time { return testNow })

	token, err := issuer.GenerateToken("ops")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	var unauthorized *types.ErrUnauthorized
	require.ErrorAs(t, err, &unauthorized)
}

func TestJWTService_RejectsEmptyAndGarbage(t *testing.T) {
	svc := NewJWTService("test-secret-at-least-16", 24, nil)

	var unauthorized *types.ErrUnauthorized
	_, err := svc.ValidateToken("")
	require.ErrorAs(t, err, &unauthorized)

	_, err = svc.ValidateToken("not.a.jwt")
	require.ErrorAs(t, err, &unauthorized)
}
