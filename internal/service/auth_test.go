package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pageza/nutrilog/backend/internal/types"
)

func newAuthService(t *testing.T) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuthService("admin", string(hash), "test-secret", time.Hour)
}

func TestLoginAndValidateToken(t *testing.T) {
	svc := newAuthService(t)

	resp, err := svc.Login("admin", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	claims, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, types.AdminScopeRead, claims.Scope)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newAuthService(t)

	_, err := svc.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login("root", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginDisabledWithoutConfiguration(t *testing.T) {
	svc := NewAuthService("", "", "", 0)
	_, err := svc.Login("admin", "s3cret")
	assert.ErrorIs(t, err, ErrAdminDisabled)
}

func TestValidateTokenInvalid(t *testing.T) {
	svc := newAuthService(t)

	claims, err := svc.ValidateToken("invalid.token")
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewAuthService("admin", string(svc.passwordHash), "other-secret", time.Hour)
	resp, err := other.Login("admin", "s3cret")
	require.NoError(t, err)
	_, err = svc.ValidateToken(resp.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenExpired(t *testing.T) {
	svc := newAuthService(t).WithClock(func() time.Time { return fixedNow })
	resp, err := svc.Login("admin", "s3cret")
	require.NoError(t, err)

	svc.WithClock(func() time.Time { return fixedNow.Add(2 * time.Hour) })
	_, err = svc.ValidateToken(resp.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}
