package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	raw, err := IssueToken(secret, "procurement", "user-1", "ADMIN", time.Hour, time.Now())
	require.NoError(t, err)

	uc, err := ParseToken(secret, "procurement", raw, nil)
	require.NoError(t, err)
	assert.Equal(t, UserContext{UserID: "user-1", Role: "ADMIN"}, uc)
}

func TestParseToken_Rejects(t *testing.T) {
	secret := []byte("test-secret")

	expired, err := IssueToken(secret, "procurement", "user-1", "BUYER", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseToken(secret, "procurement", expired, nil)
	assert.Error(t, err, "expired")

	valid, err := IssueToken(secret, "procurement", "user-1", "BUYER", time.Hour, time.Now())
	require.NoError(t, err)
	_, err = ParseToken([]byte("other"), "procurement", valid, nil)
	assert.Error(t, err, "wrong secret")

	_, err = ParseToken(secret, "someone-else", valid, nil)
	assert.Error(t, err, "wrong issuer")
}

func TestParseToken_Clock(t *testing.T) {
	secret := []byte("test-secret")
	issued := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	raw, err := IssueToken(secret, "procurement", "user-1", "BUYER", time.Hour, issued)
	require.NoError(t, err)

	uc, err := ParseToken(secret, "procurement", raw, func() time.Time { return issued.Add(59 * time.Minute) })
	require.NoError(t, err)
	assert.Equal(t, "user-1", uc.UserID)

	_, err = ParseToken(secret, "procurement", raw, func() time.Time { return issued.Add(61 * time.Minute) })
	assert.Error(t, err, "expired against the supplied clock")
}

func TestUserContext(t *testing.T) {
	_, err := GetUserContext(context.Background())
	assert.ErrorIs(t, err, ErrNoUserContext)

	ctx := WithUserContext(context.Background(), UserContext{UserID: "u", Role: "BUYER"})
	uc, err := GetUserContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u", uc.UserID)
}
