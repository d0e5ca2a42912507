package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, issued, err := svc.GenerateToken("01HZX3J7W2", "alice", true)
	require.NoError(t, err)
	require.NotEmpty(t, issued.SessionID())

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "01HZX3J7W2", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, issued.SessionID(), claims.SessionID())
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	token, _, err := NewService("one", time.Hour).GenerateToken("u1", "bob", false)
	require.NoError(t, err)

	_, err = NewService("two", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpired(t *testing.T) {
	svc := NewService("secret", time.Minute)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := svc.GenerateToken("u1", "bob", false)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateGarbage(t *testing.T) {
	_, err := NewService("", 0).ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
