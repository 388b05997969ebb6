package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_IssueAndVerify(t *testing.T) {
	manager := NewManager([]byte("test-secret"))

	tok, expiry, err := manager.Issue("alice", []string{"/config", "/status"}, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	// Срок действия примерно через час
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), expiry, 5*time.Second)

	claims, err := manager.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, []string{"/config", "/status"}, claims.Routes)
}

func TestManager_VerifyExpired(t *testing.T) {
	manager := NewManager([]byte("test-secret"))

	// Токен с отрицательным TTL истек в момент выпуска
	tok, _, err := manager.Issue("alice", nil, -time.Minute)
	require.NoError(t, err)

	_, err = manager.Verify(tok)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestManager_VerifyWrongSecret(t *testing.T) {
	manager := NewManager([]byte("test-secret"))
	other := NewManager([]byte("other-secret"))

	tok, _, err := manager.Issue("alice", nil, time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestManager_VerifyGarbage(t *testing.T) {
	manager := NewManager([]byte("test-secret"))

	_, err := manager.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = manager.Verify("")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
