package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tourtastic/tourtastic/internal/domain"
)

func TestManager_IssueAndVerify(t *testing.T) {
	manager := NewManager("test-secret", time.Hour)

	token, err := manager.Issue("user-1", "jordan@example.com", RoleUser)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := manager.Verify(token)
	assert.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "jordan@example.com", claims.Email)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestManager_Verify_WrongSecret(t *testing.T) {
	token, err := NewManager("secret-a", time.Hour).Issue("user-1", "jordan@example.com", RoleUser)
	assert.NoError(t, err)

	_, err = NewManager("secret-b", time.Hour).Verify(token)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestManager_Verify_Expired(t *testing.T) {
	manager := NewManager("test-secret", -time.Minute)

	token, err := manager.Issue("user-1", "jordan@example.com", RoleUser)
	assert.NoError(t, err)

	_, err = manager.Verify(token)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestManager_Verify_Garbage(t *testing.T) {
	manager := NewManager("test-secret", time.Hour)

	_, err := manager.Verify("not-a-token")
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}
